// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/GermanBionicSystems/bbio/buspirate/buspiratetest"
	"github.com/GermanBionicSystems/bbio/eeprom"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

func TestBulkFrame(t *testing.T) {
	for n := 1; n <= 16; n++ {
		t.Run(fmt.Sprintf("%d", n), func(t *testing.T) {
			p := bytes.Repeat([]byte{0xA5}, n)
			f := bulkFrame(p)
			if f[0] != 0x10|byte(n-1) {
				t.Errorf("header %#02x", f[0])
			}
			if len(f) != n+1 {
				t.Errorf("frame length %d", len(f))
			}
			if !bytes.Equal(f[1:], p) {
				t.Errorf("payload [% x]", f[1:])
			}
		})
	}
}

// playI2C runs fn in I²C mode against a playback of ops.
func playI2C(t *testing.T, fn func(*I2C) error, ops ...buspiratetest.IO) error {
	t.Helper()
	p := &buspiratetest.Playback{Ops: script(opEnter, opI2C, ops, opFallback, opReset)}
	return Run(p, testOpts(nil), func(b *BitBang) error {
		return b.WithI2C(fn)
	})
}

func TestI2C_commands(t *testing.T) {
	ack := []byte{0x01}
	err := playI2C(t, func(i *I2C) error {
		if err := i.Configure(Config(0).PowerOn().PullupOn()); err != nil {
			return err
		}
		for _, f := range []func() error{i.Start, i.Ack, i.Nack, i.Stop} {
			if err := f(); err != nil {
				return err
			}
		}
		return i.SetSpeed(100 * physic.KiloHertz)
	},
		buspiratetest.IO{W: []byte{0x4C}, R: ack},
		buspiratetest.IO{W: []byte{0x02}, R: ack},
		buspiratetest.IO{W: []byte{0x06}, R: ack},
		buspiratetest.IO{W: []byte{0x07}, R: ack},
		buspiratetest.IO{W: []byte{0x03}, R: ack},
		buspiratetest.IO{W: []byte{0x62}, R: ack},
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestI2C_commandNotAcked(t *testing.T) {
	err := playI2C(t, (*I2C).Start, buspiratetest.IO{W: []byte{0x02}, R: []byte{0x00}})
	if !errors.Is(err, ErrAck) {
		t.Fatalf("expected ErrAck, got %v", err)
	}
}

func TestI2C_BulkWrite(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	var acks []Ack
	err := playI2C(t, func(i *I2C) error {
		var err error
		acks, err = i.BulkWrite(data)
		return err
	},
		buspiratetest.IO{W: append([]byte{0x1F}, data[:16]...), R: append([]byte{0x01}, make([]byte, 16)...)},
		buspiratetest.IO{W: append([]byte{0x13}, data[16:]...), R: []byte{0x01, 0x00, 0x00, 0x01, 0x00}},
	)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]Ack, 20)
	want[18] = NACK
	if diff := cmp.Diff(want, acks); diff != "" {
		t.Errorf("acks (-want +got):\n%s", diff)
	}
	if s := want[18].String() + want[0].String(); s != "NACKACK" {
		t.Error(s)
	}
}

func TestI2C_BulkWrite_invalid(t *testing.T) {
	tests := []struct {
		name string
		resp []byte
	}{
		{"short", []byte{0x01, 0x00}},
		{"not acked", []byte{0x00, 0x00, 0x00}},
		{"garbage", []byte{0x01, 0x00, 0x07}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := playI2C(t, func(i *I2C) error {
				_, err := i.BulkWrite([]byte{0xA0, 0x00})
				return err
			}, buspiratetest.IO{W: []byte{0x11, 0xA0, 0x00}, R: tt.resp})
			if !errors.Is(err, ErrAck) {
				t.Fatalf("expected ErrAck, got %v", err)
			}
		})
	}
}

func TestI2C_ReadByte(t *testing.T) {
	var got byte
	err := playI2C(t, func(i *I2C) error {
		var err error
		got, err = i.ReadByte()
		return err
	}, buspiratetest.IO{W: []byte{0x04}, R: []byte{0x5A}})
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x5A {
		t.Errorf("got %#02x", got)
	}

	err = playI2C(t, func(i *I2C) error {
		_, err := i.ReadByte()
		return err
	}, buspiratetest.IO{W: []byte{0x04}})
	if !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}
}

func TestI2C_WriteThenRead(t *testing.T) {
	var got []byte
	err := playI2C(t, func(i *I2C) error {
		var err error
		got, err = i.WriteThenRead([]byte{0xAA, 0xBB}, 3)
		return err
	}, buspiratetest.IO{
		W: []byte{0x08, 0x00, 0x02, 0x00, 0x03, 0xAA, 0xBB},
		R: []byte{0x01, 0x10, 0x20, 0x30},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x10, 0x20, 0x30}, got); diff != "" {
		t.Errorf("read (-want +got):\n%s", diff)
	}
}

func TestI2C_WriteThenRead_failed(t *testing.T) {
	tests := []struct {
		name string
		resp []byte
		want error
	}{
		{"nack", []byte{0x00}, ErrAck},
		{"short", []byte{0x01, 0x10}, ErrLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := playI2C(t, func(i *I2C) error {
				_, err := i.WriteThenRead([]byte{0xA1}, 2)
				return err
			}, buspiratetest.IO{W: []byte{0x08, 0x00, 0x01, 0x00, 0x02, 0xA1}, R: tt.resp})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestI2C_WriteThenRead_splitWrite(t *testing.T) {
	a := &buspiratetest.Adapter{}
	w := make([]byte, 5000)
	for i := range w {
		w[i] = byte(i * 7)
	}
	err := Run(a, testOpts(nil), func(b *BitBang) error {
		return b.WithI2C(func(i *I2C) error {
			got, err := i.WriteThenRead(w, 0)
			if len(got) != 0 {
				t.Errorf("read %d bytes", len(got))
			}
			return err
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(a.WriteReads) != 2 {
		t.Fatalf("expected 2 write then read commands, got %d", len(a.WriteReads))
	}
	if diff := cmp.Diff(w, append(a.WriteReads[0], a.WriteReads[1]...)); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}
	if len(a.WriteReads[0]) != 4096 {
		t.Errorf("first command wrote %d bytes", len(a.WriteReads[0]))
	}
}

func newEEPROM24(size int) *buspiratetest.EEPROM24 {
	e := &buspiratetest.EEPROM24{Addr: 0x50, Mem: make([]byte, size)}
	for i := range e.Mem {
		e.Mem[i] = byte(i ^ i>>8)
	}
	return e
}

func TestI2C_ReadEEPROM_splitRead(t *testing.T) {
	e := newEEPROM24(8192)
	a := &buspiratetest.Adapter{EEPROMs: []*buspiratetest.EEPROM24{e}}
	var got []byte
	err := Run(a, testOpts(nil), func(b *BitBang) error {
		return b.WithI2C(func(i *I2C) error {
			var err error
			got, err = i.ReadEEPROM(0x50, 5000)
			return err
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e.Mem[:5000], got); diff != "" {
		t.Errorf("read (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{0xA1}, {}}, a.WriteReads); diff != "" {
		t.Errorf("write then read payloads (-want +got):\n%s", diff)
	}
	if e.Stops != 1 {
		t.Errorf("expected one stop, got %d", e.Stops)
	}
}

func TestI2C_ReadEEPROM_sequence(t *testing.T) {
	ack := []byte{0x01}
	var got []byte
	err := playI2C(t, func(i *I2C) error {
		var err error
		got, err = i.ReadEEPROM(0x50, 2)
		return err
	},
		buspiratetest.IO{W: []byte{0x02}, R: ack},
		buspiratetest.IO{W: []byte{0x11, 0xA0, 0x00}, R: []byte{0x01, 0x00, 0x00}},
		buspiratetest.IO{W: []byte{0x02}, R: ack},
		buspiratetest.IO{W: []byte{0x08, 0x00, 0x01, 0x00, 0x02, 0xA1}, R: []byte{0x01, 0xCA, 0xFE}},
		buspiratetest.IO{W: []byte{0x03}, R: ack},
	)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xCA, 0xFE}, got); diff != "" {
		t.Errorf("read (-want +got):\n%s", diff)
	}
}

func TestI2C_EEPROM_roundTrip(t *testing.T) {
	e := newEEPROM24(512)
	a := &buspiratetest.Adapter{EEPROMs: []*buspiratetest.EEPROM24{e}}
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(0xFF - i)
	}
	var sleeps []time.Duration
	err := Run(a, testOpts(&sleeps), func(b *BitBang) error {
		return b.WithI2C(func(i *I2C) error {
			return eeprom.Program(i.EEPROM(0x50), data, 16)
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data, e.Mem[:300]); diff != "" {
		t.Errorf("memory (-want +got):\n%s", diff)
	}
	cycles := 0
	for _, d := range sleeps {
		if d == DefaultOpts.Delays.WriteCycle {
			cycles++
		}
	}
	if cycles != 19 {
		t.Errorf("expected 19 write cycles, got %d", cycles)
	}
}

func TestI2C_WriteEEPROM_invalid(t *testing.T) {
	a := &buspiratetest.Adapter{EEPROMs: []*buspiratetest.EEPROM24{newEEPROM24(256)}}
	err := Run(a, testOpts(nil), func(b *BitBang) error {
		return b.WithI2C(func(i *I2C) error {
			if err := i.WriteEEPROM(0x50, []byte{1}, 7); !errors.Is(err, ErrLength) {
				t.Errorf("expected ErrLength, got %v", err)
			}
			if err := i.WriteEEPROM(0x7F, make([]byte, 300), 0); !errors.Is(err, ErrNack) && !errors.Is(err, ErrLength) {
				t.Errorf("expected a failure, got %v", err)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestI2C_Tx(t *testing.T) {
	e := newEEPROM24(256)
	a := &buspiratetest.Adapter{EEPROMs: []*buspiratetest.EEPROM24{e}}
	err := Run(a, testOpts(nil), func(b *BitBang) error {
		return b.WithI2C(func(bus *I2C) error {
			d := i2c.Dev{Bus: bus, Addr: 0x50}
			if err := d.Tx([]byte{0x10, 0xDE, 0xAD}, nil); err != nil {
				return err
			}
			var r [4]byte
			if err := d.Tx([]byte{0x0F}, r[:]); err != nil {
				return err
			}
			if diff := cmp.Diff([]byte{e.Mem[0x0F], 0xDE, 0xAD, e.Mem[0x12]}, r[:]); diff != "" {
				t.Errorf("read (-want +got):\n%s", diff)
			}
			err := (&i2c.Dev{Bus: bus, Addr: 0x21}).Tx([]byte{0x00}, nil)
			if !errors.Is(err, ErrNack) {
				t.Errorf("expected ErrNack, got %v", err)
			}
			if err := bus.Tx(0x80, nil, nil); err == nil {
				t.Error("expected 10-bit address to fail")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Stops != 2 {
		t.Errorf("expected 2 stops, got %d", e.Stops)
	}
}

func TestI2C_SetSpeed(t *testing.T) {
	a := &buspiratetest.Adapter{}
	err := Run(a, testOpts(nil), func(b *BitBang) error {
		return b.WithI2C(func(i *I2C) error {
			if err := i.SetSpeed(physic.MegaHertz); err != nil {
				return err
			}
			if a.Speed != 3 {
				t.Errorf("speed index %d", a.Speed)
			}
			if err := i.SetSpeed(50 * physic.KiloHertz); err != nil {
				return err
			}
			if a.Speed != 1 {
				t.Errorf("speed index %d", a.Speed)
			}
			if err := i.SetSpeed(physic.KiloHertz); !errors.Is(err, ErrLength) {
				t.Errorf("expected ErrLength, got %v", err)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}
