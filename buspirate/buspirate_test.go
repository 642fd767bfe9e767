// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GermanBionicSystems/bbio/buspirate/buspiratetest"
	"github.com/google/go-cmp/cmp"
)

var (
	opEnter     = buspiratetest.IO{W: []byte{0x00}, R: []byte("BBIO1")}
	opReset     = buspiratetest.IO{W: []byte{0x0F}, R: []byte{0x01}}
	opI2C       = buspiratetest.IO{W: []byte{0x02}, R: []byte("I2C1")}
	opOneWire   = buspiratetest.IO{W: []byte{0x04}, R: []byte("1W01")}
	opPowerOn   = buspiratetest.IO{W: []byte{0x48}, R: []byte{0x01}}
	opBusReset  = buspiratetest.IO{W: []byte{0x02}, R: []byte{0x01}}
	opFallback  = buspiratetest.IO{W: []byte{0x00}, R: []byte("BBIO1")}
	opOneWireUp = []buspiratetest.IO{opOneWire, opPowerOn, opBusReset}
)

// script concatenates exchanges.
func script(ops ...any) []buspiratetest.IO {
	var out []buspiratetest.IO
	for _, o := range ops {
		switch v := o.(type) {
		case buspiratetest.IO:
			out = append(out, v)
		case []buspiratetest.IO:
			out = append(out, v...)
		default:
			panic("script: unexpected type")
		}
	}
	return out
}

// testOpts returns the default options with sleeps recorded into sleeps
// instead of slept.
func testOpts(sleeps *[]time.Duration) *Opts {
	o := DefaultOpts
	o.Sleep = func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	}
	return &o
}

func TestEnter(t *testing.T) {
	a := &buspiratetest.Adapter{Deaf: 3, Stale: []byte("HiZ>")}
	b, err := Enter(a, testOpts(nil))
	if err != nil {
		t.Fatal(err)
	}
	if a.Probes != 4 {
		t.Errorf("expected 4 probes, got %d", a.Probes)
	}
	if m := a.Mode(); m != buspiratetest.BitBang {
		t.Errorf("adapter in %s mode", m)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if a.Resets != 1 || !a.Closed || a.Mode() != buspiratetest.Raw {
		t.Errorf("adapter not released: resets=%d closed=%t mode=%s", a.Resets, a.Closed, a.Mode())
	}
}

func TestEnter_sleeps(t *testing.T) {
	p := &buspiratetest.Playback{Ops: script(
		buspiratetest.IO{W: []byte{0x00}},
		opEnter,
		opReset,
	)}
	var sleeps []time.Duration
	b, err := Enter(p, testOpts(&sleeps))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{time.Millisecond, time.Millisecond, 100 * time.Millisecond}
	if diff := cmp.Diff(want, sleeps); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
}

func TestEnter_unresponsive(t *testing.T) {
	for _, attempts := range []int{0, 5} {
		a := &buspiratetest.Adapter{Deaf: -1}
		opts := testOpts(nil)
		opts.ProbeAttempts = attempts
		b, err := Enter(a, opts)
		if b != nil || !errors.Is(err, ErrUnresponsive) {
			t.Fatalf("expected ErrUnresponsive, got %v", err)
		}
		want := attempts
		if want == 0 {
			want = 25
		}
		if a.Probes != want {
			t.Errorf("expected %d probes, got %d", want, a.Probes)
		}
	}
}

func TestEnter_garbage(t *testing.T) {
	p := &buspiratetest.Playback{Ops: script(
		buspiratetest.IO{W: []byte{0x00}, R: []byte("HiZ>")},
		buspiratetest.IO{W: []byte{0x00}, R: []byte("BBIO2")},
	)}
	opts := testOpts(nil)
	opts.ProbeAttempts = 2
	_, err := Enter(p, opts)
	var cerr *CmdError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CmdError, got %v", err)
	}
	if diff := cmp.Diff([]byte("BBIO2"), cerr.Got); diff != "" {
		t.Errorf("last response (-want +got):\n%s", diff)
	}
}

func TestRun_teardownOnError(t *testing.T) {
	a := &buspiratetest.Adapter{}
	boom := errors.New("boom")
	err := Run(a, testOpts(nil), func(b *BitBang) error {
		return b.WithI2C(func(i *I2C) error {
			if err := i.Start(); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if a.Fallbacks != 1 || a.Resets != 1 || !a.Closed {
		t.Errorf("fallbacks=%d resets=%d closed=%t", a.Fallbacks, a.Resets, a.Closed)
	}
}

func TestRun_teardownOnPanic(t *testing.T) {
	a := &buspiratetest.Adapter{}
	defer func() {
		if r := recover(); r != "oops" {
			t.Fatalf("unexpected recover: %v", r)
		}
		if a.Fallbacks != 1 || a.Resets != 1 {
			t.Errorf("fallbacks=%d resets=%d", a.Fallbacks, a.Resets)
		}
		if m := a.Mode(); m != buspiratetest.Raw {
			t.Errorf("adapter left in %s mode", m)
		}
	}()
	_ = Run(a, testOpts(nil), func(b *BitBang) error {
		return b.WithOneWire(func(o *OneWire) error {
			panic("oops")
		})
	})
}

func TestRun_teardownError(t *testing.T) {
	p := &buspiratetest.Playback{Ops: script(
		opEnter,
		buspiratetest.IO{W: []byte{0x0F}, R: []byte{0x00}},
	)}
	err := Run(p, testOpts(nil), func(*BitBang) error { return nil })
	if !errors.Is(err, ErrAck) {
		t.Fatalf("expected ErrAck, got %v", err)
	}
}

func TestBitBang_busy(t *testing.T) {
	a := &buspiratetest.Adapter{}
	b, err := Enter(a, testOpts(nil))
	if err != nil {
		t.Fatal(err)
	}
	i, err := b.I2C()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.OneWire(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := b.I2C(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
	o, err := b.OneWire()
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if a.Fallbacks != 2 || a.Resets != 1 {
		t.Errorf("fallbacks=%d resets=%d", a.Fallbacks, a.Resets)
	}
}

func TestBitBang_closeOnce(t *testing.T) {
	a := &buspiratetest.Adapter{}
	b, err := Enter(a, testOpts(nil))
	if err != nil {
		t.Fatal(err)
	}
	i, err := b.I2C()
	if err != nil {
		t.Fatal(err)
	}
	// Closing the bit-bang handle tears the active mode down first.
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := i.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if a.Fallbacks != 1 || a.Resets != 1 {
		t.Errorf("fallbacks=%d resets=%d", a.Fallbacks, a.Resets)
	}
	if err := i.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := b.I2C(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestBitBang_handshake(t *testing.T) {
	p := &buspiratetest.Playback{Ops: script(
		opEnter,
		buspiratetest.IO{W: []byte{0x02}, R: []byte("I2C0")},
		opReset,
	)}
	err := Run(p, testOpts(nil), func(b *BitBang) error {
		_, err := b.I2C()
		return err
	})
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	var cerr *CmdError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CmdError, got %T", err)
	}
	if cerr.Op != "i2c mode" || string(cerr.Got) != "I2C0" {
		t.Errorf("unexpected error %#v", cerr)
	}
}

func TestBitBang_drain(t *testing.T) {
	p := &buspiratetest.Playback{
		Stale: []byte("garbage from a previous run, longer than a read"),
		Ops:   script(opEnter, opReset),
	}
	if err := Run(p, testOpts(nil), func(*BitBang) error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestCmdError(t *testing.T) {
	err := cmdErr("i2c start", []byte{0x02}, []byte{0x00, 0xFF}, ErrAck)
	const want = "i2c start: sent [02] got [00 ff]: buspirate: invalid acknowledgement"
	if s := err.Error(); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
	if !errors.Is(err, ErrAck) {
		t.Error("expected to unwrap to ErrAck")
	}
	var cerr *CmdError
	if !errors.As(err, &cerr) || cerr.BusError() {
		t.Error("ErrAck is not a bus error")
	}
	if !cmdErr("x", nil, nil, ErrNack).(*CmdError).BusError() {
		t.Error("ErrNack is a bus error")
	}
}

func TestBitBang_String(t *testing.T) {
	a := &buspiratetest.Adapter{}
	err := Run(a, testOpts(nil), func(b *BitBang) error {
		if s := b.String(); s != "BusPirate{bitbang}" {
			t.Error(s)
		}
		return b.WithI2C(func(i *I2C) error {
			if s := i.String(); !strings.Contains(s, "i2c") {
				t.Error(s)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}
