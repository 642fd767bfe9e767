// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/GermanBionicSystems/bbio/eeprom"
	"periph.io/x/conn/v3/onewire"
)

// 1-Wire mode command bytes.
const (
	owReset       = 0x02
	owRead        = 0x04
	owSearch      = 0x08
	owAlarmSearch = 0x09
	owPowerOn     = 0x48
	owMaxBulk     = 4
)

// 1-Wire ROM and DS243x memory function commands, sent through RawWrite.
const (
	romMatch         = 0x55
	memWriteScratch  = 0x0F
	memReadScratch   = 0xAA
	memCopyScratch   = 0x55
	accessCodeLength = 3 // TA1, TA2, E/S

	// OneWirePageSize is the scratchpad size of DS243x EEPROMs.
	OneWirePageSize = 8
)

var searchDone = bytes.Repeat([]byte{0xFF}, 8)

// ROM is the 64-bit ROM code of a 1-Wire device, in bus order: family code
// first, CRC last.
type ROM [8]byte

// ROMFromAddress converts a periph onewire address.
func ROMFromAddress(a onewire.Address) ROM {
	var r ROM
	binary.LittleEndian.PutUint64(r[:], uint64(a))
	return r
}

// ParseROM parses a ROM code written as 16 hex digits in bus order, as
// printed by ROM.String; dots are ignored.
func ParseROM(s string) (ROM, error) {
	var r ROM
	b, err := hex.DecodeString(strings.ReplaceAll(s, ".", ""))
	if err != nil || len(b) != len(r) {
		return r, fmt.Errorf("buspirate: invalid ROM code %q", s)
	}
	copy(r[:], b)
	return r, nil
}

// Address returns the ROM code as used by periph.io/x/conn/v3/onewire.
func (r ROM) Address() onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(r[:]))
}

// Family returns the device family code.
func (r ROM) Family() byte {
	return r[0]
}

// Valid returns true if the ROM code's CRC checks out.
func (r ROM) Valid() bool {
	return onewire.CheckCRC(r[:])
}

func (r ROM) String() string {
	return fmt.Sprintf("%02x.%012x.%02x", r[0], r[1:7], r[7])
}

// OneWire is the adapter in 1-Wire mode. It borrows the BitBang it was
// created from until Close.
//
// OneWire implements onewire.BusCloser so periph device drivers can be used
// through the adapter.
type OneWire struct {
	b      *BitBang
	closed bool
}

// OneWire switches the adapter to 1-Wire mode, powers the bus, waits for it
// to settle and resets it.
func (b *BitBang) OneWire() (*OneWire, error) {
	if err := b.acquire("onewire"); err != nil {
		return nil, err
	}
	if err := b.enter("1wire mode", cmdOneWire, tagOneWire); err != nil {
		return nil, err
	}
	o := &OneWire{b: b}
	b.active = o
	err := b.expect("1wire power on", []byte{owPowerOn}, b.delays.Command, []byte{ackOK})
	if err == nil {
		b.sleep(b.delays.PowerUp)
		err = o.Reset()
	}
	if err != nil {
		return nil, errors.Join(err, o.Close())
	}
	return o, nil
}

// WithOneWire switches to 1-Wire mode, calls fn and always falls back to
// bit-bang mode afterward, even when fn fails or panics.
func (b *BitBang) WithOneWire(fn func(*OneWire) error) (err error) {
	o, err := b.OneWire()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := o.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(o)
}

func (o *OneWire) String() string {
	return "BusPirate{1wire}"
}

// Close falls back to bit-bang mode. It is attempted once; subsequent calls
// return nil.
func (o *OneWire) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.b.leave("1wire")
}

// Configure sets the peripheral configuration.
func (o *OneWire) Configure(c Config) error {
	if o.closed {
		return ErrClosed
	}
	return o.b.expect("1wire configure", []byte{cmdConfigure | c.Byte()}, o.b.delays.Command, []byte{ackOK})
}

// Reset issues a bus reset. It must precede every new transaction sequence.
func (o *OneWire) Reset() error {
	if o.closed {
		return ErrClosed
	}
	return o.b.expect("1wire reset", []byte{owReset}, o.b.delays.Command, []byte{ackOK})
}

// FindDevices runs the adapter's ROM search and returns the ROM codes found,
// in discovery order.
func (o *OneWire) FindDevices() ([]ROM, error) {
	return o.search("1wire search", owSearch)
}

func (o *OneWire) search(op string, cmd byte) ([]ROM, error) {
	if o.closed {
		return nil, ErrClosed
	}
	b := o.b
	if err := b.expect(op, []byte{cmd}, b.delays.Mode, []byte{ackOK}); err != nil {
		return nil, err
	}
	b.sleep(b.delays.Mode)
	var roms []ROM
	for {
		resp, err := b.read(8)
		if err != nil {
			return roms, cmdErr(op, []byte{cmd}, resp, err)
		}
		b.log.Debug(op, "resp", hexs(resp))
		if len(resp) != 8 || bytes.Equal(resp, searchDone) {
			return roms, nil
		}
		var r ROM
		copy(r[:], resp)
		roms = append(roms, r)
	}
}

// RawWrite writes p on the bus in frames of up to 4 bytes. Every byte must
// be acknowledged.
func (o *OneWire) RawWrite(p []byte) error {
	if o.closed {
		return ErrClosed
	}
	b := o.b
	b.log.Debug("1wire write", "data", hexs(p))
	if err := b.drain(); err != nil {
		return err
	}
	for len(p) > 0 {
		n := min(len(p), owMaxBulk)
		frame := bulkFrame(p[:n])
		resp, err := b.exchange("1wire bulk write", frame, b.delays.Mode, n+1)
		if err != nil {
			return err
		}
		if len(resp) != n+1 || bytes.Count(resp, []byte{ackOK}) != n+1 {
			return cmdErr("1wire bulk write", frame, resp, ErrAck)
		}
		p = p[n:]
	}
	return nil
}

// BulkRead reads n bytes from the bus, one read command per byte.
func (o *OneWire) BulkRead(n int) ([]byte, error) {
	if o.closed {
		return nil, ErrClosed
	}
	if n < 0 {
		return nil, fmt.Errorf("buspirate: 1wire read of %d bytes: %w", n, ErrLength)
	}
	b := o.b
	out := make([]byte, 0, n)
	for range n {
		resp, err := b.exchange("1wire read", []byte{owRead}, b.delays.Command, 1)
		if err != nil {
			return out, err
		}
		if len(resp) != 1 {
			return out, cmdErr("1wire read", []byte{owRead}, resp, ErrLength)
		}
		out = append(out, resp[0])
	}
	return out, nil
}

// Select addresses the device rom with a Match ROM command.
func (o *OneWire) Select(rom ROM) error {
	return o.RawWrite(append([]byte{romMatch}, rom[:]...))
}

// Tx implements onewire.Bus. The bus is reset, w written and len(r) bytes
// read. The bus is always powered in this mode so power is ignored.
func (o *OneWire) Tx(w, r []byte, power onewire.Pullup) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	if err := o.Reset(); err != nil {
		return err
	}
	if len(w) != 0 {
		if err := o.RawWrite(w); err != nil {
			return err
		}
	}
	if len(r) != 0 {
		data, err := o.BulkRead(len(r))
		if err != nil {
			return err
		}
		copy(r, data)
	}
	return nil
}

// Search implements onewire.Bus.
func (o *OneWire) Search(alarmOnly bool) ([]onewire.Address, error) {
	var roms []ROM
	var err error
	if alarmOnly {
		roms, err = o.search("1wire alarm search", owAlarmSearch)
	} else {
		roms, err = o.FindDevices()
	}
	addrs := make([]onewire.Address, len(roms))
	for i, r := range roms {
		addrs[i] = r.Address()
	}
	return addrs, err
}

// WriteEEPROM writes data from memory address 0 of the DS243x-style EEPROM
// rom, one page of pageSize bytes at a time (OneWirePageSize when pageSize
// <= 0). A page can't be larger than the scratchpad.
//
// Each page goes through the device scratchpad: it is written, read back and
// compared, then copied to memory with the access code the device echoed. A
// page whose echo does not match is rewritten up to Opts.VerifyAttempts
// times in total.
func (o *OneWire) WriteEEPROM(rom ROM, data []byte, pageSize int) error {
	if pageSize <= 0 {
		pageSize = OneWirePageSize
	}
	if pageSize > OneWirePageSize {
		return fmt.Errorf("buspirate: page of %d bytes exceeds the %d bytes scratchpad: %w", pageSize, OneWirePageSize, ErrLength)
	}
	addr := 0
	for _, page := range eeprom.Pages(data, pageSize) {
		if addr+len(page) > 0x10000 {
			return fmt.Errorf("buspirate: eeprom write past address 0xffff: %w", ErrLength)
		}
		b := o.b
		b.log.Debug("writing eeprom page", "addr", addr, "data", hexs(page))
		access, err := o.stagePage(rom, uint16(addr), page)
		if err != nil {
			return err
		}
		if err := o.Reset(); err != nil {
			return err
		}
		b.sleep(b.delays.Command)
		if err := o.Select(rom); err != nil {
			return err
		}
		if err := o.RawWrite(append([]byte{memCopyScratch}, access...)); err != nil {
			return err
		}
		if err := o.Reset(); err != nil {
			return err
		}
		b.sleep(b.delays.Command)
		addr += len(page)
	}
	return nil
}

// stagePage writes page into the scratchpad of rom at target address ta and
// verifies it, retrying on mismatch. It returns the access code authorizing
// the copy.
func (o *OneWire) stagePage(rom ROM, ta uint16, page []byte) ([]byte, error) {
	b := o.b
	var access, echo []byte
	for attempt := 1; ; attempt++ {
		if err := o.Select(rom); err != nil {
			return nil, err
		}
		if err := o.RawWrite(append([]byte{memWriteScratch, byte(ta), byte(ta >> 8)}, page...)); err != nil {
			return nil, err
		}
		b.sleep(b.delays.Command)
		if err := o.Reset(); err != nil {
			return nil, err
		}
		b.sleep(b.delays.Command)
		if err := o.Select(rom); err != nil {
			return nil, err
		}
		if err := o.RawWrite([]byte{memReadScratch}); err != nil {
			return nil, err
		}
		var err error
		if access, err = o.BulkRead(accessCodeLength); err != nil {
			return nil, err
		}
		if echo, err = o.BulkRead(len(page)); err != nil {
			return nil, err
		}
		b.log.Debug("read scratchpad", "access", hexs(access), "data", hexs(echo))
		if bytes.Equal(echo, page) {
			return access, nil
		}
		if attempt >= b.opts.VerifyAttempts {
			return nil, cmdErr("1wire verify scratchpad", page, echo, fmt.Errorf("%w at address %#04x after %d attempts", ErrVerify, ta, attempt))
		}
		b.log.Warn("scratchpad mismatch, rewriting page", "addr", ta, "attempt", attempt, "want", hexs(page), "got", hexs(echo))
		if err := o.Reset(); err != nil {
			return nil, err
		}
		b.sleep(b.delays.Command)
	}
}

// ReadEEPROM selects rom and reads n bytes from it.
func (o *OneWire) ReadEEPROM(rom ROM, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("buspirate: 1wire read of %d bytes: %w", n, ErrLength)
	}
	if err := o.Select(rom); err != nil {
		return nil, err
	}
	data, err := o.BulkRead(n)
	if err != nil {
		return nil, err
	}
	if err := o.Reset(); err != nil {
		return nil, err
	}
	return data, nil
}

var _ onewire.BusCloser = &OneWire{}
