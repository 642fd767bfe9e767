// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspiratetest

import (
	"bytes"
	"sync"

	"github.com/GermanBionicSystems/bbio/common"
)

// Mode is the state of the simulated adapter.
type Mode int

const (
	Raw Mode = iota
	BitBang
	I2C
	OneWire
)

func (m Mode) String() string {
	switch m {
	case Raw:
		return "raw"
	case BitBang:
		return "bitbang"
	case I2C:
		return "i2c"
	case OneWire:
		return "1wire"
	default:
		return "unknown"
	}
}

// Adapter implements buspirate.Port and simulates the adapter's binary mode
// with memories attached to its buses.
//
// Replies are queued as soon as a complete command was written. Read returns
// 0 bytes when nothing is pending.
type Adapter struct {
	mu sync.Mutex

	// Deaf is the number of probes ignored before the adapter answers
	// "BBIO1". A negative value never answers.
	Deaf int
	// Stale is returned by Read before anything is written.
	Stale []byte
	// EEPROMs on the I²C bus.
	EEPROMs []*EEPROM24
	// Devices on the 1-Wire bus, in search order.
	Devices []*DS2431

	// Probes counts the 0x00 bytes received in raw mode.
	Probes int
	// Fallbacks counts protocol to bit-bang transitions.
	Fallbacks int
	// Resets counts full resets out of bit-bang mode.
	Resets int
	// Config is the last peripheral configuration received.
	Config byte
	// Speed is the last I²C speed index received.
	Speed byte
	// WriteReads records the write payload of each I²C write then read
	// command.
	WriteReads [][]byte
	// Closed is set by Close.
	Closed bool

	mode    Mode
	in      []byte
	out     []byte
	started bool

	i2c i2cState
	ow  owState
}

// Mode returns the current state of the simulated adapter.
func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Write implements io.Writer.
func (a *Adapter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.in = append(a.in, p...)
	for len(a.in) != 0 {
		n := a.step()
		if n == 0 {
			break
		}
		a.in = a.in[n:]
	}
	return len(p), nil
}

// Read implements io.Reader.
func (a *Adapter) Read(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		a.started = true
		a.out = append(append([]byte{}, a.Stale...), a.out...)
	}
	n := copy(p, a.out)
	a.out = a.out[n:]
	return n, nil
}

// Close implements io.Closer.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Closed = true
	return nil
}

func (a *Adapter) reply(b ...byte) {
	a.out = append(a.out, b...)
}

// step handles the command at the start of a.in and returns the number of
// bytes consumed, 0 if the command is not complete yet.
func (a *Adapter) step() int {
	c := a.in[0]
	switch a.mode {
	case Raw:
		if c == 0x00 {
			a.Probes++
			if a.Deaf >= 0 && a.Probes > a.Deaf {
				a.mode = BitBang
				a.reply([]byte("BBIO1")...)
			}
		}
		return 1
	case BitBang:
		switch c {
		case 0x00:
			a.reply([]byte("BBIO1")...)
		case 0x0F:
			a.Resets++
			a.mode = Raw
			a.reply(0x01)
		case 0x02:
			a.mode = I2C
			a.i2c = i2cState{}
			a.reply([]byte("I2C1")...)
		case 0x04:
			a.mode = OneWire
			a.ow = owState{}
			a.reply([]byte("1W01")...)
		}
		return 1
	case I2C:
		return a.stepI2C()
	case OneWire:
		return a.stepOneWire()
	}
	return 1
}

func (a *Adapter) fallback() {
	a.Fallbacks++
	a.mode = BitBang
	a.reply([]byte("BBIO1")...)
}

//

// EEPROM24 is a 24Cxx-style I²C EEPROM. Each 256 bytes of Mem answer on the
// next device address after Addr.
type EEPROM24 struct {
	Addr uint16
	Mem  []byte
	// Stops counts the stop conditions ending a transaction with it.
	Stops int
}

type i2cState struct {
	started  bool
	dev      *EEPROM24
	read     bool
	wantWord bool
	block    int
	ptr      int
}

func (a *Adapter) stepI2C() int {
	c := a.in[0]
	s := &a.i2c
	switch {
	case c == 0x00:
		a.fallback()
	case c == 0x02:
		s.started, s.dev = true, nil
		a.reply(0x01)
	case c == 0x03:
		if s.dev != nil {
			s.dev.Stops++
		}
		s.started, s.dev = false, nil
		a.reply(0x01)
	case c == 0x04:
		a.reply(a.i2cRead())
	case c == 0x06 || c == 0x07:
		a.reply(0x01)
	case c == 0x08:
		if len(a.in) < 5 {
			return 0
		}
		wl := int(a.in[1])<<8 | int(a.in[2])
		rl := int(a.in[3])<<8 | int(a.in[4])
		if len(a.in) < 5+wl {
			return 0
		}
		payload := append([]byte{}, a.in[5:5+wl]...)
		a.WriteReads = append(a.WriteReads, payload)
		for _, b := range payload {
			a.i2cWrite(b)
		}
		a.reply(0x01)
		for range rl {
			a.reply(a.i2cRead())
		}
		return 5 + wl
	case c&0xF0 == 0x10:
		n := int(c&0x0F) + 1
		if len(a.in) < 1+n {
			return 0
		}
		a.reply(0x01)
		for _, b := range a.in[1 : 1+n] {
			if a.i2cWrite(b) {
				a.reply(0x00)
			} else {
				a.reply(0x01)
			}
		}
		return 1 + n
	case c&0xF0 == 0x40:
		a.Config = c & 0x0F
		a.reply(0x01)
	case c&0xF0 == 0x60:
		a.Speed = c & 0x0F
		a.reply(0x01)
	}
	return 1
}

// i2cWrite clocks b out on the bus and returns whether it was acknowledged.
func (a *Adapter) i2cWrite(b byte) bool {
	s := &a.i2c
	if s.started && s.dev == nil {
		s.started = false
		for _, d := range a.EEPROMs {
			blocks := (len(d.Mem) + 255) / 256
			if addr := uint16(b >> 1); addr >= d.Addr && addr < d.Addr+uint16(blocks) {
				s.dev = d
				s.read = b&1 == 1
				s.wantWord = !s.read
				s.block = int(addr - d.Addr)
				return true
			}
		}
		return false
	}
	if s.dev == nil || s.read {
		return false
	}
	if s.wantWord {
		s.wantWord = false
		s.ptr = s.block*256 + int(b)
		return true
	}
	s.dev.Mem[s.ptr%len(s.dev.Mem)] = b
	s.ptr++
	return true
}

func (a *Adapter) i2cRead() byte {
	s := &a.i2c
	if s.dev == nil || !s.read {
		return 0xFF
	}
	b := s.dev.Mem[s.ptr%len(s.dev.Mem)]
	s.ptr++
	return b
}

//

// DS2431 is a DS243x-style 1-Wire EEPROM with an 8-byte scratchpad.
//
// Like the real device it sends the inverted CRC16 of the transfer after a
// scratchpad write and after the scratchpad content.
type DS2431 struct {
	ROM [8]byte
	Mem []byte
	// Alarm makes the device answer alarm searches.
	Alarm bool
	// CorruptEchoes is the number of scratchpad read backs to corrupt.
	CorruptEchoes int
	// Copies counts the scratchpad copies to Mem.
	Copies int

	scratch []byte
	ta      uint16
	es      byte
}

type owPhase int

const (
	owIdle owPhase = iota
	owROM
	owMatch
	owFunction
	owWriteScratch
	owReadScratch
	owCopy
	owReadAddr
	owReadMem
)

type owState struct {
	phase owPhase
	dev   *DS2431
	buf   []byte
	ptr   int
}

func (a *Adapter) stepOneWire() int {
	c := a.in[0]
	s := &a.ow
	switch {
	case c == 0x00:
		a.fallback()
	case c == 0x02:
		*s = owState{phase: owROM}
		a.reply(0x01)
	case c == 0x04:
		a.reply(a.owRead())
	case c == 0x08 || c == 0x09:
		a.reply(0x01)
		for _, d := range a.Devices {
			if c == 0x08 || d.Alarm {
				a.reply(d.ROM[:]...)
			}
		}
		a.reply(bytes.Repeat([]byte{0xFF}, 8)...)
		*s = owState{}
	case c&0xF0 == 0x10:
		n := int(c&0x0F) + 1
		if len(a.in) < 1+n {
			return 0
		}
		a.reply(0x01)
		for _, b := range a.in[1 : 1+n] {
			a.owWrite(b)
			a.reply(0x01)
		}
		return 1 + n
	case c&0xF0 == 0x40:
		a.Config = c & 0x0F
		a.reply(0x01)
	}
	return 1
}

func (a *Adapter) owWrite(b byte) {
	s := &a.ow
	switch s.phase {
	case owROM:
		if b == 0x55 {
			s.phase, s.buf = owMatch, nil
		} else {
			s.phase = owIdle
		}
	case owMatch:
		s.buf = append(s.buf, b)
		if len(s.buf) < 8 {
			return
		}
		s.phase = owIdle
		for _, d := range a.Devices {
			if bytes.Equal(d.ROM[:], s.buf) {
				s.dev, s.phase, s.ptr = d, owFunction, 0
			}
		}
		s.buf = nil
	case owFunction:
		switch b {
		case 0x0F:
			s.phase, s.ptr = owWriteScratch, 0
		case 0xAA:
			s.phase = owReadScratch
			d := s.dev
			s.buf = append([]byte{byte(d.ta), byte(d.ta >> 8), d.es}, d.scratch...)
			crc := crc16(append([]byte{b}, s.buf...))
			if d.CorruptEchoes > 0 && len(d.scratch) != 0 {
				d.CorruptEchoes--
				s.buf[len(s.buf)-1] ^= 0x80
			}
			s.buf = append(s.buf, crc...)
		case 0x55:
			s.phase = owCopy
		case 0xF0:
			s.phase = owReadAddr
		default:
			s.phase = owIdle
		}
	case owWriteScratch:
		s.buf = append(s.buf, b)
		d := s.dev
		if len(s.buf) >= 2 {
			d.ta = uint16(s.buf[0]) | uint16(s.buf[1])<<8
			d.scratch = append([]byte{}, s.buf[2:]...)
			d.es = byte(int(d.ta&7) + len(d.scratch) - 1)
		}
	case owCopy:
		s.buf = append(s.buf, b)
		if len(s.buf) < 3 {
			return
		}
		d := s.dev
		if bytes.Equal(s.buf, []byte{byte(d.ta), byte(d.ta >> 8), d.es}) {
			copy(d.Mem[int(d.ta):], d.scratch)
			d.Copies++
		}
		s.phase, s.buf = owIdle, nil
	case owReadAddr:
		s.buf = append(s.buf, b)
		if len(s.buf) == 2 {
			s.ptr = int(s.buf[0]) | int(s.buf[1])<<8
			s.phase, s.buf = owReadMem, nil
		}
	}
}

func (a *Adapter) owRead() byte {
	s := &a.ow
	switch s.phase {
	case owFunction, owReadMem:
		b := s.dev.Mem[s.ptr%len(s.dev.Mem)]
		s.ptr++
		return b
	case owWriteScratch:
		crc := crc16(append([]byte{0x0F}, s.buf...))
		if s.ptr >= len(crc) {
			return 0xFF
		}
		s.ptr++
		return crc[s.ptr-1]
	case owReadScratch:
		if len(s.buf) == 0 {
			return 0xFF
		}
		b := s.buf[0]
		s.buf = s.buf[1:]
		return b
	}
	return 0xFF
}

// crc16 returns the CRC16 as sent by the device after b.
func crc16(b []byte) []byte {
	c := ^common.CRC16(b)
	return []byte{byte(c), byte(c >> 8)}
}
