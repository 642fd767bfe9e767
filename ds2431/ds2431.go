// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2431 controls a Maxim DS2431 1024-bit 1-Wire EEPROM.
//
// Unlike the raw Bus Pirate EEPROM routines, this driver uses the device
// memory functions end to end: memory is read with Read Memory from any
// address and every scratchpad transfer is checked against the device CRC16.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2431.pdf
package ds2431

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/bbio/common"
	"github.com/GermanBionicSystems/bbio/eeprom"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Family code of the DS2431.
const Family = 0x2d

const (
	// Size is the size of the main memory in bytes.
	Size = 128
	// RowSize is the size of the scratchpad; memory is written one row at a
	// time.
	RowSize = 8
)

// Memory function commands, datasheet p.7.
const (
	cmdWriteScratchpad = 0x0f
	cmdReadScratchpad  = 0xaa
	cmdCopyScratchpad  = 0x55
	cmdReadMemory      = 0xf0
)

// E/S register flags.
const (
	esPartial = 0x20
	esOffset  = 0x07
)

// New returns an object that communicates over 1-wire to the DS2431 with the
// specified 64-bit address.
func New(o onewire.Bus, addr onewire.Address) (*Dev, error) {
	if f := byte(addr & 0xff); f != Family {
		return nil, fmt.Errorf("ds2431: unexpected family code %#02x", f)
	}
	return &Dev{onewire: onewire.Dev{Bus: o, Addr: addr}}, nil
}

// Dev is a handle to a DS2431 EEPROM on a 1-wire bus.
type Dev struct {
	onewire onewire.Dev
}

func (d *Dev) String() string {
	return "DS2431{" + d.onewire.String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// ReadMemory reads n bytes of memory starting at addr.
func (d *Dev) ReadMemory(addr uint16, n int) ([]byte, error) {
	if int(addr)+n > Size {
		return nil, fmt.Errorf("ds2431: read of %d bytes at %#04x past end of memory", n, addr)
	}
	data := make([]byte, n)
	if n == 0 {
		return data, nil
	}
	if err := d.onewire.Tx([]byte{cmdReadMemory, byte(addr), byte(addr >> 8)}, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadEEPROM implements eeprom.Memory.
func (d *Dev) ReadEEPROM(n int) ([]byte, error) {
	return d.ReadMemory(0, n)
}

// WriteEEPROM implements eeprom.Memory.
//
// The device only commits whole rows, so pageSize must be RowSize (or <= 0).
// A partial last row is completed with the bytes currently in memory.
func (d *Dev) WriteEEPROM(data []byte, pageSize int) error {
	if pageSize <= 0 {
		pageSize = RowSize
	}
	if pageSize != RowSize {
		return fmt.Errorf("ds2431: page size must be %d, got %d", RowSize, pageSize)
	}
	if len(data) > Size {
		return fmt.Errorf("ds2431: %d bytes do not fit in %d bytes of memory", len(data), Size)
	}
	for i, row := range eeprom.Pages(data, RowSize) {
		ta := uint16(i * RowSize)
		if len(row) < RowSize {
			cur, err := d.ReadMemory(ta, RowSize)
			if err != nil {
				return err
			}
			full := make([]byte, RowSize)
			copy(full, cur)
			copy(full, row)
			row = full
		}
		if err := d.WriteRow(ta, row); err != nil {
			return err
		}
	}
	return nil
}

// WriteRow writes the 8 bytes of row at target address ta, which must be row
// aligned.
//
// The row is written to the scratchpad, read back and verified, then copied
// to memory. The bus is held in strong pull-up mode while the device
// programs its memory.
func (d *Dev) WriteRow(ta uint16, row []byte) error {
	if len(row) != RowSize || ta%RowSize != 0 || ta >= Size {
		return errors.New("ds2431: invalid row")
	}
	w := append([]byte{cmdWriteScratchpad, byte(ta), byte(ta >> 8)}, row...)
	var crc [2]byte
	if err := d.onewire.Tx(w, crc[:]); err != nil {
		return err
	}
	if !common.CheckCRC16(w, crc) {
		return busError("ds2431: incorrect write scratchpad CRC")
	}

	es, err := d.verifyScratchpad(ta, row)
	if err != nil {
		return err
	}

	if err := d.onewire.TxPower([]byte{cmdCopyScratchpad, byte(ta), byte(ta >> 8), es}, nil); err != nil {
		return err
	}
	// Wait for the copy to complete.
	sleep(10 * time.Millisecond)
	return nil
}

// verifyScratchpad reads the scratchpad back and checks it holds row for ta.
// It returns the E/S byte authorizing the copy.
func (d *Dev) verifyScratchpad(ta uint16, row []byte) (byte, error) {
	// TA1, TA2, E/S, data, inverted CRC16.
	var spad [3 + RowSize + 2]byte
	if err := d.onewire.Tx([]byte{cmdReadScratchpad}, spad[:]); err != nil {
		return 0, err
	}
	if !common.CheckCRC16(append([]byte{cmdReadScratchpad}, spad[:3+RowSize]...), [2]byte{spad[11], spad[12]}) {
		for _, s := range spad {
			if s != 0xff {
				return 0, busError("ds2431: incorrect read scratchpad CRC")
			}
		}
		return 0, busError("ds2431: device did not respond")
	}
	es := spad[2]
	switch {
	case uint16(spad[0])|uint16(spad[1])<<8 != ta:
		return 0, busError("ds2431: scratchpad target address mismatch")
	case es&esPartial != 0 || es&esOffset != RowSize-1:
		return 0, busError("ds2431: scratchpad partially written")
	}
	for i, b := range spad[3 : 3+RowSize] {
		if b != row[i] {
			return 0, busError(fmt.Sprintf("ds2431: scratchpad mismatch at %#04x", int(ta)+i))
		}
	}
	return es, nil
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ eeprom.Memory = &Dev{}
