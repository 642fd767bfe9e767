// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package eeprom defines the memory capability implemented by the EEPROM
// drivers of this module, independently of the bus they sit on.
//
// Callers program against Memory and never against the protocol: the same
// code reads a 24Cxx behind an I²C bus or a DS2431 behind a 1-Wire bus.
package eeprom

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrMismatch is returned by Program when the memory does not read back what
// was written.
var ErrMismatch = errors.New("eeprom: memory doesn't match; write failed")

// Memory is a byte addressable non-volatile memory of one device.
//
// The device address is bound when the Memory is created. Reads and writes
// start at memory address 0.
type Memory interface {
	// ReadEEPROM reads n bytes.
	ReadEEPROM(n int) ([]byte, error)
	// WriteEEPROM writes data one page at a time. A pageSize <= 0 selects
	// the device's native page size.
	WriteEEPROM(data []byte, pageSize int) error
}

// Pages splits data into consecutive chunks of at most size bytes.
//
// The chunks alias data. It panics if size is not positive.
func Pages(data []byte, size int) [][]byte {
	if size <= 0 {
		panic("eeprom: invalid page size")
	}
	out := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		out = append(out, data[:size:size])
		data = data[size:]
	}
	if len(data) != 0 {
		out = append(out, data[:len(data):len(data)])
	}
	return out
}

// Program writes data into m then reads it back and compares.
func Program(m Memory, data []byte, pageSize int) error {
	if err := m.WriteEEPROM(data, pageSize); err != nil {
		return err
	}
	got, err := m.ReadEEPROM(len(data))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		i := 0
		for i < len(got) && got[i] == data[i] {
			i++
		}
		return fmt.Errorf("%w: first difference at offset %d", ErrMismatch, i)
	}
	return nil
}
