// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import (
	"fmt"

	"github.com/GermanBionicSystems/bbio/eeprom"
)

// I2CPageSize is the page size of the smallest 24Cxx EEPROMs. Larger parts
// accept it too.
const I2CPageSize = 8

// ReadEEPROM reads n bytes from the start of the 24Cxx-style EEPROM at the
// 7-bit address addr.
//
// The register pointer is set to 0 in a write, then a repeated start reads
// the bytes out.
func (i *I2C) ReadEEPROM(addr uint16, n int) (data []byte, err error) {
	if addr > 0x7F {
		return nil, fmt.Errorf("buspirate: i2c address %#x: only 7-bit addresses are supported", addr)
	}
	if err := i.Start(); err != nil {
		return nil, err
	}
	defer func() {
		if serr := i.Stop(); serr != nil && err == nil {
			data, err = nil, serr
		}
	}()
	if err := i.writeAcked([]byte{byte(addr << 1), 0x00}); err != nil {
		return nil, err
	}
	if err := i.Start(); err != nil {
		return nil, err
	}
	return i.WriteThenRead([]byte{byte(addr<<1) | 1}, n)
}

// WriteEEPROM writes data from the start of the 24Cxx-style EEPROM at addr,
// one page of pageSize bytes (I2CPageSize when pageSize <= 0) per write
// cycle.
//
// The word address is 8 bits wide; each 256-byte block is reached through
// the next device address, as 24C04 to 24C16 parts do.
func (i *I2C) WriteEEPROM(addr uint16, data []byte, pageSize int) error {
	if pageSize <= 0 {
		pageSize = I2CPageSize
	}
	if 256%pageSize != 0 {
		return fmt.Errorf("buspirate: page size %d does not divide 256: %w", pageSize, ErrLength)
	}
	off := 0
	for _, page := range eeprom.Pages(data, pageSize) {
		dev := int(addr) + off>>8
		if dev > 0x7F {
			return fmt.Errorf("buspirate: eeprom write past i2c address 0x7f: %w", ErrLength)
		}
		if err := i.writePage(byte(dev), byte(off), page); err != nil {
			return err
		}
		i.b.sleep(i.b.delays.WriteCycle)
		off += len(page)
	}
	return nil
}

func (i *I2C) writePage(dev, word byte, page []byte) (err error) {
	if err := i.Start(); err != nil {
		return err
	}
	defer func() {
		if serr := i.Stop(); serr != nil && err == nil {
			err = serr
		}
	}()
	return i.writeAcked(append([]byte{dev << 1, word}, page...))
}

// EEPROM binds the EEPROM at addr to the eeprom.Memory capability.
func (i *I2C) EEPROM(addr uint16) eeprom.Memory {
	return &i2cMemory{i: i, addr: addr}
}

// EEPROM binds the EEPROM rom to the eeprom.Memory capability.
func (o *OneWire) EEPROM(rom ROM) eeprom.Memory {
	return &oneWireMemory{o: o, rom: rom}
}

type i2cMemory struct {
	i    *I2C
	addr uint16
}

func (m *i2cMemory) ReadEEPROM(n int) ([]byte, error) {
	return m.i.ReadEEPROM(m.addr, n)
}

func (m *i2cMemory) WriteEEPROM(data []byte, pageSize int) error {
	return m.i.WriteEEPROM(m.addr, data, pageSize)
}

type oneWireMemory struct {
	o   *OneWire
	rom ROM
}

func (m *oneWireMemory) ReadEEPROM(n int) ([]byte, error) {
	return m.o.ReadEEPROM(m.rom, n)
}

func (m *oneWireMemory) WriteEEPROM(data []byte, pageSize int) error {
	return m.o.WriteEEPROM(m.rom, data, pageSize)
}
