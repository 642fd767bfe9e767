// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GermanBionicSystems/bbio/buspirate"
	"github.com/GermanBionicSystems/bbio/ds2431"
	"github.com/GermanBionicSystems/bbio/eeprom"
	"periph.io/x/conn/v3/i2c"
)

// job is one action requested on the command line.
type job struct {
	action string // scan, read or write
	// data is written by write.
	data []byte
	// n is the number of bytes read by read.
	n int
	// rom selects the 1-Wire device; the first one found when empty.
	rom string
	// driver selects the ds2431 driver instead of the raw EEPROM routines.
	driver bool
	out    io.Writer
	log    *slog.Logger
}

// newJob returns the job for action on n bytes. write takes its data from the
// file in, or an ordered pattern of n bytes when in is empty.
func newJob(action string, n int, in string) (*job, error) {
	if n < 0 {
		return nil, fmt.Errorf("-n %d is negative", n)
	}
	j := &job{action: action, n: n}
	if action != "write" {
		return j, nil
	}
	if in == "" {
		j.data = pattern(n)
		return j, nil
	}
	var err error
	if j.data, err = os.ReadFile(in); err != nil {
		return nil, err
	}
	return j, nil
}

// pattern returns n bytes counting up from 0 and wrapping at 256.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func (c *config) peripherals() buspirate.Config {
	var pc buspirate.Config
	if c.Power {
		pc = pc.PowerOn()
	}
	if c.Pullup {
		pc = pc.PullupOn()
	}
	return pc
}

// runI2C executes j on the adapter in I²C mode.
func runI2C(i *buspirate.I2C, cfg *config, j *job) error {
	pc := cfg.peripherals()
	j.log.Debug("configuring peripherals", "config", pc)
	if err := i.Configure(pc); err != nil {
		return err
	}
	if cfg.I2CSpeed != 0 {
		if err := i.SetSpeed(cfg.I2CSpeed); err != nil {
			return err
		}
	}
	switch j.action {
	case "scan":
		addrs, err := scanI2C(i)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fmt.Fprintf(j.out, "%#02x\n", a)
		}
		j.log.Info("scan complete", "devices", len(addrs))
		return nil
	case "read", "write":
		return runMemory(i.EEPROM(cfg.I2CAddr), cfg, j, slog.Any("addr", cfg.I2CAddr))
	}
	return fmt.Errorf("unknown action %q", j.action)
}

// runOneWire executes j on the adapter in 1-Wire mode.
func runOneWire(o *buspirate.OneWire, cfg *config, j *job) error {
	if cfg.Pullup {
		if err := o.Configure(cfg.peripherals()); err != nil {
			return err
		}
	}
	roms, err := o.FindDevices()
	if err != nil {
		return err
	}
	j.log.Info("found devices", "count", len(roms))
	for _, r := range roms {
		j.log.Debug("device", "rom", r.String(), "family", r.Family(), "valid", r.Valid())
	}
	if j.action == "scan" {
		for _, r := range roms {
			fmt.Fprintln(j.out, r)
		}
		return nil
	}
	if j.action != "read" && j.action != "write" {
		return fmt.Errorf("unknown action %q", j.action)
	}

	rom, err := pickROM(roms, j.rom)
	if err != nil {
		return err
	}
	var m eeprom.Memory = o.EEPROM(rom)
	if j.driver {
		d, err := ds2431.New(o, rom.Address())
		if err != nil {
			return err
		}
		m = d
	}
	return runMemory(m, cfg, j, slog.String("rom", rom.String()))
}

// pickROM returns the device named by want, or the first of roms.
func pickROM(roms []buspirate.ROM, want string) (buspirate.ROM, error) {
	if want == "" {
		if len(roms) == 0 {
			return buspirate.ROM{}, errors.New("no 1-Wire device found")
		}
		return roms[0], nil
	}
	r, err := buspirate.ParseROM(want)
	if err != nil {
		return r, err
	}
	for _, found := range roms {
		if found == r {
			return r, nil
		}
	}
	return r, fmt.Errorf("1-Wire device %s not found", r)
}

func runMemory(m eeprom.Memory, cfg *config, j *job, device slog.Attr) error {
	log := j.log.With(device)
	switch j.action {
	case "read":
		data, err := m.ReadEEPROM(j.n)
		if err != nil {
			return err
		}
		log.Info("read eeprom", "bytes", len(data))
		_, err = io.WriteString(j.out, hex.Dump(data))
		return err
	case "write":
		log.Info("writing eeprom", "bytes", len(j.data), "page", cfg.PageSize)
		if err := eeprom.Program(m, j.data, cfg.PageSize); err != nil {
			return err
		}
		log.Info("eeprom verified")
		return nil
	}
	return fmt.Errorf("unknown action %q", j.action)
}

// scanI2C returns the 7-bit addresses acknowledging their address byte.
// Reserved addresses are skipped.
func scanI2C(bus i2c.Bus) ([]uint16, error) {
	var found []uint16
	for addr := uint16(0x08); addr < 0x78; addr++ {
		d := i2c.Dev{Bus: bus, Addr: addr}
		err := d.Tx(nil, nil)
		if err == nil {
			found = append(found, addr)
			continue
		}
		var be interface{ BusError() bool }
		if errors.As(err, &be) && be.BusError() {
			continue
		}
		return found, err
	}
	return found, nil
}
