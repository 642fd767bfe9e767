// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// bpeeprom reads and programs EEPROMs attached to a Bus Pirate.
//
// Usage:
//
//	bpeeprom [flags] <onewire|i2c> <scan|read|write>
//
// write programs the memory with the content of -in (or an ordered pattern
// of -n bytes), reads it back and compares.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GermanBionicSystems/bbio/buspirate"
	"github.com/GermanBionicSystems/bbio/buspiratereg"
	"github.com/mattn/go-colorable"
	"github.com/phsym/console-slog"
	"github.com/tarm/serial"
)

func mainImpl() error {
	cfgPath := flag.String("config", "", "TOML configuration file")
	adapter := flag.String("adapter", "", "name or serial port of the adapter to use; the first registered when empty")
	port := flag.String("port", "", "serial port, overrides the configuration")
	addr := flag.Uint("addr", 0, "I²C EEPROM address, overrides the configuration")
	in := flag.String("in", "", "file to write; an ordered pattern of -n bytes when empty")
	n := flag.Int("n", 1024, "number of bytes to read, or of the pattern to write")
	rom := flag.String("rom", "", "1-Wire ROM code of the EEPROM; the first found when empty")
	driver := flag.Bool("ds2431", false, "use the DS2431 memory functions instead of the raw EEPROM routines")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: bpeeprom [flags] <onewire|i2c> <scan|read|write>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		return errors.New("expected a bus and an action")
	}
	bus, action := flag.Arg(0), flag.Arg(1)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(console.NewHandler(colorable.NewColorableStderr(), &console.HandlerOptions{Level: level}))

	cfg := defaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = loadConfig(*cfgPath); err != nil {
			return err
		}
	}
	if *port != "" {
		cfg.Port = *port
		cfg.Adapters = map[string]string{}
	}
	if *addr != 0 {
		if *addr > 0x7f {
			return fmt.Errorf("-addr %#x is not a 7-bit address", *addr)
		}
		cfg.I2CAddr = uint16(*addr)
	}

	j, err := newJob(action, *n, *in)
	if err != nil {
		return err
	}
	j.rom, j.driver, j.out, j.log = *rom, *driver, os.Stdout, log

	if err := registerAdapters(&cfg); err != nil {
		return err
	}
	p, err := buspiratereg.Open(*adapter)
	if err != nil {
		return err
	}
	opts := cfg.Opts
	opts.Logger = log
	return run(p, &opts, &cfg, bus, j)
}

// run enters bit-bang mode on p and executes j on bus.
func run(p buspirate.Port, opts *buspirate.Opts, cfg *config, bus string, j *job) error {
	return buspirate.Run(p, opts, func(b *buspirate.BitBang) error {
		switch bus {
		case "onewire", "1wire":
			return b.WithOneWire(func(o *buspirate.OneWire) error {
				return runOneWire(o, cfg, j)
			})
		case "i2c":
			return b.WithI2C(func(i *buspirate.I2C) error {
				return runI2C(i, cfg, j)
			})
		}
		return fmt.Errorf("unknown bus %q", bus)
	})
}

// registerAdapters registers the configured adapters, or cfg.Port as
// "default" when there is none.
func registerAdapters(cfg *config) error {
	adapters := cfg.Adapters
	if len(adapters) == 0 {
		adapters = map[string]string{"default": cfg.Port}
	}
	for name, path := range adapters {
		if err := buspiratereg.Register(name, []string{path}, serialOpener(path, cfg)); err != nil {
			return err
		}
	}
	return nil
}

// serialOpener opens path at 8N1 with a read timeout, so reads return when
// the adapter has nothing more to say.
func serialOpener(path string, cfg *config) buspiratereg.Opener {
	c := &serial.Config{
		Name:        path,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        serial.DefaultSize,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	return func() (io.ReadWriteCloser, error) {
		p, err := serial.OpenPort(c)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return p, nil
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "bpeeprom: %s.\n", err)
		os.Exit(1)
	}
}
