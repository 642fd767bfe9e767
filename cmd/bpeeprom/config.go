// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/GermanBionicSystems/bbio/buspirate"
	"periph.io/x/conn/v3/physic"
)

// config is the resolved tool configuration.
type config struct {
	// Adapters maps adapter names to serial port paths.
	Adapters map[string]string
	// Port is the serial port used when no adapter is registered.
	Port        string
	Baud        int
	ReadTimeout time.Duration
	Opts        buspirate.Opts

	I2CAddr  uint16
	I2CSpeed physic.Frequency
	PageSize int
	Power    bool
	Pullup   bool
}

func defaultConfig() config {
	return config{
		Adapters:    map[string]string{},
		Port:        "/dev/ttyUSB0",
		Baud:        115200,
		ReadTimeout: 50 * time.Millisecond,
		Opts:        buspirate.DefaultOpts,
		I2CAddr:     0x50,
		PageSize:    8,
		Power:       true,
		Pullup:      true,
	}
}

type fileDelays struct {
	Probe      string `toml:"probe"`
	Command    string `toml:"command"`
	Mode       string `toml:"mode"`
	PowerUp    string `toml:"power_up"`
	WriteCycle string `toml:"write_cycle"`
}

type fileConfig struct {
	Adapters       map[string]string `toml:"adapters"`
	Port           string            `toml:"port"`
	Baud           int               `toml:"baud"`
	ReadTimeout    string            `toml:"read_timeout"`
	ProbeAttempts  int               `toml:"probe_attempts"`
	VerifyAttempts int               `toml:"verify_attempts"`
	I2CAddr        int64             `toml:"i2c_address"`
	I2CSpeed       string            `toml:"i2c_speed"`
	PageSize       int               `toml:"page_size"`
	Power          bool              `toml:"power"`
	Pullup         bool              `toml:"pullup"`
	Delays         fileDelays        `toml:"delays"`
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("adapters") {
		for name, path := range raw.Adapters {
			cfg.Adapters[strings.TrimSpace(name)] = strings.TrimSpace(path)
		}
	}
	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("read_timeout") {
		if cfg.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return config{}, err
		}
	}
	if meta.IsDefined("probe_attempts") {
		cfg.Opts.ProbeAttempts = raw.ProbeAttempts
	}
	if meta.IsDefined("verify_attempts") {
		cfg.Opts.VerifyAttempts = raw.VerifyAttempts
	}
	if meta.IsDefined("i2c_address") {
		if raw.I2CAddr < 0 || raw.I2CAddr > 0x7f {
			return config{}, fmt.Errorf("parse i2c_address: %#x is not a 7-bit address", raw.I2CAddr)
		}
		cfg.I2CAddr = uint16(raw.I2CAddr)
	}
	if meta.IsDefined("i2c_speed") {
		if err := cfg.I2CSpeed.Set(strings.TrimSpace(raw.I2CSpeed)); err != nil {
			return config{}, fmt.Errorf("parse i2c_speed: %w", err)
		}
	}
	if meta.IsDefined("page_size") {
		cfg.PageSize = raw.PageSize
	}
	if meta.IsDefined("power") {
		cfg.Power = raw.Power
	}
	if meta.IsDefined("pullup") {
		cfg.Pullup = raw.Pullup
	}

	delays := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"probe", raw.Delays.Probe, &cfg.Opts.Delays.Probe},
		{"command", raw.Delays.Command, &cfg.Opts.Delays.Command},
		{"mode", raw.Delays.Mode, &cfg.Opts.Delays.Mode},
		{"power_up", raw.Delays.PowerUp, &cfg.Opts.Delays.PowerUp},
		{"write_cycle", raw.Delays.WriteCycle, &cfg.Opts.Delays.WriteCycle},
	}
	for _, d := range delays {
		if !meta.IsDefined("delays", d.key) {
			continue
		}
		if *d.dst, err = parseDuration("delays."+d.key, d.raw); err != nil {
			return config{}, err
		}
	}
	return cfg, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}
