// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import "strings"

// Config is the peripheral configuration of a protocol mode: power supplies,
// pull-up resistors, AUX pin and CS pin.
//
// Each toggle returns a new value, the receiver is left untouched:
//
//	cfg := buspirate.Config(0).PowerOn().PullupOn()
type Config uint8

const (
	cfgCS     Config = 0x01
	cfgAux    Config = 0x02
	cfgPullup Config = 0x04
	cfgPower  Config = 0x08

	cfgMask Config = 0x0F
)

func (c Config) PowerOn() Config   { return c | cfgPower }
func (c Config) PowerOff() Config  { return c &^ cfgPower }
func (c Config) PullupOn() Config  { return c | cfgPullup }
func (c Config) PullupOff() Config { return c &^ cfgPullup }
func (c Config) AuxOn() Config     { return c | cfgAux }
func (c Config) AuxOff() Config    { return c &^ cfgAux }
func (c Config) CSOn() Config      { return c | cfgCS }
func (c Config) CSOff() Config     { return c &^ cfgCS }

// Byte returns the 4 configuration bits as sent to the adapter.
func (c Config) Byte() byte {
	return byte(c & cfgMask)
}

func (c Config) String() string {
	var s []string
	for _, f := range []struct {
		bit  Config
		name string
	}{{cfgPower, "power"}, {cfgPullup, "pullup"}, {cfgAux, "aux"}, {cfgCS, "cs"}} {
		if c&f.bit != 0 {
			s = append(s, f.name)
		}
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "|")
}
