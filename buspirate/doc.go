// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package buspirate drives a Bus Pirate in binary bit-bang mode over a serial
// link and exposes its I²C and 1-Wire modes.
//
// # Modes
//
// The adapter is a state machine and every state is a distinct handle:
//
//	Port --Enter--> *BitBang --I2C------> *I2C     --Close--> *BitBang
//	                         --OneWire--> *OneWire --Close--> *BitBang
//	                *BitBang --Close--> Port released
//
// A protocol handle borrows its BitBang: while it is open no other protocol
// can be entered. Closing a handle always puts the adapter back in the
// previous state, so the physical adapter is never left in a protocol mode
// between runs. Run, BitBang.WithI2C and BitBang.WithOneWire scope a handle
// to a function call and run the teardown on every exit path.
//
// # Errors
//
// Every failed command is reported as a *CmdError carrying the bytes sent
// and received. Use errors.Is with the Err* sentinels to tell failures apart.
//
// # Datasheet
//
// http://dangerousprototypes.com/docs/Bitbang
//
// http://dangerousprototypes.com/docs/I2C_(binary)
//
// http://dangerousprototypes.com/docs/1-Wire_(binary)
package buspirate
