// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresponsive means the adapter never confirmed bit-bang mode within
	// Opts.ProbeAttempts probes.
	ErrUnresponsive = errors.New("buspirate: adapter unresponsive")
	// ErrHandshake means the adapter answered a mode change with an
	// unexpected tag.
	ErrHandshake = errors.New("buspirate: unexpected mode tag")
	// ErrAck means a command was not acknowledged as the protocol requires.
	ErrAck = errors.New("buspirate: invalid acknowledgement")
	// ErrVerify means a 1-Wire scratchpad did not echo the page written to it.
	ErrVerify = errors.New("buspirate: scratchpad verification failed")
	// ErrNack means an I²C device did not acknowledge a byte.
	ErrNack = errors.New("buspirate: i2c nack received")
	// ErrClosed means the handle was already torn down.
	ErrClosed = errors.New("buspirate: mode closed")
	// ErrBusy means a protocol mode is already active on the bit-bang handle.
	ErrBusy = errors.New("buspirate: another protocol mode is active")
	// ErrLength means a request exceeds what the adapter can frame.
	ErrLength = errors.New("buspirate: invalid length")
)

// CmdError reports a failed adapter command together with the literal bytes
// exchanged, which are the only diagnostic available at this layer.
type CmdError struct {
	Op   string // command that failed, e.g. "i2c start"
	Sent []byte // bytes written for the command, if any
	Got  []byte // bytes read back
	Err  error  // one of the sentinel errors above, or the transport error
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("%s: sent [% x] got [% x]: %v", e.Op, e.Sent, e.Got, e.Err)
}

func (e *CmdError) Unwrap() error {
	return e.Err
}

// BusError implements onewire.BusError: a failed verification or a missing
// acknowledgement is a bus condition, the adapter itself is still usable.
func (e *CmdError) BusError() bool {
	return errors.Is(e.Err, ErrVerify) || errors.Is(e.Err, ErrNack)
}

func cmdErr(op string, sent, got []byte, err error) error {
	return &CmdError{Op: op, Sent: clone(sent), Got: clone(got), Err: err}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
