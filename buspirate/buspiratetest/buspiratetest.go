// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package buspiratetest is meant to be used to test drivers talking to a Bus
// Pirate without the hardware.
//
// Playback replays a scripted byte exchange. Adapter simulates the adapter
// and the memories attached to it.
package buspiratetest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// IO registers one write to the adapter and the bytes it answered.
type IO struct {
	W []byte
	R []byte
}

// Playback implements buspirate.Port and plays back a recorded exchange.
//
// Every Write must match the next IO.W exactly; IO.R is then made available
// to Read. Read returns 0 bytes when nothing is pending, like a serial port
// whose read timeout expired.
type Playback struct {
	sync.Mutex
	Ops []IO
	// Stale is returned by Read before anything is written.
	Stale []byte
	Count int

	pending []byte
	started bool
	closed  bool
}

func (p *Playback) String() string {
	return "playback"
}

// Write implements io.Writer.
func (p *Playback) Write(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.closed {
		return 0, errors.New("buspiratetest: write on closed playback")
	}
	if p.Count >= len(p.Ops) {
		return 0, fmt.Errorf("buspiratetest: unexpected write [% x]", b)
	}
	if op := p.Ops[p.Count]; !bytes.Equal(op.W, b) {
		return 0, fmt.Errorf("buspiratetest: unexpected write (op #%d) [% x] != [% x]", p.Count, b, op.W)
	}
	p.pending = append(p.pending, p.Ops[p.Count].R...)
	p.Count++
	return len(b), nil
}

// Read implements io.Reader.
func (p *Playback) Read(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if !p.started {
		p.started = true
		p.pending = append(append([]byte{}, p.Stale...), p.pending...)
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Close implements io.Closer. It fails if not all Ops were played.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	p.closed = true
	if p.Count != len(p.Ops) {
		return fmt.Errorf("buspiratetest: expected playback to be empty: I/O count %d; expected %d", p.Count, len(p.Ops))
	}
	return nil
}
