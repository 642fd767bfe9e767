// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// I²C mode command bytes.
const (
	i2cStart        = 0x02
	i2cStop         = 0x03
	i2cRead         = 0x04
	i2cAck          = 0x06
	i2cNack         = 0x07
	i2cWriteRead    = 0x08
	i2cBulkWrite    = 0x10 // | (n-1)
	i2cSpeed        = 0x60 // | speed index
	i2cMaxBulk      = 16
	i2cMaxWriteRead = 4096
)

// Ack is the acknowledgement a device returned for one byte written on the
// I²C bus.
type Ack uint8

const (
	ACK  Ack = 0x00
	NACK Ack = 0x01
)

func (a Ack) String() string {
	if a == ACK {
		return "ACK"
	}
	return "NACK"
}

// I2C is the adapter in I²C mode. It borrows the BitBang it was created from
// until Close.
//
// I2C implements i2c.BusCloser so periph device drivers can be used through
// the adapter.
type I2C struct {
	b      *BitBang
	closed bool
}

// I2C switches the adapter to I²C mode.
func (b *BitBang) I2C() (*I2C, error) {
	if err := b.acquire("i2c"); err != nil {
		return nil, err
	}
	if err := b.enter("i2c mode", cmdI2C, tagI2C); err != nil {
		return nil, err
	}
	i := &I2C{b: b}
	b.active = i
	return i, nil
}

// WithI2C switches to I²C mode, calls fn and always falls back to bit-bang
// mode afterward, even when fn fails or panics.
func (b *BitBang) WithI2C(fn func(*I2C) error) (err error) {
	i, err := b.I2C()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := i.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(i)
}

func (i *I2C) String() string {
	return "BusPirate{i2c}"
}

// Close falls back to bit-bang mode. It is attempted once; subsequent calls
// return nil.
func (i *I2C) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.b.leave("i2c")
}

// Configure sets the peripheral configuration.
func (i *I2C) Configure(c Config) error {
	return i.command("i2c configure", cmdConfigure|c.Byte())
}

// Start sends a start (or repeated start) condition.
func (i *I2C) Start() error {
	return i.command("i2c start", i2cStart)
}

// Stop sends a stop condition.
func (i *I2C) Stop() error {
	return i.command("i2c stop", i2cStop)
}

// Ack acknowledges the last byte read.
func (i *I2C) Ack() error {
	return i.command("i2c ack", i2cAck)
}

// Nack refuses the last byte read.
func (i *I2C) Nack() error {
	return i.command("i2c nack", i2cNack)
}

// SetSpeed implements i2c.Bus. The adapter supports 5kHz, 50kHz, 100kHz and
// 400kHz; f is rounded down to one of them.
func (i *I2C) SetSpeed(f physic.Frequency) error {
	var s byte
	switch {
	case f >= 400*physic.KiloHertz:
		s = 3
	case f >= 100*physic.KiloHertz:
		s = 2
	case f >= 50*physic.KiloHertz:
		s = 1
	case f >= 5*physic.KiloHertz:
		s = 0
	default:
		return fmt.Errorf("buspirate: i2c speed %s: %w", f, ErrLength)
	}
	return i.command("i2c speed", i2cSpeed|s)
}

// BulkWrite writes p on the bus in frames of up to 16 bytes and returns the
// acknowledgement of each byte, in the order sent.
func (i *I2C) BulkWrite(p []byte) ([]Ack, error) {
	if i.closed {
		return nil, ErrClosed
	}
	acks := make([]Ack, 0, len(p))
	for len(p) > 0 {
		n := min(len(p), i2cMaxBulk)
		frame := bulkFrame(p[:n])
		resp, err := i.b.exchange("i2c bulk write", frame, i.b.delays.Command, n+1)
		if err != nil {
			return acks, err
		}
		if len(resp) != n+1 || resp[0] != ackOK {
			return acks, cmdErr("i2c bulk write", frame, resp, ErrAck)
		}
		for _, r := range resp[1:] {
			if r != byte(ACK) && r != byte(NACK) {
				return acks, cmdErr("i2c bulk write", frame, resp, ErrAck)
			}
		}
		for _, r := range resp[1:] {
			acks = append(acks, Ack(r))
		}
		p = p[n:]
	}
	return acks, nil
}

// ReadByte clocks one byte in from the bus. The caller acknowledges it with
// Ack or Nack.
func (i *I2C) ReadByte() (byte, error) {
	if i.closed {
		return 0, ErrClosed
	}
	cmd := []byte{i2cRead}
	resp, err := i.b.exchange("i2c read", cmd, i.b.delays.Command, 1)
	if err != nil {
		return 0, err
	}
	if len(resp) != 1 {
		return 0, cmdErr("i2c read", cmd, resp, ErrLength)
	}
	return resp[0], nil
}

// WriteThenRead uses the adapter's composite command to write w then read n
// bytes.
//
// The adapter handles at most 4096 bytes each way per command. Longer writes
// are flushed first in commands reading nothing; longer reads fetch 4096
// bytes then request the remainder. All of w is sent before any byte is
// returned.
func (i *I2C) WriteThenRead(w []byte, n int) ([]byte, error) {
	if i.closed {
		return nil, ErrClosed
	}
	if n < 0 {
		return nil, fmt.Errorf("buspirate: i2c read of %d bytes: %w", n, ErrLength)
	}
	if len(w) > i2cMaxWriteRead {
		if _, err := i.WriteThenRead(w[:i2cMaxWriteRead], 0); err != nil {
			return nil, err
		}
		return i.WriteThenRead(w[i2cMaxWriteRead:], n)
	}
	if n > i2cMaxWriteRead {
		head, err := i.writeThenRead(w, i2cMaxWriteRead)
		if err != nil {
			return nil, err
		}
		tail, err := i.WriteThenRead(nil, n-i2cMaxWriteRead)
		if err != nil {
			return nil, err
		}
		return append(head, tail...), nil
	}
	return i.writeThenRead(w, n)
}

// writeThenRead sends one command of at most 4096 bytes each way. The adapter
// acknowledges once, after the whole frame including the payload, and not
// after each length byte.
func (i *I2C) writeThenRead(w []byte, n int) ([]byte, error) {
	frame := make([]byte, 0, 5+len(w))
	frame = append(frame, i2cWriteRead, byte(len(w)>>8), byte(len(w)), byte(n>>8), byte(n))
	frame = append(frame, w...)
	resp, err := i.b.exchange("i2c write then read", frame, i.b.delays.Command, n+1)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || resp[0] != ackOK {
		return nil, cmdErr("i2c write then read", frame, resp, ErrAck)
	}
	if len(resp) != n+1 {
		return nil, cmdErr("i2c write then read", frame, resp, ErrLength)
	}
	return resp[1:], nil
}

// Tx implements i2c.Bus.
//
// The device address and w are written after a start condition; if r is not
// empty a repeated start is issued and len(r) bytes are read. A stop
// condition ends the transaction, also when it failed.
func (i *I2C) Tx(addr uint16, w, r []byte) (err error) {
	if addr > 0x7F {
		return fmt.Errorf("buspirate: i2c address %#x: only 7-bit addresses are supported", addr)
	}
	if err := i.Start(); err != nil {
		return err
	}
	defer func() {
		if serr := i.Stop(); serr != nil && err == nil {
			err = serr
		}
	}()
	if err := i.writeAcked(append([]byte{byte(addr << 1)}, w...)); err != nil {
		return err
	}
	if len(r) == 0 {
		return nil
	}
	if err := i.Start(); err != nil {
		return err
	}
	data, err := i.WriteThenRead([]byte{byte(addr<<1) | 1}, len(r))
	if err != nil {
		return err
	}
	copy(r, data)
	return nil
}

// writeAcked bulk writes p and fails on the first byte not acknowledged.
func (i *I2C) writeAcked(p []byte) error {
	acks, err := i.BulkWrite(p)
	if err != nil {
		return err
	}
	for j, a := range acks {
		if a != ACK {
			return cmdErr("i2c bulk write", p, nil, fmt.Errorf("%w at byte %d", ErrNack, j))
		}
	}
	return nil
}

// command sends a single byte command acknowledged by 0x01.
func (i *I2C) command(op string, cmd byte) error {
	if i.closed {
		return ErrClosed
	}
	return i.b.expect(op, []byte{cmd}, i.b.delays.Command, []byte{ackOK})
}

// bulkFrame frames one bulk write chunk of 1 to 16 bytes (1 to 4 in 1-Wire
// mode): a 0x10|(n-1) header then the data.
func bulkFrame(p []byte) []byte {
	frame := make([]byte, 0, len(p)+1)
	frame = append(frame, i2cBulkWrite|byte(len(p)-1))
	return append(frame, p...)
}

var _ i2c.BusCloser = &I2C{}
