// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Port is the raw byte stream to the adapter, usually a serial port set to
// 115200 8N1.
//
// Read must not block forever: with nothing pending it returns 0 bytes (or
// io.EOF) once the port's read timeout elapses. If Port also implements
// io.Closer it is closed when the BitBang handle is.
type Port interface {
	io.Reader
	io.Writer
}

// Delays are the settle delays that elapse between writing a command and
// reading its reply, masking the adapter's processing latency.
type Delays struct {
	Probe      time.Duration // between bit-bang probes
	Command    time.Duration // after a single command
	Mode       time.Duration // after mode changes, resets and 1-Wire bulk writes
	PowerUp    time.Duration // after powering the 1-Wire bus
	WriteCycle time.Duration // after an I²C EEPROM page write
}

// Opts contains options to pass to Enter.
type Opts struct {
	Delays Delays
	// Sleep waits for a settle delay. nil means time.Sleep.
	Sleep func(time.Duration)
	// Logger receives the raw exchanges at debug level. nil discards.
	Logger *slog.Logger
	// ProbeAttempts is the number of 0x00 probes sent before giving up on
	// bit-bang mode.
	ProbeAttempts int
	// VerifyAttempts is the number of times a 1-Wire EEPROM page is written
	// before a scratchpad mismatch is reported.
	VerifyAttempts int
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Delays: Delays{
		Probe:      time.Millisecond,
		Command:    2 * time.Millisecond,
		Mode:       100 * time.Millisecond,
		PowerUp:    500 * time.Millisecond,
		WriteCycle: 5 * time.Millisecond,
	},
	ProbeAttempts:  25,
	VerifyAttempts: 3,
}

// Adapter command bytes valid in bit-bang mode and replies.
const (
	cmdBitBang   = 0x00 // also falls back from any protocol mode
	cmdReset     = 0x0F
	cmdI2C       = 0x02
	cmdOneWire   = 0x04
	cmdConfigure = 0x40 // | Config, in protocol modes

	ackOK = 0x01
)

var (
	tagBitBang = []byte("BBIO1")
	tagI2C     = []byte("I2C1")
	tagOneWire = []byte("1W01")
)

// protocol is the active protocol handle of a BitBang.
type protocol interface {
	Close() error
	String() string
}

// BitBang is the adapter in raw bit-bang mode. It owns the Port.
//
// Protocol modes are entered with I2C or OneWire, which borrow the BitBang
// until they are closed. Close resets the adapter and releases the Port.
//
// A BitBang and the handles derived from it are not safe for concurrent use:
// the adapter executes one command at a time.
type BitBang struct {
	port   Port
	delays Delays
	sleep  func(time.Duration)
	log    *slog.Logger
	opts   Opts
	active protocol
	closed bool
}

// Enter puts the adapter reachable through port into bit-bang mode.
//
// Stale bytes are drained, then a zero byte is sent until the adapter replies
// "BBIO1" or opts.ProbeAttempts probes went unanswered.
func Enter(port Port, opts *Opts) (*BitBang, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	b := &BitBang{port: port, opts: *opts, delays: opts.Delays, sleep: opts.Sleep, log: opts.Logger}
	if b.sleep == nil {
		b.sleep = time.Sleep
	}
	if b.log == nil {
		b.log = slog.New(slog.DiscardHandler)
	}
	if b.opts.ProbeAttempts <= 0 {
		b.opts.ProbeAttempts = DefaultOpts.ProbeAttempts
	}
	if b.opts.VerifyAttempts <= 0 {
		b.opts.VerifyAttempts = DefaultOpts.VerifyAttempts
	}
	if err := b.drain(); err != nil {
		return nil, err
	}
	var resp []byte
	for i := 1; i <= b.opts.ProbeAttempts; i++ {
		if _, err := b.port.Write([]byte{cmdBitBang}); err != nil {
			return nil, cmdErr("bitbang probe", []byte{cmdBitBang}, nil, err)
		}
		b.sleep(b.delays.Probe)
		var err error
		if resp, err = b.read(16); err != nil {
			return nil, cmdErr("bitbang probe", []byte{cmdBitBang}, resp, err)
		}
		b.log.Debug("bitbang probe", "try", i, "resp", hexs(resp))
		if bytes.Equal(resp, tagBitBang) {
			b.log.Debug("bitbang mode detected")
			return b, nil
		}
	}
	return nil, cmdErr("bitbang probe", []byte{cmdBitBang}, resp, fmt.Errorf("%w after %d attempts", ErrUnresponsive, b.opts.ProbeAttempts))
}

// Run enters bit-bang mode, calls fn and always resets the adapter
// afterward, even when fn fails or panics.
func Run(port Port, opts *Opts, fn func(*BitBang) error) (err error) {
	b, err := Enter(port, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(b)
}

func (b *BitBang) String() string {
	return "BusPirate{bitbang}"
}

// Close tears down the active protocol mode if any, then resets the adapter
// out of bit-bang mode and closes the Port if it implements io.Closer.
//
// The reset is attempted once; subsequent calls return nil.
func (b *BitBang) Close() error {
	if b.closed {
		return nil
	}
	var errs []error
	if b.active != nil {
		errs = append(errs, b.active.Close())
	}
	b.closed = true
	b.log.Debug("resetting adapter")
	if err := b.drain(); err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, b.expect("adapter reset", []byte{cmdReset}, b.delays.Mode, []byte{ackOK}))
	}
	if c, ok := b.port.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// acquire checks that a protocol mode can be entered.
func (b *BitBang) acquire(op string) error {
	if b.closed {
		return ErrClosed
	}
	if b.active != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBusy, b.active)
	}
	return nil
}

// enter sends the protocol selector and checks its tag.
func (b *BitBang) enter(op string, cmd byte, tag []byte) error {
	if err := b.drain(); err != nil {
		return err
	}
	if err := b.expect(op, []byte{cmd}, b.delays.Command, tag); err != nil {
		return err
	}
	b.log.Debug(op + " entered")
	return nil
}

// leave falls back from a protocol mode to bit-bang mode.
func (b *BitBang) leave(name string) error {
	b.active = nil
	b.log.Debug("resetting to bitbang", "from", name)
	if err := b.drain(); err != nil {
		return err
	}
	return b.expect(name+" exit", []byte{cmdBitBang}, b.delays.Mode, tagBitBang)
}

// drain discards bytes left over from a previous, possibly aborted, exchange.
func (b *BitBang) drain() error {
	var buf [16]byte
	for {
		n, err := b.port.Read(buf[:])
		if n > 0 {
			b.log.Debug("buffer flushed", "resp", hexs(buf[:n]))
		}
		if n == 0 || err == io.EOF {
			return nil
		}
		if err != nil {
			return cmdErr("drain", nil, buf[:n], err)
		}
	}
}

// read reads up to n bytes, stopping early when a read comes back empty.
func (b *BitBang) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := b.port.Read(buf[got:])
		got += m
		if err == io.EOF || (m == 0 && err == nil) {
			break
		}
		if err != nil {
			return buf[:got], err
		}
	}
	return buf[:got], nil
}

// exchange writes cmd, waits d and reads up to n reply bytes.
func (b *BitBang) exchange(op string, cmd []byte, d time.Duration, n int) ([]byte, error) {
	if _, err := b.port.Write(cmd); err != nil {
		return nil, cmdErr(op, cmd, nil, err)
	}
	b.sleep(d)
	resp, err := b.read(n)
	b.log.Debug(op, "sent", hexs(cmd), "resp", hexs(resp))
	if err != nil {
		return resp, cmdErr(op, cmd, resp, err)
	}
	return resp, nil
}

// expect exchanges cmd and requires the reply to be exactly want.
func (b *BitBang) expect(op string, cmd []byte, d time.Duration, want []byte) error {
	resp, err := b.exchange(op, cmd, d, len(want))
	if err != nil {
		return err
	}
	if !bytes.Equal(resp, want) {
		if len(want) == 1 {
			return cmdErr(op, cmd, resp, ErrAck)
		}
		return cmdErr(op, cmd, resp, ErrHandshake)
	}
	return nil
}

// hexs formats b for log records.
type hexs []byte

func (h hexs) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("% x", []byte(h)))
}
