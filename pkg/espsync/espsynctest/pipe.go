// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package espsynctest provides in-memory collaborators for exercising an
// ESPSync engine without hardware.
package espsynctest

import (
	"io"
	"sync"
	"time"
)

// Conn is one end of an in-memory duplex link. Reads honour the timeout
// set with SetReadTimeout the same way a serial port does: a negative
// timeout blocks, zero returns immediately, and an expired timeout returns
// (0, nil).
type Conn struct {
	in  *buffer
	out *buffer

	mu      sync.Mutex
	timeout time.Duration
}

// Pipe creates a connected pair of links. Writes to one end are buffered
// until read from the other, so neither side blocks on write.
func Pipe() (*Conn, *Conn) {
	a := newBuffer()
	b := newBuffer()
	return &Conn{in: a, out: b, timeout: -1}, &Conn{in: b, out: a, timeout: -1}
}

// SetReadTimeout sets the timeout for subsequent reads
func (c *Conn) SetReadTimeout(t time.Duration) error {
	c.mu.Lock()
	c.timeout = t
	c.mu.Unlock()
	return nil
}

func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	t := c.timeout
	c.mu.Unlock()
	return c.in.read(p, t)
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.out.write(p)
}

// Close closes both directions. The peer reads what was already written
// and then io.EOF.
func (c *Conn) Close() error {
	c.in.close()
	c.out.close()
	return nil
}

// Drain returns everything currently buffered for reading without waiting
func (c *Conn) Drain() []byte {
	return c.in.drain()
}

// Buffered returns the number of bytes waiting to be read
func (c *Conn) Buffered() int {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()
	return len(c.in.data)
}

type buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	notify chan struct{}
}

func newBuffer() *buffer {
	return &buffer{notify: make(chan struct{}, 1)}
}

func (b *buffer) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *buffer) write(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	b.data = append(b.data, p...)
	b.mu.Unlock()
	b.signal()
	return len(p), nil
}

func (b *buffer) read(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		if len(b.data) > 0 {
			n := copy(p, b.data)
			b.data = b.data[n:]
			more := len(b.data) > 0
			b.mu.Unlock()
			if more {
				b.signal()
			}
			return n, nil
		}
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		b.mu.Unlock()

		if timeout == 0 {
			return 0, nil
		}
		select {
		case <-b.notify:
		case <-deadline:
			return 0, nil
		}
	}
}

func (b *buffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = nil
	return out
}

func (b *buffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}
