// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Link is the byte transport between host and device. A Read that times out
// returns (0, nil), the convention used by go.bug.st/serial ports.
type Link interface {
	io.Reader
	io.Writer
	SetReadTimeout(t time.Duration) error
}

// Stream is the live transport handle given to the file receiver. It
// consumes bytes the engine has already read from the link before reading
// the link itself, and never reads past the frame's declared size.
type Stream struct {
	e         *Engine
	remaining uint32
	timeout   time.Duration
}

func (e *Engine) newStream(size uint32) *Stream {
	return &Stream{e: e, remaining: size, timeout: e.cfg.StreamTimeout}
}

// Remaining returns the number of declared bytes not yet consumed
func (s *Stream) Remaining() uint32 {
	return s.remaining
}

// ReadFull reads exactly len(p) bytes. Each link read is bounded by the
// stream timeout; a read that returns nothing, or the end of the link,
// fails with a timeout.
func (s *Stream) ReadFull(p []byte) error {
	if uint64(len(p)) > uint64(s.remaining) {
		return fmt.Errorf("read of %d bytes exceeds %d remaining", len(p), s.remaining)
	}

	n := copy(p, s.e.pending)
	s.e.pending = s.e.pending[n:]
	s.e.stats.RecordBytes(n)

	for n < len(p) {
		if err := s.e.setReadTimeout(s.timeout); err != nil {
			return err
		}
		m, err := s.e.link.Read(p[n:])
		if m > 0 {
			s.e.stats.RecordBytes(m)
		}
		n += m
		if n == len(p) {
			break
		}
		if errors.Is(err, io.EOF) || (err == nil && m == 0) {
			s.remaining -= uint32(n)
			return errStreamTimeout
		}
		if err != nil {
			s.remaining -= uint32(n)
			return fmt.Errorf("stream read: %w", err)
		}
	}

	s.remaining -= uint32(len(p))
	return nil
}

// ReadByte reads a single byte
func (s *Stream) ReadByte() (byte, error) {
	var one [1]byte
	if err := s.ReadFull(one[:]); err != nil {
		return 0, err
	}
	return one[0], nil
}

// Discard consumes the rest of the declared bytes so a rejected upload does
// not reach the framer. It stops early if the link goes quiet.
func (s *Stream) Discard() {
	var scratch [256]byte
	for s.remaining > 0 {
		n := len(scratch)
		if uint32(n) > s.remaining {
			n = int(s.remaining)
		}
		if err := s.ReadFull(scratch[:n]); err != nil {
			return
		}
	}
}
