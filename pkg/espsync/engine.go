// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Engine is the device side of an ESPSync link. It owns one decoder, one
// link and one storage backend; bytes are fed one at a time and each
// completed command runs to completion before the next byte is consumed.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	link  Link
	store Storage
	cfg   Config
	log   *slog.Logger
	dec   *Decoder
	stats *Statistics

	rbuf        []byte
	pending     []byte
	readTimeout time.Duration
	busy        bool
}

// New creates an engine serving store over link.
func New(link Link, store Storage, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = NewOffsetClock()
	}
	if cfg.Statistics == nil {
		cfg.Statistics = NewStatistics()
	}

	return &Engine{
		link:        link,
		store:       store,
		cfg:         cfg,
		log:         cfg.Logger,
		dec:         NewDecoder(cfg.BufferCapacity),
		stats:       cfg.Statistics,
		rbuf:        make([]byte, defaultPageSize),
		readTimeout: -1,
	}
}

// State returns the receive state machine's current state
func (e *Engine) State() ReceiveState {
	return e.dec.State()
}

// Stats returns the engine's statistics tracker
func (e *Engine) Stats() *Statistics {
	return e.stats
}

// Active reports whether the engine is inside a frame or running a command.
// See Decoder.Active for the meaning of conservative.
func (e *Engine) Active(conservative bool) bool {
	return e.busy || e.dec.Active(conservative)
}

// Serve reads the link until ctx is cancelled or the link fails. The link
// is polled with a short read timeout so cancellation is noticed while idle;
// a running command is never interrupted.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.setReadTimeout(e.cfg.PollInterval); err != nil {
			return err
		}

		n, err := e.link.Read(e.rbuf)
		if n > 0 {
			if ferr := e.Feed(e.rbuf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

// Feed processes a chunk read from the link. When a FILE command starts
// inside p, the upload consumes the rest of p before reading the link, so
// callers that read the link themselves should hand over whole chunks here.
// The returned error is only ever a transport failure.
func (e *Engine) Feed(p []byte) error {
	e.pending = p
	defer func() { e.pending = nil }()
	for len(e.pending) > 0 {
		b := e.pending[0]
		e.pending = e.pending[1:]
		if err := e.ProcessByte(b); err != nil {
			return err
		}
	}
	return nil
}

// ProcessByte feeds one byte received from the link. The returned error is
// only ever a transport failure; protocol errors are answered on the link.
//
// An upload reads its payload straight from the link, so a caller using
// ProcessByte directly must read the link one byte at a time. Bytes already
// read into a larger buffer belong in Feed.
func (e *Engine) ProcessByte(b byte) error {
	e.stats.RecordBytes(1)

	if e.dec.State() == StateWaitStart && b != StartByte {
		e.passthrough(b)
		return nil
	}

	frame, err := e.dec.DecodeByte(b)
	if err != nil {
		var ce *ChecksumError
		if errors.As(err, &ce) {
			e.stats.RecordChecksumError()
			e.stats.RecordNak(NakChecksum)
			e.log.Warn("body checksum mismatch",
				"function", ce.Function, "tag", ce.Tag,
				"expected", ce.Expected, "received", ce.Received)
			return e.sendNak(ce.Tag, NakChecksum)
		}
		e.stats.RecordFramingDrop()
		e.log.Debug("frame dropped", "error", err)
		return nil
	}
	if frame == nil {
		return nil
	}
	return e.dispatch(frame)
}

func (e *Engine) passthrough(b byte) {
	if e.cfg.Passthrough == nil {
		return
	}
	e.stats.RecordPassthrough(1)
	if _, err := e.cfg.Passthrough.Write([]byte{b}); err != nil {
		e.log.Debug("passthrough write failed", "error", err)
	}
}

// dispatch turns a frame into a Command and runs its handler.
func (e *Engine) dispatch(f *Frame) error {
	var cmd Command
	if f.Function == CmdFile {
		cmd = FileCommand{Size: f.Size, Stream: e.newStream(f.Size)}
	} else {
		c, err := ParseCommand(f)
		if err != nil {
			return e.fail(f.Tag, f.Function, err)
		}
		cmd = c
	}

	e.stats.RecordFrame(f.Function)
	e.busy = true
	defer func() { e.busy = false }()

	start := time.Now()
	if err := e.execute(f.Tag, cmd); err != nil {
		return e.fail(f.Tag, f.Function, err)
	}
	e.log.Info("command complete",
		"function", f.Function, "tag", f.Tag, "duration", time.Since(start))
	return nil
}

func (e *Engine) execute(tag uint8, cmd Command) error {
	switch c := cmd.(type) {
	case PingCommand:
		return e.handlePing(tag, c)
	case SetTimeCommand:
		return e.handleSetTime(tag, c)
	case FormatCommand:
		return e.handleFormat(tag)
	case ListCommand:
		return e.handleList(tag, c)
	case RemoveCommand:
		return e.handleRemove(tag, c)
	case RenameCommand:
		return e.handleRename(tag, c)
	case FileCommand:
		return e.handleFile(tag, c)
	default:
		return nak(cmd.Function(), NakFormat, fmt.Errorf("unhandled command %T", cmd))
	}
}

// fail answers a handler error with a NAK. Errors that are not NAKs are
// transport failures and go back to the caller.
func (e *Engine) fail(tag uint8, fn Function, err error) error {
	var ne *NakError
	if !errors.As(err, &ne) {
		return err
	}
	e.stats.RecordNak(ne.Code)
	if ne.Err != nil {
		e.log.Warn("command failed", "function", fn, "tag", tag, "nak", ne.Code, "error", ne.Err)
	} else {
		e.log.Warn("command failed", "function", fn, "tag", tag, "nak", ne.Code)
	}
	return e.sendNak(tag, ne.Code)
}

func (e *Engine) setReadTimeout(d time.Duration) error {
	if d == e.readTimeout {
		return nil
	}
	if err := e.link.SetReadTimeout(d); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	e.readTimeout = d
	return nil
}

func (e *Engine) write(p []byte) error {
	if _, err := e.link.Write(p); err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	return nil
}

func (e *Engine) sendHeader(tag uint8, fn Function, size uint32) error {
	return e.write(EncodeHeader(FromDevice, tag, fn, size))
}

func (e *Engine) sendNak(tag uint8, code NakCode) error {
	return e.write(EncodeNak(FromDevice, tag, code))
}

func (e *Engine) sendAck(tag uint8, timeoutMs uint32) error {
	return e.write(EncodeAck(FromDevice, tag, timeoutMs))
}

func (e *Engine) sendAckDuration(tag uint8, d time.Duration) error {
	return e.sendAck(tag, uint32(d/time.Millisecond))
}

// sendReply answers op with a complete reply frame. Encoding failures are
// reported against op.
func (e *Engine) sendReply(tag uint8, op, fn Function, body []byte) error {
	frame, err := EncodeReply(tag, fn, body)
	if err != nil {
		return nak(op, NakFSErr, err)
	}
	return e.write(frame)
}

// bodyWriter streams a reply body whose length is known up front, folding
// every byte into one running Adler-32.
type bodyWriter struct {
	e        *Engine
	sum      *Adler32
	declared int
	written  int
}

func (e *Engine) beginBody(tag uint8, fn Function, bodyLen int) (*bodyWriter, error) {
	size := bodyLen + replyChecksumSize
	if size > MaxSize {
		return nil, nak(fn, NakFSErr, fmt.Errorf("reply of %d bytes exceeds size field", bodyLen))
	}
	if err := e.sendHeader(tag, fn, uint32(size)); err != nil {
		return nil, err
	}
	return &bodyWriter{e: e, sum: NewAdler32(), declared: bodyLen}, nil
}

func (w *bodyWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.declared {
		return 0, fmt.Errorf("reply body overrun: %d of %d bytes", w.written+len(p), w.declared)
	}
	w.sum.Write(p)
	if err := w.e.write(p); err != nil {
		return 0, err
	}
	w.written += len(p)
	return len(p), nil
}

func (w *bodyWriter) Finish() error {
	if w.written != w.declared {
		return fmt.Errorf("reply body short: %d of %d bytes", w.written, w.declared)
	}
	return w.e.write(w.sum.AppendSum(nil))
}

// appendSpace appends the total/free pair carried by REMOVED and RECEIVED.
func appendSpace(dst []byte, info Info) []byte {
	dst = binary.BigEndian.AppendUint32(dst, info.TotalBytes)
	return binary.BigEndian.AppendUint32(dst, info.FreeBytes())
}
