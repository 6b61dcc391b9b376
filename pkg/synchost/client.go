// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package synchost implements the host side of the ESPSync protocol: a
// reply decoder for device frames and a Client that issues commands and
// waits for their outcome.
package synchost

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Thermoquad/espsync/pkg/espsync"
)

// ErrNoReply is returned when the device does not answer in time.
var ErrNoReply = errors.New("synchost: no reply from device")

// Client defaults
const (
	DefaultReplyTimeout = time.Second
	pollInterval        = 20 * time.Millisecond
)

// Space is the total/free pair carried by REMOVED and RECEIVED replies.
type Space struct {
	Total uint32
	Free  uint32
}

// FormatResult is the FORMATTED reply.
type FormatResult struct {
	Total         uint32
	Used          uint32
	MaxPathLength int
}

// ListEntry is one file in a listing.
type ListEntry struct {
	Name        string
	Size        uint32
	ModTime     time.Time
	Checksum    uint32
	HasChecksum bool
}

// Listing is the LISTING reply.
type Listing struct {
	Total         uint32
	Free          uint32
	MaxPathLength int
	Options       espsync.ListOption
	Entries       []ListEntry
}

// Client drives a device over a link. It is not safe for concurrent use.
type Client struct {
	link      espsync.Link
	dec       *Decoder
	log       *slog.Logger
	timeout   time.Duration
	epochYear int

	tag     uint8
	rbuf    []byte
	pending []byte
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReplyTimeout sets how long to wait for a reply after a command or ACK
func WithReplyTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger logs every frame sent and received at Debug
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEpochYear sets the year encoded as offset 0 in timestamps
func WithEpochYear(year int) ClientOption {
	return func(c *Client) { c.epochYear = year }
}

// NewClient creates a client on link
func NewClient(link espsync.Link, opts ...ClientOption) *Client {
	c := &Client{
		link:      link,
		dec:       NewDecoder(),
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:   DefaultReplyTimeout,
		epochYear: espsync.EpochYear,
		rbuf:      make([]byte, 256),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tag returns the tag the next command will carry
func (c *Client) Tag() uint8 {
	return c.tag
}

func (c *Client) nextTag() uint8 {
	tag := c.tag
	c.tag = (c.tag + 1) & espsync.MaxTag
	return tag
}

// Ping sends an ACK and waits for the device to echo it. Returns the round
// trip time.
func (c *Client) Ping(ctx context.Context, timeoutMs uint32) (time.Duration, error) {
	tag := c.nextTag()
	start := time.Now()
	if _, err := c.exchange(ctx, tag, espsync.NewPing(tag, timeoutMs), espsync.FuncAck); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// SetTime sets the device clock
func (c *Client) SetTime(ctx context.Context, t time.Time) error {
	ts := espsync.TimestampOf(t, c.epochYear)
	if ts.IsZero() {
		return fmt.Errorf("synchost: time %s not representable", t)
	}
	tag := c.nextTag()
	_, err := c.exchange(ctx, tag, espsync.NewSetTime(tag, ts), espsync.RplTimeSet)
	return err
}

// Format erases the device storage
func (c *Client) Format(ctx context.Context) (FormatResult, error) {
	tag := c.nextTag()
	f, err := c.exchange(ctx, tag, espsync.NewFormat(tag), espsync.RplFormatted)
	if err != nil {
		return FormatResult{}, err
	}
	if len(f.Body) < 9 {
		return FormatResult{}, fmt.Errorf("synchost: short FORMATTED body (%d bytes)", len(f.Body))
	}
	return FormatResult{
		Total:         binary.BigEndian.Uint32(f.Body),
		Used:          binary.BigEndian.Uint32(f.Body[4:]),
		MaxPathLength: int(f.Body[8]),
	}, nil
}

// List fetches the directory listing
func (c *Client) List(ctx context.Context, opts espsync.ListOption) (*Listing, error) {
	tag := c.nextTag()
	f, err := c.exchange(ctx, tag, espsync.NewList(tag, opts), espsync.RplListing)
	if err != nil {
		return nil, err
	}
	return ParseListing(f.Body, c.epochYear)
}

// ParseListing decodes a LISTING body
func ParseListing(body []byte, epochYear int) (*Listing, error) {
	if len(body) < 10 {
		return nil, fmt.Errorf("synchost: short LISTING body (%d bytes)", len(body))
	}
	l := &Listing{
		Total:         binary.BigEndian.Uint32(body),
		Free:          binary.BigEndian.Uint32(body[4:]),
		MaxPathLength: int(body[8]),
		Options:       espsync.ListOption(body[9]),
	}

	esize := l.MaxPathLength + 4
	if l.Options&espsync.ListTimestamp != 0 {
		esize += espsync.TimestampSize
	}
	if l.Options&espsync.ListChecksum != 0 {
		esize += 4
	}
	rest := body[10:]
	if len(rest)%esize != 0 {
		return nil, fmt.Errorf("synchost: listing body of %d bytes is not a multiple of %d", len(rest), esize)
	}

	for ; len(rest) > 0; rest = rest[esize:] {
		rec := rest[:esize]
		name := rec[:l.MaxPathLength]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		ent := ListEntry{
			Name: string(name),
			Size: binary.BigEndian.Uint32(rec[l.MaxPathLength:]),
		}
		off := l.MaxPathLength + 4
		if l.Options&espsync.ListTimestamp != 0 {
			if ts := espsync.ParseTimestamp(rec[off:]); !ts.IsZero() {
				ent.ModTime = ts.Time(epochYear)
			}
			off += espsync.TimestampSize
		}
		if l.Options&espsync.ListChecksum != 0 {
			ent.Checksum = binary.BigEndian.Uint32(rec[off:])
			ent.HasChecksum = true
		}
		l.Entries = append(l.Entries, ent)
	}
	return l, nil
}

// Remove deletes a file
func (c *Client) Remove(ctx context.Context, name string) (Space, error) {
	tag := c.nextTag()
	frame, err := espsync.NewRemove(tag, name)
	if err != nil {
		return Space{}, err
	}
	f, err := c.exchange(ctx, tag, frame, espsync.RplRemoved)
	if err != nil {
		return Space{}, err
	}
	return parseSpace(f)
}

// Rename renames a file. The device answers with the REMOVED code.
func (c *Client) Rename(ctx context.Context, from, to string) (Space, error) {
	tag := c.nextTag()
	frame, err := espsync.NewRename(tag, from, to)
	if err != nil {
		return Space{}, err
	}
	f, err := c.exchange(ctx, tag, frame, espsync.RplRemoved, espsync.RplRenamed)
	if err != nil {
		return Space{}, err
	}
	return parseSpace(f)
}

// SendFile uploads data as name. A zero modTime uploads without a timestamp.
func (c *Client) SendFile(ctx context.Context, name string, modTime time.Time, data []byte) (Space, error) {
	tag := c.nextTag()
	frame, err := espsync.EncodeFile(tag, name, espsync.TimestampOf(modTime, c.epochYear), data)
	if err != nil {
		return Space{}, err
	}
	f, err := c.exchange(ctx, tag, frame, espsync.RplReceived)
	if err != nil {
		return Space{}, err
	}
	return parseSpace(f)
}

func parseSpace(f *espsync.Frame) (Space, error) {
	if len(f.Body) < 8 {
		return Space{}, fmt.Errorf("synchost: short %s body (%d bytes)", f.Function, len(f.Body))
	}
	return Space{
		Total: binary.BigEndian.Uint32(f.Body),
		Free:  binary.BigEndian.Uint32(f.Body[4:]),
	}, nil
}

// exchange sends frame and waits for one of want carrying tag. An ACK from
// the device extends the wait by the timeout it announces; a NAK ends it.
func (c *Client) exchange(ctx context.Context, tag uint8, frame []byte, want ...espsync.Function) (*espsync.Frame, error) {
	op := espsync.Function(0)
	if len(frame) > 2 {
		op = espsync.Function(frame[2])
	}

	c.log.Debug("tx", "function", op, "tag", tag, "bytes", len(frame))
	if _, err := c.link.Write(frame); err != nil {
		return nil, fmt.Errorf("synchost: write %s: %w", op, err)
	}

	deadline := time.Now().Add(c.timeout)
	for {
		f, err := c.next(ctx, deadline)
		if err != nil {
			return nil, fmt.Errorf("synchost: %s: %w", op, err)
		}
		if f.Tag != tag {
			c.log.Debug("stale reply", "frame", espsync.FormatFrame(f))
			continue
		}
		c.log.Debug("rx", "frame", espsync.FormatFrame(f))

		for _, fn := range want {
			if f.Function == fn {
				return f, nil
			}
		}
		switch f.Function {
		case espsync.FuncNak:
			return nil, &espsync.NakError{Op: op, Code: f.NakCode()}
		case espsync.FuncAck:
			wait := time.Duration(f.AckTimeout()) * time.Millisecond
			deadline = time.Now().Add(wait + c.timeout)
		default:
			return nil, fmt.Errorf("synchost: %s: unexpected reply %s", op, f.Function)
		}
	}
}

// next returns the next complete frame from the device before deadline.
func (c *Client) next(ctx context.Context, deadline time.Time) (*espsync.Frame, error) {
	for {
		for len(c.pending) > 0 {
			b := c.pending[0]
			c.pending = c.pending[1:]
			f, err := c.dec.DecodeByte(b)
			if errors.Is(err, ErrReplyChecksum) {
				return nil, err
			}
			if err != nil {
				c.log.Debug("rx noise", "error", err)
				continue
			}
			if f != nil {
				return f, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil, ErrNoReply
		}
		if err := c.link.SetReadTimeout(min(left, pollInterval)); err != nil {
			return nil, err
		}
		n, err := c.link.Read(c.rbuf)
		if n > 0 {
			c.pending = c.rbuf[:n]
		}
		if err != nil {
			return nil, err
		}
	}
}
