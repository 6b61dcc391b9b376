// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import "fmt"

// ReceiveState is the decoder's position within a frame.
type ReceiveState int

// Decoder states
const (
	StateWaitStart ReceiveState = iota
	StateWaitTag
	StateWaitFunction
	StateWaitSizeHi
	StateWaitSizeMid
	StateWaitSizeLo
	StateWaitHeaderChecksumHi
	StateWaitHeaderChecksumLo
	StateWaitBodyByte
	StateWaitBodyChecksumHi
	StateWaitBodyChecksumLo
)

var stateNames = [...]string{
	"WaitStart",
	"WaitTag",
	"WaitFunction",
	"WaitSizeHi",
	"WaitSizeMid",
	"WaitSizeLo",
	"WaitHeaderChecksumHi",
	"WaitHeaderChecksumLo",
	"WaitBodyByte",
	"WaitBodyChecksumHi",
	"WaitBodyChecksumLo",
}

func (s ReceiveState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ReceiveState(%d)", int(s))
}

// Decoder implements the ESPSync receive state machine for frames sent by
// the host. It holds at most one pending message and never buffers more
// than its capacity.
//
// The header checksum span starts once the sentinel is confirmed, from the
// neutral (0, 0) state, and folds the sentinel itself followed by tag,
// function and the three size bytes. The small body span is a fresh
// Fletcher16 over the body bytes only.
type Decoder struct {
	state    ReceiveState
	header   Fletcher16
	body     Fletcher16
	tag      uint8
	fn       Function
	size     uint32
	buf      []byte
	bodyLen  int
	received uint16
}

// NewDecoder creates a new decoder whose small-message buffer holds capacity
// bytes (body plus its two checksum bytes).
func NewDecoder(capacity int) *Decoder {
	if capacity < MinRenameSize {
		capacity = DefaultBufferCapacity
	}
	return &Decoder{
		state: StateWaitStart,
		buf:   make([]byte, 0, capacity-smallChecksumSize),
	}
}

// Reset returns the decoder to WaitStart and discards the pending message
func (d *Decoder) Reset() {
	d.state = StateWaitStart
	d.header = Fletcher16{}
	d.body = Fletcher16{}
	d.tag = 0
	d.fn = 0
	d.size = 0
	d.buf = d.buf[:0]
	d.bodyLen = 0
	d.received = 0
}

// State returns the current receive state
func (d *Decoder) State() ReceiveState {
	return d.state
}

// Capacity returns the small-message buffer size, checksum included
func (d *Decoder) Capacity() int {
	return cap(d.buf) + smallChecksumSize
}

// Active reports whether a frame is in progress. A conservative check only
// reports true once a header has validated and its body is being received.
func (d *Decoder) Active(conservative bool) bool {
	if conservative {
		return d.state >= StateWaitBodyByte
	}
	return d.state != StateWaitStart
}

func (d *Decoder) drop(format string, args ...interface{}) error {
	err := &FramingError{State: d.state, Reason: fmt.Sprintf(format, args...)}
	d.Reset()
	return err
}

// DecodeByte processes a single byte through the receive state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// A *FramingError means the bytes so far were noise and nothing must be sent;
// a *ChecksumError means the body was corrupted and the peer should be NAKed.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case StateWaitStart:
		if b != StartByte {
			return nil, nil
		}
		d.header = Fletcher16{}
		d.header.Add(b)
		d.state = StateWaitTag
		return nil, nil

	case StateWaitTag:
		if b < RxTagOffset || b-RxTagOffset > MaxTag {
			return nil, d.drop("tag byte 0x%02X", b)
		}
		d.header.Add(b)
		d.tag = b - RxTagOffset
		d.state = StateWaitFunction
		return nil, nil

	case StateWaitFunction:
		fn := Function(b)
		if fn != FuncAck && !fn.IsCommand() {
			return nil, d.drop("function 0x%02X", b)
		}
		d.header.Add(b)
		d.fn = fn
		d.state = StateWaitSizeHi
		return nil, nil

	case StateWaitSizeHi:
		d.header.Add(b)
		d.size = uint32(b) << 16
		d.state = StateWaitSizeMid
		return nil, nil

	case StateWaitSizeMid:
		d.header.Add(b)
		d.size |= uint32(b) << 8
		d.state = StateWaitSizeLo
		return nil, nil

	case StateWaitSizeLo:
		// Last byte of the header span
		d.header.Add(b)
		d.size |= uint32(b)
		d.state = StateWaitHeaderChecksumHi
		return nil, nil

	case StateWaitHeaderChecksumHi:
		if want := byte(d.header.Sum16() >> 8); b != want {
			return nil, d.drop("header checksum hi 0x%02X, want 0x%02X", b, want)
		}
		d.state = StateWaitHeaderChecksumLo
		return nil, nil

	case StateWaitHeaderChecksumLo:
		if want := byte(d.header.Sum16()); b != want {
			return nil, d.drop("header checksum lo 0x%02X, want 0x%02X", b, want)
		}
		return d.dispatchHeader()

	case StateWaitBodyByte:
		if len(d.buf) >= cap(d.buf) {
			return nil, d.drop("body exceeds %d bytes", cap(d.buf))
		}
		d.buf = append(d.buf, b)
		d.body.Add(b)
		if len(d.buf) == d.bodyLen {
			d.state = StateWaitBodyChecksumHi
		}
		return nil, nil

	case StateWaitBodyChecksumHi:
		d.received = uint16(b) << 8
		if b != byte(d.body.Sum16()>>8) {
			return nil, d.checksumFailed()
		}
		d.state = StateWaitBodyChecksumLo
		return nil, nil

	case StateWaitBodyChecksumLo:
		d.received |= uint16(b)
		if b != byte(d.body.Sum16()) {
			return nil, d.checksumFailed()
		}
		frame := &Frame{
			Tag:      d.tag,
			Function: d.fn,
			Size:     d.size,
			Body:     append([]byte(nil), d.buf...),
		}
		d.Reset()
		return frame, nil

	default:
		return nil, d.drop("invalid state")
	}
}

// dispatchHeader applies the per-function rules to a header whose checksum
// matched. Header-only functions complete here.
func (d *Decoder) dispatchHeader() (*Frame, error) {
	if reason := checkHeader(d.fn, d.size, d.Capacity()); reason != "" {
		return nil, d.drop("%s", reason)
	}

	switch d.fn {
	case FuncAck, CmdFormat, CmdFile:
		frame := &Frame{Tag: d.tag, Function: d.fn, Size: d.size}
		d.Reset()
		return frame, nil
	}

	d.body = Fletcher16{}
	d.buf = d.buf[:0]
	d.bodyLen = int(d.size) - smallChecksumSize
	d.state = StateWaitBodyByte
	return nil, nil
}

func (d *Decoder) checksumFailed() error {
	err := &ChecksumError{
		Tag:      d.tag,
		Function: d.fn,
		Expected: d.body.Sum16(),
		Received: d.received,
	}
	d.Reset()
	return err
}
