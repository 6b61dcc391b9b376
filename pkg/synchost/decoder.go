// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package synchost

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/espsync/pkg/espsync"
)

var (
	// ErrFraming marks bytes discarded as noise.
	ErrFraming = errors.New("synchost: framing dropped")

	// ErrReplyChecksum marks a reply body that failed its Adler-32.
	ErrReplyChecksum = errors.New("synchost: reply checksum mismatch")
)

// initialBodyCapacity bounds the body buffer allocated when a header
// arrives; larger bodies grow as their bytes come in.
const initialBodyCapacity = 4096

type replyState int

const (
	waitStart replyState = iota
	waitTag
	waitFunction
	waitSizeHi
	waitSizeMid
	waitSizeLo
	waitHeaderChecksumHi
	waitHeaderChecksumLo
	waitBody
	waitBodyChecksum
)

// Decoder parses frames sent by a device: ACK, NAK and the reply codes.
// Reply bodies are verified against their trailing Adler-32. A reply
// with size 0 carries no body and no checksum.
type Decoder struct {
	state   replyState
	header  espsync.Fletcher16
	sum     *espsync.Adler32
	tag     uint8
	fn      espsync.Function
	size    uint32
	body    []byte
	bodyLen int
	trailer []byte
}

// NewDecoder creates a new reply decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset discards any partial frame
func (d *Decoder) Reset() {
	d.state = waitStart
	d.header = espsync.Fletcher16{}
	d.sum = nil
	d.body = nil
	d.bodyLen = 0
	d.trailer = d.trailer[:0]
}

// Active reports whether a frame is in progress
func (d *Decoder) Active() bool {
	return d.state != waitStart
}

func (d *Decoder) drop(format string, args ...interface{}) error {
	d.Reset()
	return fmt.Errorf("%w: %s", ErrFraming, fmt.Sprintf(format, args...))
}

// DecodeByte processes one byte from the device. Returns a completed frame,
// or nil if the frame is incomplete.
func (d *Decoder) DecodeByte(b byte) (*espsync.Frame, error) {
	switch d.state {
	case waitStart:
		if b == espsync.StartByte {
			d.header = espsync.Fletcher16{}
			d.header.Add(b)
			d.state = waitTag
		}
		return nil, nil

	case waitTag:
		if b < espsync.TxTagOffset || b-espsync.TxTagOffset > espsync.MaxTag {
			return nil, d.drop("tag byte 0x%02X", b)
		}
		d.header.Add(b)
		d.tag = b - espsync.TxTagOffset
		d.state = waitFunction
		return nil, nil

	case waitFunction:
		fn := espsync.Function(b)
		if fn != espsync.FuncAck && fn != espsync.FuncNak && !fn.IsReply() {
			return nil, d.drop("function 0x%02X", b)
		}
		d.header.Add(b)
		d.fn = fn
		d.state = waitSizeHi
		return nil, nil

	case waitSizeHi:
		d.header.Add(b)
		d.size = uint32(b) << 16
		d.state = waitSizeMid
		return nil, nil

	case waitSizeMid:
		d.header.Add(b)
		d.size |= uint32(b) << 8
		d.state = waitSizeLo
		return nil, nil

	case waitSizeLo:
		d.header.Add(b)
		d.size |= uint32(b)
		d.state = waitHeaderChecksumHi
		return nil, nil

	case waitHeaderChecksumHi:
		if want := byte(d.header.Sum16() >> 8); b != want {
			return nil, d.drop("header checksum hi 0x%02X, want 0x%02X", b, want)
		}
		d.state = waitHeaderChecksumLo
		return nil, nil

	case waitHeaderChecksumLo:
		if want := byte(d.header.Sum16()); b != want {
			return nil, d.drop("header checksum lo 0x%02X, want 0x%02X", b, want)
		}
		return d.dispatchHeader()

	case waitBody:
		d.body = append(d.body, b)
		d.sum.Add(b)
		if len(d.body) == d.bodyLen {
			d.state = waitBodyChecksum
		}
		return nil, nil

	case waitBodyChecksum:
		d.trailer = append(d.trailer, b)
		if len(d.trailer) < 4 {
			return nil, nil
		}
		got := binary.BigEndian.Uint32(d.trailer)
		want := d.sum.Sum()
		frame := d.frame(d.body)
		d.Reset()
		if got != want {
			return nil, fmt.Errorf("%w: %s tag %d expected 0x%08X, got 0x%08X",
				ErrReplyChecksum, frame.Function, frame.Tag, want, got)
		}
		return frame, nil

	default:
		return nil, d.drop("invalid state")
	}
}

func (d *Decoder) dispatchHeader() (*espsync.Frame, error) {
	switch d.fn {
	case espsync.FuncAck:
		if d.size&0xFF != espsync.AckFiller {
			return nil, d.drop("ack filler 0x%02X", d.size&0xFF)
		}
		return d.complete()
	case espsync.FuncNak:
		if d.size&0xFFFF != espsync.NakFiller {
			return nil, d.drop("nak filler 0x%04X", d.size&0xFFFF)
		}
		return d.complete()
	}

	if d.size == 0 {
		return d.complete()
	}
	if d.size < 4 {
		return nil, d.drop("%s size %d", d.fn, d.size)
	}
	d.bodyLen = int(d.size) - 4
	d.body = make([]byte, 0, min(d.bodyLen, initialBodyCapacity))
	d.sum = espsync.NewAdler32()
	d.trailer = d.trailer[:0]
	if d.bodyLen == 0 {
		d.state = waitBodyChecksum
	} else {
		d.state = waitBody
	}
	return nil, nil
}

func (d *Decoder) complete() (*espsync.Frame, error) {
	frame := d.frame(nil)
	d.Reset()
	return frame, nil
}

func (d *Decoder) frame(body []byte) *espsync.Frame {
	return &espsync.Frame{Tag: d.tag, Function: d.fn, Size: d.size, Body: body}
}
