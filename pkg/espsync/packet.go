// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import "time"

// Frame is one validated protocol unit. Body is nil for header-only frames
// and for the streamed FILE command, whose payload never enters the buffer.
type Frame struct {
	Tag      uint8
	Function Function
	Size     uint32
	Body     []byte
}

// AckTimeout returns the timeout in milliseconds carried by an ACK size field.
func (f *Frame) AckTimeout() uint32 {
	return (f.Size >> 8) + 1
}

// NakCode returns the reason carried by a NAK size field.
func (f *Frame) NakCode() NakCode {
	return NakCode(f.Size >> 16)
}

// Timestamp is the six byte calendar encoding used by SET_TIME, uploads and
// listings. Year is an offset from the engine's epoch year.
type Timestamp struct {
	Day    uint8
	Month  uint8
	Year   uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// ParseTimestamp reads a timestamp from the first six bytes of b.
func ParseTimestamp(b []byte) Timestamp {
	_ = b[5]
	return Timestamp{Day: b[0], Month: b[1], Year: b[2], Hour: b[3], Minute: b[4], Second: b[5]}
}

// TimestampOf encodes t relative to epochYear. Times before the epoch, or
// more than 255 years after it, encode as the zero timestamp.
func TimestampOf(t time.Time, epochYear int) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	t = t.UTC()
	offset := t.Year() - epochYear
	if offset < 0 || offset > 0xFF {
		return Timestamp{}
	}
	return Timestamp{
		Day:    uint8(t.Day()),
		Month:  uint8(t.Month()),
		Year:   uint8(offset),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

// IsZero reports whether every field is zero (no timestamp supplied).
func (ts Timestamp) IsZero() bool {
	return ts == Timestamp{}
}

// Time converts the timestamp to UTC.
func (ts Timestamp) Time(epochYear int) time.Time {
	return time.Date(epochYear+int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), 0, time.UTC)
}

// AppendTo appends the wire encoding of ts to dst.
func (ts Timestamp) AppendTo(dst []byte) []byte {
	return append(dst, ts.Day, ts.Month, ts.Year, ts.Hour, ts.Minute, ts.Second)
}

// Command is a decoded request. Every variant except FileCommand carries a
// fully buffered body; FileCommand carries the live stream instead.
type Command interface {
	Function() Function
}

// PingCommand is an ACK received from the host.
type PingCommand struct {
	Timeout uint32 // milliseconds
}

// SetTimeCommand sets the device clock.
type SetTimeCommand struct {
	Time Timestamp
}

// FormatCommand erases the storage.
type FormatCommand struct{}

// ListCommand requests a directory listing.
type ListCommand struct {
	Options ListOption
}

// RemoveCommand deletes one file.
type RemoveCommand struct {
	Name string
}

// RenameCommand renames a file to a name that must not exist yet.
type RenameCommand struct {
	From string
	To   string
}

// FileCommand uploads a file. Size is the declared size of everything that
// follows the header; Stream delivers those bytes straight from the link.
type FileCommand struct {
	Size   uint32
	Stream *Stream
}

func (PingCommand) Function() Function    { return FuncAck }
func (SetTimeCommand) Function() Function { return CmdSetTime }
func (FormatCommand) Function() Function  { return CmdFormat }
func (ListCommand) Function() Function    { return CmdList }
func (RemoveCommand) Function() Function  { return CmdRemove }
func (RenameCommand) Function() Function  { return CmdRename }
func (FileCommand) Function() Function    { return CmdFile }

// ParseCommand interprets a buffered frame. FILE frames are not buffered and
// are rejected here; the engine builds FileCommand itself.
func ParseCommand(f *Frame) (Command, error) {
	switch f.Function {
	case FuncAck:
		return PingCommand{Timeout: f.AckTimeout()}, nil

	case CmdFormat:
		return FormatCommand{}, nil

	case CmdSetTime:
		if len(f.Body) != SetTimeSize-smallChecksumSize {
			return nil, nak(f.Function, NakFormat, nil)
		}
		return SetTimeCommand{Time: ParseTimestamp(f.Body)}, nil

	case CmdList:
		if len(f.Body) != ListSize-smallChecksumSize {
			return nil, nak(f.Function, NakFormat, nil)
		}
		return ListCommand{Options: ListOption(f.Body[0])}, nil

	case CmdRemove:
		name, rest, ok := splitName(f.Body)
		if !ok || len(rest) != 0 {
			return nil, nak(f.Function, NakName, nil)
		}
		return RemoveCommand{Name: name}, nil

	case CmdRename:
		from, rest, ok := splitName(f.Body)
		if !ok {
			return nil, nak(f.Function, NakName, nil)
		}
		to, rest, ok := splitName(rest)
		if !ok || len(rest) != 0 {
			return nil, nak(f.Function, NakName, nil)
		}
		return RenameCommand{From: from, To: to}, nil

	default:
		return nil, nak(f.Function, NakFormat, nil)
	}
}

// splitName reads one length-prefixed name from b.
func splitName(b []byte) (name string, rest []byte, ok bool) {
	if len(b) < 1 {
		return "", nil, false
	}
	n := int(b[0])
	if n == 0 || len(b) < 1+n {
		return "", nil, false
	}
	return string(b[1 : 1+n]), b[1+n:], true
}

// appendName appends a length-prefixed name to dst.
func appendName(dst []byte, name string) []byte {
	dst = append(dst, byte(len(name)))
	return append(dst, name...)
}
