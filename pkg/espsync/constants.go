// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package espsync provides a Go implementation of the ESPSync file
// synchronization protocol.
//
// ESPSync is a point-to-point binary protocol between a host and a device with
// flat persistent storage. Commands and replies are framed with a fixed header
// (sentinel, tag, function, 24-bit size, 16-bit header checksum) followed by an
// optional checksummed body. This package provides the device side: the byte
// receive state machine, the wire encoder, and the command engine that applies
// validated requests to a Storage backend.
package espsync

import "fmt"

// Protocol framing bytes
const (
	StartByte = 0x02 // STX

	// RxTagOffset is added by the host to a tag before transmission.
	RxTagOffset = 0x20
	// TxTagOffset is added by the device to the request tag in replies.
	TxTagOffset = 0x40

	MaxTag = 31

	// AckFiller occupies the low byte of an ACK size field.
	AckFiller = 0x5A
	// NakFiller occupies the low 16 bits of a NAK size field.
	NakFiller = 0xA55A
)

// Frame size limits
const (
	HeaderSize = 8 // STX + tag + function + size(3) + checksum(2)

	// DefaultBufferCapacity is the small-message body buffer size, checksum included.
	DefaultBufferCapacity = 70

	// MaxSize is the largest value a 24-bit size field can carry.
	MaxSize = 0xFFFFFF

	// MaxAckTimeout is the largest ACK timeout in milliseconds that encodes without saturation.
	MaxAckTimeout = 65536

	smallChecksumSize = 2
	replyChecksumSize = 4
)

// Per-command declared size bounds (body plus trailing checksum)
const (
	SetTimeSize   = 8
	ListSize      = 3
	MinRemoveSize = 3
	MinRenameSize = 6
	MinFileSize   = 10
)

// Storage conventions
const (
	// TempFileName is the reserved name uploads are staged under.
	TempFileName = "///TEMP"

	// EpochYear is the year encoded as offset 0 in timestamps.
	EpochYear = 2019

	// TimestampSize is day, month, year offset, hour, minute, second.
	TimestampSize = 6
)

// Function identifies the purpose of a frame.
type Function byte

// Control functions (bidirectional)
const (
	FuncAck Function = 0x06
	FuncNak Function = 0x15
)

// Command functions (host → device) 0x60-0x65
const (
	CmdSetTime Function = 0x60
	CmdFormat  Function = 0x61
	CmdList    Function = 0x62
	CmdRemove  Function = 0x63
	CmdRename  Function = 0x64
	CmdFile    Function = 0x65
)

// Reply functions (device → host) 0x70-0x75
const (
	RplTimeSet   Function = 0x70
	RplFormatted Function = 0x71
	RplListing   Function = 0x72
	RplRemoved   Function = 0x73
	RplRenamed   Function = 0x74
	RplReceived  Function = 0x75
)

// IsCommand reports whether f is a host → device command code.
func (f Function) IsCommand() bool {
	return f >= CmdSetTime && f <= CmdFile
}

// IsReply reports whether f is a device → host reply code.
func (f Function) IsReply() bool {
	return f >= RplTimeSet && f <= RplReceived
}

// String returns the protocol name of the function code
func (f Function) String() string {
	switch f {
	case FuncAck:
		return "ACK"
	case FuncNak:
		return "NAK"
	case CmdSetTime:
		return "SET_TIME"
	case CmdFormat:
		return "FORMAT"
	case CmdList:
		return "LIST"
	case CmdRemove:
		return "REMOVE"
	case CmdRename:
		return "RENAME"
	case CmdFile:
		return "FILE"
	case RplTimeSet:
		return "TIME_SET"
	case RplFormatted:
		return "FORMATTED"
	case RplListing:
		return "LISTING"
	case RplRemoved:
		return "REMOVED"
	case RplRenamed:
		return "RENAMED"
	case RplReceived:
		return "RECEIVED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(f))
	}
}

// NakCode is the reason carried by a NAK frame.
type NakCode byte

// NAK reason codes
const (
	NakTimeout  NakCode = 0x21
	NakChecksum NakCode = 0x22
	NakFormat   NakCode = 0x23
	NakFSErr    NakCode = 0x24
	NakNotFound NakCode = 0x25
	NakName     NakCode = 0x26
	NakSize     NakCode = 0x27
	NakExists   NakCode = 0x28
)

func (c NakCode) String() string {
	switch c {
	case NakTimeout:
		return "TIMEOUT"
	case NakChecksum:
		return "CHKSUM"
	case NakFormat:
		return "FORMAT"
	case NakFSErr:
		return "FSERR"
	case NakNotFound:
		return "FNOTF"
	case NakName:
		return "FNAMERR"
	case NakSize:
		return "FSIZERR"
	case NakExists:
		return "FEXISTS"
	default:
		return fmt.Sprintf("NAK(0x%02X)", byte(c))
	}
}

// ListOption selects optional per-entry fields in a listing.
type ListOption byte

// Listing option bits
const (
	ListTimestamp ListOption = 0x01
	ListChecksum  ListOption = 0x02

	listOptionMask = ListTimestamp | ListChecksum
)

// Direction selects the tag offset applied when encoding a header.
type Direction int

const (
	// ToDevice frames carry tag+RxTagOffset.
	ToDevice Direction = iota
	// FromDevice frames carry tag+TxTagOffset.
	FromDevice
)

func (d Direction) offset() byte {
	if d == FromDevice {
		return TxTagOffset
	}
	return RxTagOffset
}
