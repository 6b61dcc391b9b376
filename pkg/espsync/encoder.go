// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import "fmt"

// AppendHeader appends an eight byte header to dst. The header checksum is
// Fletcher16 over the sentinel, tag, function and size bytes.
func AppendHeader(dst []byte, dir Direction, tag uint8, fn Function, size uint32) []byte {
	start := len(dst)
	dst = append(dst,
		StartByte,
		(tag&MaxTag)+dir.offset(),
		byte(fn),
		byte(size>>16), byte(size>>8), byte(size),
	)
	var sum Fletcher16
	sum.Write(dst[start:])
	return sum.AppendSum(dst)
}

// EncodeHeader returns a header-only frame.
func EncodeHeader(dir Direction, tag uint8, fn Function, size uint32) []byte {
	return AppendHeader(make([]byte, 0, HeaderSize), dir, tag, fn, size)
}

// AckSizeField returns the ACK size field for a timeout in milliseconds. Timeouts
// above MaxAckTimeout saturate; a zero timeout encodes as one millisecond.
func AckSizeField(timeoutMs uint32) uint32 {
	if timeoutMs > MaxAckTimeout {
		return 0xFFFF00 | AckFiller
	}
	if timeoutMs == 0 {
		timeoutMs = 1
	}
	return (timeoutMs-1)<<8 | AckFiller
}

// NakSizeField returns the NAK size field carrying code.
func NakSizeField(code NakCode) uint32 {
	return uint32(code)<<16 | NakFiller
}

// EncodeAck builds an ACK announcing that the next message arrives within
// timeoutMs milliseconds.
func EncodeAck(dir Direction, tag uint8, timeoutMs uint32) []byte {
	return EncodeHeader(dir, tag, FuncAck, AckSizeField(timeoutMs))
}

// EncodeNak builds a NAK carrying code.
func EncodeNak(dir Direction, tag uint8, code NakCode) []byte {
	return EncodeHeader(dir, tag, FuncNak, NakSizeField(code))
}

// EncodeCommand builds a host command with a buffered body and a trailing
// Fletcher16 checksum.
func EncodeCommand(tag uint8, fn Function, body []byte) ([]byte, error) {
	size := len(body) + smallChecksumSize
	if size > MaxSize {
		return nil, fmt.Errorf("command body too large: %d bytes", len(body))
	}

	frame := make([]byte, 0, HeaderSize+size)
	frame = AppendHeader(frame, ToDevice, tag, fn, uint32(size))
	frame = append(frame, body...)

	var sum Fletcher16
	sum.Write(body)
	return sum.AppendSum(frame), nil
}

// EncodeReply builds a device reply with a trailing Adler-32 checksum.
func EncodeReply(tag uint8, fn Function, body []byte) ([]byte, error) {
	size := len(body) + replyChecksumSize
	if size > MaxSize {
		return nil, fmt.Errorf("reply body too large: %d bytes", len(body))
	}

	frame := make([]byte, 0, HeaderSize+size)
	frame = AppendHeader(frame, FromDevice, tag, fn, uint32(size))
	frame = append(frame, body...)

	sum := NewAdler32()
	sum.Write(body)
	return sum.AppendSum(frame), nil
}

// FileBodySize returns the declared size of a FILE command for the given
// name and payload lengths.
func FileBodySize(nameLen, payloadLen int) int {
	return 1 + nameLen + TimestampSize + payloadLen + replyChecksumSize
}

// EncodeFile builds a complete FILE upload. The Adler-32 trailer covers the
// name length, name, timestamp and payload.
func EncodeFile(tag uint8, name string, ts Timestamp, data []byte) ([]byte, error) {
	if len(name) == 0 || len(name) > 0xFF {
		return nil, fmt.Errorf("invalid file name length %d", len(name))
	}
	size := FileBodySize(len(name), len(data))
	if size > MaxSize {
		return nil, fmt.Errorf("file too large: %d bytes", len(data))
	}

	frame := make([]byte, 0, HeaderSize+size)
	frame = AppendHeader(frame, ToDevice, tag, CmdFile, uint32(size))
	body := len(frame)
	frame = appendName(frame, name)
	frame = ts.AppendTo(frame)
	frame = append(frame, data...)

	sum := NewAdler32()
	sum.Write(frame[body:])
	return sum.AppendSum(frame), nil
}
