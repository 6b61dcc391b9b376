// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import "fmt"

// Command builders produce complete host → device frames. They are used by
// the host client and by tests that drive the engine.

// NewPing creates an ACK asking the device to answer within timeoutMs.
func NewPing(tag uint8, timeoutMs uint32) []byte {
	return EncodeAck(ToDevice, tag, timeoutMs)
}

// NewSetTime creates a SET_TIME command.
func NewSetTime(tag uint8, ts Timestamp) []byte {
	frame, _ := EncodeCommand(tag, CmdSetTime, ts.AppendTo(nil))
	return frame
}

// NewFormat creates a header-only FORMAT command.
func NewFormat(tag uint8) []byte {
	return EncodeHeader(ToDevice, tag, CmdFormat, 0)
}

// NewList creates a LIST command. Unsupported option bits are masked by the
// device.
func NewList(tag uint8, opts ListOption) []byte {
	frame, _ := EncodeCommand(tag, CmdList, []byte{byte(opts)})
	return frame
}

// NewRemove creates a REMOVE command.
func NewRemove(tag uint8, name string) ([]byte, error) {
	if len(name) == 0 || len(name)+1+smallChecksumSize > DefaultBufferCapacity {
		return nil, fmt.Errorf("remove: invalid name length %d", len(name))
	}
	return EncodeCommand(tag, CmdRemove, appendName(nil, name))
}

// NewRename creates a RENAME command.
func NewRename(tag uint8, from, to string) ([]byte, error) {
	if len(from) == 0 || len(to) == 0 || len(from)+len(to)+2 > DefaultBufferCapacity-smallChecksumSize {
		return nil, fmt.Errorf("rename: invalid name lengths %d, %d", len(from), len(to))
	}
	body := appendName(nil, from)
	body = appendName(body, to)
	return EncodeCommand(tag, CmdRename, body)
}
