// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"fmt"
	"strings"
)

// ValidBodySize reports whether a buffered command's declared size is within
// bounds. capacity is the small-message buffer size; only SET_TIME, LIST,
// REMOVE and RENAME have buffered bodies.
func ValidBodySize(fn Function, size uint32, capacity int) bool {
	switch fn {
	case CmdSetTime:
		return size == SetTimeSize
	case CmdList:
		return size == ListSize
	case CmdRemove:
		return size >= MinRemoveSize && size <= uint32(capacity)
	case CmdRename:
		return size >= MinRenameSize && size <= uint32(capacity)
	default:
		return false
	}
}

// checkHeader applies the dispatch rules for a header that passed its
// checksum. A non-nil reason means the frame is dropped silently.
func checkHeader(fn Function, size uint32, capacity int) string {
	switch fn {
	case FuncAck:
		if size&0xFF != AckFiller {
			return fmt.Sprintf("ack filler 0x%02X", size&0xFF)
		}
	case CmdFormat:
		if size != 0 {
			return fmt.Sprintf("format size %d", size)
		}
	case CmdFile:
		if size < MinFileSize {
			return fmt.Sprintf("file size %d below %d", size, MinFileSize)
		}
	case CmdSetTime, CmdList, CmdRemove, CmdRename:
		if !ValidBodySize(fn, size, capacity) {
			return fmt.Sprintf("%s size %d out of range", fn, size)
		}
	default:
		return fmt.Sprintf("function %s not accepted", fn)
	}
	return ""
}

// Valid reports whether every calendar field is in range. Day is checked
// against 1..31 regardless of month.
func (ts Timestamp) Valid() bool {
	return inRange(ts.Day, 1, 31) &&
		inRange(ts.Month, 1, 12) &&
		inRange(ts.Hour, 0, 23) &&
		inRange(ts.Minute, 0, 59) &&
		inRange(ts.Second, 0, 59)
}

func inRange(v, lo, hi uint8) bool {
	return v >= lo && v <= hi
}

// ValidateName checks a storage name against the backend's path limit. The
// reserved upload staging name is never a valid target.
func ValidateName(name string, maxPathLength int) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name")
	case maxPathLength > 0 && len(name) > maxPathLength:
		return fmt.Errorf("name %q longer than %d", name, maxPathLength)
	case name == TempFileName:
		return fmt.Errorf("name %q is reserved", name)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("name %q contains NUL", name)
	}
	return nil
}
