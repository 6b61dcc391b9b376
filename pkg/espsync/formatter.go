// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f *Frame) string {
	result := fmt.Sprintf("%s (0x%02X) tag=%d size=%d", f.Function, byte(f.Function), f.Tag, f.Size)
	if detail := formatDetail(f); detail != "" {
		result += " " + detail
	}
	return result
}

// FormatFrameAt prefixes FormatFrame with a wall clock timestamp
func FormatFrameAt(t time.Time, f *Frame) string {
	return fmt.Sprintf("[%s] %s", t.Format("15:04:05.000"), FormatFrame(f))
}

func formatDetail(f *Frame) string {
	b := f.Body
	switch f.Function {
	case FuncAck:
		return "timeout=" + formatTimeout(f.AckTimeout())
	case FuncNak:
		return fmt.Sprintf("code=%s", f.NakCode())
	case CmdSetTime:
		if len(b) >= TimestampSize {
			return formatTimestamp(ParseTimestamp(b))
		}
	case CmdList:
		if len(b) >= 1 {
			return "options=" + formatListOptions(ListOption(b[0]))
		}
	case CmdRemove:
		if name, _, ok := splitName(b); ok {
			return fmt.Sprintf("name=%q", name)
		}
	case CmdRename:
		if from, rest, ok := splitName(b); ok {
			if to, _, ok := splitName(rest); ok {
				return fmt.Sprintf("from=%q to=%q", from, to)
			}
		}
	case CmdFile:
		if f.Size >= MinFileSize {
			return fmt.Sprintf("streamed=%d", f.Size)
		}
	case RplFormatted:
		if len(b) >= 9 {
			return fmt.Sprintf("total=%d used=%d max_path=%d",
				binary.BigEndian.Uint32(b), binary.BigEndian.Uint32(b[4:]), b[8])
		}
	case RplRemoved, RplRenamed, RplReceived:
		if len(b) >= 8 {
			return fmt.Sprintf("total=%d free=%d",
				binary.BigEndian.Uint32(b), binary.BigEndian.Uint32(b[4:]))
		}
	case RplListing:
		if len(b) >= 10 {
			opts := ListOption(b[9])
			esize := listingEntrySize(int(b[8]), opts)
			return fmt.Sprintf("total=%d free=%d max_path=%d options=%s entries=%d",
				binary.BigEndian.Uint32(b), binary.BigEndian.Uint32(b[4:]), b[8],
				formatListOptions(opts), (len(b)-10)/esize)
		}
	}
	return ""
}

func formatTimestamp(ts Timestamp) string {
	if ts.IsZero() {
		return "time=unset"
	}
	return fmt.Sprintf("time=%02d/%02d/+%d %02d:%02d:%02d",
		ts.Day, ts.Month, ts.Year, ts.Hour, ts.Minute, ts.Second)
}

func formatListOptions(opts ListOption) string {
	var parts []string
	if opts&ListTimestamp != 0 {
		parts = append(parts, "timestamp")
	}
	if opts&ListChecksum != 0 {
		parts = append(parts, "checksum")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func formatTimeout(ms uint32) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
