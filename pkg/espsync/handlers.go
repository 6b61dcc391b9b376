// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"encoding/binary"
	"fmt"
	"io"
)

func (e *Engine) handlePing(tag uint8, c PingCommand) error {
	return e.sendAck(tag, c.Timeout)
}

// handleSetTime is fast enough that no ACK precedes the reply.
func (e *Engine) handleSetTime(tag uint8, c SetTimeCommand) error {
	if !c.Time.Valid() {
		return nak(CmdSetTime, NakFormat, fmt.Errorf("timestamp %+v out of range", c.Time))
	}
	if err := e.cfg.Clock.SetClock(c.Time.Time(e.cfg.EpochYear)); err != nil {
		return nak(CmdSetTime, NakFormat, err)
	}
	return e.sendHeader(tag, RplTimeSet, 0)
}

func (e *Engine) handleFormat(tag uint8) error {
	if err := e.store.Begin(); err != nil {
		return nak(CmdFormat, NakFSErr, err)
	}
	if err := e.sendAckDuration(tag, e.cfg.FormatDuration); err != nil {
		return err
	}
	if err := e.store.Format(); err != nil {
		return nak(CmdFormat, NakFSErr, err)
	}
	info, err := e.store.Info()
	if err != nil {
		return nak(CmdFormat, NakFSErr, err)
	}

	body := make([]byte, 0, 9)
	body = binary.BigEndian.AppendUint32(body, info.TotalBytes)
	body = binary.BigEndian.AppendUint32(body, info.UsedBytes)
	body = append(body, pathLengthByte(info.MaxPathLength))
	return e.sendReply(tag, CmdFormat, RplFormatted, body)
}

// listingEntrySize returns the fixed width of one listing record.
func listingEntrySize(maxPath int, opts ListOption) int {
	size := maxPath + 4
	if opts&ListTimestamp != 0 {
		size += TimestampSize
	}
	if opts&ListChecksum != 0 {
		size += 4
	}
	return size
}

func (e *Engine) handleList(tag uint8, c ListCommand) error {
	if err := e.store.Begin(); err != nil {
		return nak(CmdList, NakFSErr, err)
	}
	info, err := e.store.Info()
	if err != nil {
		return nak(CmdList, NakFSErr, err)
	}
	entries, err := e.store.Entries()
	if err != nil {
		return nak(CmdList, NakFSErr, err)
	}
	if err := e.sendAckDuration(tag, e.cfg.ListingDuration); err != nil {
		return err
	}

	opts := c.Options & listOptionMask
	if !info.Timestamps {
		opts &= ListChecksum
	}
	maxPath := int(pathLengthByte(info.MaxPathLength))
	esize := listingEntrySize(maxPath, opts)

	w, err := e.beginBody(tag, RplListing, 10+esize*len(entries))
	if err != nil {
		return err
	}

	head := make([]byte, 0, 10)
	head = binary.BigEndian.AppendUint32(head, info.TotalBytes)
	head = binary.BigEndian.AppendUint32(head, info.FreeBytes())
	head = append(head, byte(maxPath), byte(opts))
	if _, err := w.Write(head); err != nil {
		return err
	}

	rec := make([]byte, esize)
	for _, ent := range entries {
		clear(rec)
		copy(rec[:maxPath], ent.Name)
		off := maxPath
		binary.BigEndian.PutUint32(rec[off:], ent.Size)
		off += 4
		if opts&ListTimestamp != 0 {
			TimestampOf(ent.ModTime, e.cfg.EpochYear).AppendTo(rec[:off])
			off += TimestampSize
		}
		if opts&ListChecksum != 0 {
			binary.BigEndian.PutUint32(rec[off:], e.contentChecksum(ent.Name))
		}
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Finish()
}

// contentChecksum reads name in full. The listing size is already on the
// wire, so a read failure is logged and reported as a zero checksum.
func (e *Engine) contentChecksum(name string) uint32 {
	f, err := e.store.Open(name)
	if err != nil {
		e.log.Warn("listing checksum unavailable", "name", name, "error", err)
		return 0
	}
	defer f.Close()

	sum := NewAdler32()
	if _, err := io.Copy(sum, f); err != nil {
		e.log.Warn("listing checksum unavailable", "name", name, "error", err)
		return 0
	}
	return sum.Sum()
}

func (e *Engine) handleRemove(tag uint8, c RemoveCommand) error {
	if err := e.store.Begin(); err != nil {
		return nak(CmdRemove, NakFSErr, err)
	}
	if !e.store.Exists(c.Name) {
		return nak(CmdRemove, NakNotFound, fmt.Errorf("%q", c.Name))
	}
	if err := e.store.Remove(c.Name); err != nil {
		return nak(CmdRemove, NakFSErr, err)
	}
	return e.replySpace(tag, CmdRemove, RplRemoved)
}

// handleRename answers with the REMOVED code, as deployed hosts expect.
func (e *Engine) handleRename(tag uint8, c RenameCommand) error {
	if err := e.store.Begin(); err != nil {
		return nak(CmdRename, NakFSErr, err)
	}
	if !e.store.Exists(c.From) {
		return nak(CmdRename, NakNotFound, fmt.Errorf("%q", c.From))
	}
	if e.store.Exists(c.To) {
		return nak(CmdRename, NakExists, fmt.Errorf("%q", c.To))
	}
	info, err := e.store.Info()
	if err != nil {
		return nak(CmdRename, NakFSErr, err)
	}
	if err := ValidateName(c.To, info.MaxPathLength); err != nil {
		return nak(CmdRename, NakName, err)
	}
	if err := e.store.Rename(c.From, c.To); err != nil {
		return nak(CmdRename, NakFSErr, err)
	}
	return e.replySpace(tag, CmdRename, RplRemoved)
}

func (e *Engine) replySpace(tag uint8, op, fn Function) error {
	info, err := e.store.Info()
	if err != nil {
		return nak(op, NakFSErr, err)
	}
	return e.sendReply(tag, op, fn, appendSpace(make([]byte, 0, 8), info))
}

func pathLengthByte(n int) byte {
	switch {
	case n < 0:
		return 0
	case n > 0xFF:
		return 0xFF
	}
	return byte(n)
}
