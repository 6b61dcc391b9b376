// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// upload is the parsed preamble of a FILE command.
type upload struct {
	name    string
	ts      Timestamp
	payload int
}

// handleFile receives an upload straight from the link into TempFileName,
// then moves it over the destination once the trailing checksum matches.
// On any failure the temporary file is removed before the NAK goes out and
// the destination is left as it was.
func (e *Engine) handleFile(tag uint8, c FileCommand) error {
	sum := NewAdler32()

	up, err := e.readPreamble(c, sum)
	if err != nil {
		return e.abortUpload(c.Stream, err)
	}

	if err := e.store.Begin(); err != nil {
		return e.abortUpload(c.Stream, nak(CmdFile, NakFSErr, err))
	}
	info, err := e.store.Info()
	if err != nil {
		return e.abortUpload(c.Stream, nak(CmdFile, NakFSErr, err))
	}
	if err := ValidateName(up.name, info.MaxPathLength); err != nil {
		return e.abortUpload(c.Stream, nak(CmdFile, NakName, err))
	}
	if !up.ts.IsZero() && !up.ts.Valid() {
		return e.abortUpload(c.Stream, nak(CmdFile, NakFormat, fmt.Errorf("timestamp %+v out of range", up.ts)))
	}
	if uint64(up.payload) > uint64(info.FreeBytes()) {
		return e.abortUpload(c.Stream, nak(CmdFile, NakSize,
			fmt.Errorf("%d bytes, %d free", up.payload, info.FreeBytes())))
	}

	if err := e.receivePayload(c.Stream, up.payload, info.PageSize, sum); err != nil {
		e.removeTemp()
		return e.abortUpload(c.Stream, err)
	}

	if err := e.install(up); err != nil {
		e.removeTemp()
		return err
	}

	e.stats.RecordUpload(up.payload)
	return e.replySpace(tag, CmdFile, RplReceived)
}

// readPreamble reads the name length, name and timestamp.
func (e *Engine) readPreamble(c FileCommand, sum *Adler32) (upload, error) {
	var up upload

	nlen, err := c.Stream.ReadByte()
	if err != nil {
		return up, streamNak(err)
	}
	sum.Add(nlen)

	up.payload = int(c.Size) - 1 - int(nlen) - TimestampSize - replyChecksumSize
	if nlen == 0 {
		return up, nak(CmdFile, NakName, errors.New("empty name"))
	}
	if up.payload < 0 {
		return up, nak(CmdFile, NakFormat,
			fmt.Errorf("declared size %d too small for a %d byte name", c.Size, nlen))
	}

	buf := make([]byte, int(nlen)+TimestampSize)
	if err := c.Stream.ReadFull(buf); err != nil {
		return up, streamNak(err)
	}
	sum.Write(buf)

	up.name = string(buf[:nlen])
	up.ts = ParseTimestamp(buf[nlen:])
	return up, nil
}

// receivePayload streams the file body into TempFileName one page at a time
// and checks the trailing Adler-32.
func (e *Engine) receivePayload(s *Stream, payload, pageSize int, sum *Adler32) error {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	f, err := e.store.Create(TempFileName)
	if err != nil {
		return nak(CmdFile, NakFSErr, err)
	}

	page := make([]byte, pageSize)
	for left := payload; left > 0; {
		n := min(left, pageSize)
		if err := s.ReadFull(page[:n]); err != nil {
			f.Close()
			return streamNak(err)
		}
		sum.Write(page[:n])
		if _, err := f.Write(page[:n]); err != nil {
			f.Close()
			return nak(CmdFile, NakFSErr, err)
		}
		left -= n
	}
	if err := f.Close(); err != nil {
		return nak(CmdFile, NakFSErr, err)
	}

	var trailer [replyChecksumSize]byte
	if err := s.ReadFull(trailer[:]); err != nil {
		return streamNak(err)
	}
	if got, want := binary.BigEndian.Uint32(trailer[:]), sum.Sum(); got != want {
		return nak(CmdFile, NakChecksum, fmt.Errorf("expected 0x%08X, got 0x%08X", want, got))
	}
	return nil
}

// install replaces the destination with the received temporary file.
func (e *Engine) install(up upload) error {
	if e.store.Exists(up.name) {
		if err := e.store.Remove(up.name); err != nil {
			return nak(CmdFile, NakFSErr, err)
		}
	}
	if err := e.store.Rename(TempFileName, up.name); err != nil {
		return nak(CmdFile, NakFSErr, err)
	}
	if !up.ts.IsZero() {
		if err := e.store.Chtime(up.name, up.ts.Time(e.cfg.EpochYear)); err != nil {
			e.log.Warn("upload timestamp not applied", "name", up.name, "error", err)
		}
	}
	return nil
}

// abortUpload drains what is left of a rejected upload so its payload is
// never parsed as frames. Timeouts leave nothing worth draining.
func (e *Engine) abortUpload(s *Stream, err error) error {
	if !IsTimeout(err) {
		s.Discard()
	}
	return err
}

func (e *Engine) removeTemp() {
	if !e.store.Exists(TempFileName) {
		return
	}
	if err := e.store.Remove(TempFileName); err != nil {
		e.log.Warn("temporary file not removed", "error", err)
	}
}

// streamNak maps a failed stream read to NAK(TIMEOUT), keeping the cause.
func streamNak(err error) error {
	if errors.Is(err, errStreamTimeout) || errors.Is(err, io.EOF) {
		return nak(CmdFile, NakTimeout, nil)
	}
	return nak(CmdFile, NakTimeout, err)
}
