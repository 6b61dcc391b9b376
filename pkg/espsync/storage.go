// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned by Storage implementations for missing names.
var ErrNotExist = errors.New("file does not exist")

// Info describes the storage volume.
type Info struct {
	TotalBytes    uint32
	UsedBytes     uint32
	MaxPathLength int
	PageSize      int

	// Timestamps is true when the backend keeps per-file modification times.
	Timestamps bool
}

// FreeBytes returns TotalBytes - UsedBytes, floored at zero
func (i Info) FreeBytes() uint32 {
	if i.UsedBytes > i.TotalBytes {
		return 0
	}
	return i.TotalBytes - i.UsedBytes
}

// Entry is one stored file as reported by Storage.Entries.
type Entry struct {
	Name    string
	Size    uint32
	ModTime time.Time
}

// Storage is the flat persistent store the engine operates on. Names are
// opaque strings; there are no directories.
type Storage interface {
	// Begin mounts the volume. Every handler calls it first and answers
	// NAK(FSERR) when it fails.
	Begin() error
	Format() error
	Info() (Info, error)
	Exists(name string) bool
	Open(name string) (io.ReadCloser, error)
	// Create truncates or creates name for writing.
	Create(name string) (io.WriteCloser, error)
	Remove(name string) error
	Rename(from, to string) error
	Entries() ([]Entry, error)
	Chtime(name string, t time.Time) error
}
