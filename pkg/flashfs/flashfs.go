// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flashfs emulates a small flat flash filesystem on top of an
// afero.Fs. It implements espsync.Storage with a fixed capacity, page
// rounded space accounting and a maximum name length, the way SPIFFS
// volumes on ESP devices behave.
package flashfs

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Thermoquad/espsync/pkg/espsync"
)

// Volume defaults
const (
	DefaultCapacity      = 1 << 20
	DefaultPageSize      = 256
	DefaultMaxPathLength = 32
)

var (
	// ErrNoSpace is returned when a write would exceed the volume capacity.
	ErrNoSpace = errors.New("flashfs: no space left on volume")

	// ErrExists is returned when renaming onto an existing name.
	ErrExists = errors.New("flashfs: file exists")

	// ErrNotMounted is returned by operations before Begin succeeds.
	ErrNotMounted = errors.New("flashfs: volume not mounted")
)

// Store is a flat volume. Every name is stored as a single escaped file in
// the root of the underlying filesystem.
type Store struct {
	fs       afero.Fs
	capacity uint32
	pageSize int
	maxPath  int

	mu      sync.Mutex
	mounted bool
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the volume size in bytes
func WithCapacity(n uint32) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithPageSize sets the allocation unit used for space accounting
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithMaxPathLength sets the longest accepted name
func WithMaxPathLength(n int) Option {
	return func(s *Store) {
		if n > 0 && n <= 0xFF {
			s.maxPath = n
		}
	}
}

// New creates a store on fs. Call Begin before use.
func New(fs afero.Fs, opts ...Option) *Store {
	s := &Store{
		fs:       fs,
		capacity: DefaultCapacity,
		pageSize: DefaultPageSize,
		maxPath:  DefaultMaxPathLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ espsync.Storage = (*Store)(nil)

// Begin mounts the volume, creating its root if needed. A staging file
// left behind by an interrupted upload is removed.
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mounted {
		return nil
	}
	if err := s.fs.MkdirAll("/", 0o755); err != nil {
		return fmt.Errorf("flashfs: mount: %w", err)
	}
	if err := s.fs.Remove(s.path(espsync.TempFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("flashfs: mount: %w", err)
	}
	s.mounted = true
	return nil
}

func (s *Store) checkMounted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mounted {
		return ErrNotMounted
	}
	return nil
}

// Format removes every file on the volume
func (s *Store) Format() error {
	if err := s.checkMounted(); err != nil {
		return err
	}
	infos, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		return fmt.Errorf("flashfs: format: %w", err)
	}
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		if err := s.fs.Remove("/" + fi.Name()); err != nil {
			return fmt.Errorf("flashfs: format: %w", err)
		}
	}
	return nil
}

// Info reports capacity and page rounded usage
func (s *Store) Info() (espsync.Info, error) {
	if err := s.checkMounted(); err != nil {
		return espsync.Info{}, err
	}
	used, err := s.used()
	if err != nil {
		return espsync.Info{}, err
	}
	return espsync.Info{
		TotalBytes:    s.capacity,
		UsedBytes:     used,
		MaxPathLength: s.maxPath,
		PageSize:      s.pageSize,
		Timestamps:    true,
	}, nil
}

func (s *Store) used() (uint32, error) {
	infos, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		return 0, fmt.Errorf("flashfs: info: %w", err)
	}
	var used uint64
	for _, fi := range infos {
		if !fi.IsDir() {
			used += s.pages(fi.Size())
		}
	}
	if used > uint64(s.capacity) {
		used = uint64(s.capacity)
	}
	return uint32(used), nil
}

// pages rounds n up to whole pages
func (s *Store) pages(n int64) uint64 {
	ps := int64(s.pageSize)
	return uint64((n + ps - 1) / ps * ps)
}

// Exists reports whether name is stored
func (s *Store) Exists(name string) bool {
	if s.checkMounted() != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, s.path(name))
	return err == nil && ok
}

// Open opens name for reading
func (s *Store) Open(name string) (io.ReadCloser, error) {
	if err := s.checkMounted(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path(name))
	if err != nil {
		return nil, wrapNotExist(name, err)
	}
	return f, nil
}

// Create truncates or creates name. Writes fail with ErrNoSpace once the
// volume is full.
func (s *Store) Create(name string) (io.WriteCloser, error) {
	if err := s.checkMounted(); err != nil {
		return nil, err
	}
	if err := s.checkName(name); err != nil {
		return nil, err
	}

	p := s.path(name)
	var existing int64
	if fi, err := s.fs.Stat(p); err == nil {
		existing = fi.Size()
	}
	used, err := s.used()
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Create(p)
	if err != nil {
		return nil, fmt.Errorf("flashfs: create %q: %w", name, err)
	}
	avail := int64(s.capacity) - int64(used) + int64(s.pages(existing))
	return &limitedFile{File: f, avail: avail, pageSize: int64(s.pageSize)}, nil
}

// Remove deletes name
func (s *Store) Remove(name string) error {
	if err := s.checkMounted(); err != nil {
		return err
	}
	if err := s.fs.Remove(s.path(name)); err != nil {
		return wrapNotExist(name, err)
	}
	return nil
}

// Rename moves from to a name that must not exist yet
func (s *Store) Rename(from, to string) error {
	if err := s.checkMounted(); err != nil {
		return err
	}
	if err := s.checkName(to); err != nil {
		return err
	}
	if !s.Exists(from) {
		return fmt.Errorf("flashfs: rename %q: %w", from, espsync.ErrNotExist)
	}
	if s.Exists(to) {
		return fmt.Errorf("flashfs: rename to %q: %w", to, ErrExists)
	}
	if err := s.fs.Rename(s.path(from), s.path(to)); err != nil {
		return fmt.Errorf("flashfs: rename %q: %w", from, err)
	}
	return nil
}

// Entries lists every stored file sorted by name
func (s *Store) Entries() ([]espsync.Entry, error) {
	if err := s.checkMounted(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		return nil, fmt.Errorf("flashfs: list: %w", err)
	}

	entries := make([]espsync.Entry, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		name, err := url.PathUnescape(fi.Name())
		if err != nil || name == espsync.TempFileName {
			continue
		}
		size := fi.Size()
		if size > int64(^uint32(0)) {
			size = int64(^uint32(0))
		}
		entries = append(entries, espsync.Entry{
			Name:    name,
			Size:    uint32(size),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Chtime sets the modification time of name
func (s *Store) Chtime(name string, t time.Time) error {
	if err := s.checkMounted(); err != nil {
		return err
	}
	if err := s.fs.Chtimes(s.path(name), t, t); err != nil {
		return wrapNotExist(name, err)
	}
	return nil
}

func (s *Store) checkName(name string) error {
	if name == "" {
		return fmt.Errorf("flashfs: empty name")
	}
	if len(name) > s.maxPath {
		return fmt.Errorf("flashfs: name %q longer than %d", name, s.maxPath)
	}
	return nil
}

// path maps a flat name to a single file in the root
func (s *Store) path(name string) string {
	return "/" + url.PathEscape(name)
}

func wrapNotExist(name string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("flashfs: %q: %w", name, espsync.ErrNotExist)
	}
	return fmt.Errorf("flashfs: %q: %w", name, err)
}

// limitedFile fails writes that would not fit in the remaining pages
type limitedFile struct {
	afero.File
	avail    int64
	written  int64
	pageSize int64
}

func (f *limitedFile) Write(p []byte) (int, error) {
	need := (f.written + int64(len(p)) + f.pageSize - 1) / f.pageSize * f.pageSize
	if need > f.avail {
		return 0, ErrNoSpace
	}
	n, err := f.File.Write(p)
	f.written += int64(n)
	return n, err
}
