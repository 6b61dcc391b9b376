// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"io"
	"log/slog"
	"time"
)

// Engine defaults
const (
	DefaultStreamTimeout   = 50 * time.Millisecond
	DefaultFormatDuration  = 30 * time.Second
	DefaultListingDuration = time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	defaultPageSize        = 256
)

// Config holds engine settings. Use the With* options to change them.
type Config struct {
	// BufferCapacity is the small-message buffer size, checksum included.
	BufferCapacity int

	// StreamTimeout bounds each link read inside the file receiver.
	StreamTimeout time.Duration

	// FormatDuration and ListingDuration are announced in the ACK sent
	// before the long-running replies.
	FormatDuration  time.Duration
	ListingDuration time.Duration

	// PollInterval is the read timeout Serve uses between context checks.
	PollInterval time.Duration

	EpochYear   int
	Logger      *slog.Logger
	Clock       Clock
	Passthrough io.Writer
	Statistics  *Statistics
}

// Option configures an Engine.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		BufferCapacity:  DefaultBufferCapacity,
		StreamTimeout:   DefaultStreamTimeout,
		FormatDuration:  DefaultFormatDuration,
		ListingDuration: DefaultListingDuration,
		PollInterval:    DefaultPollInterval,
		EpochYear:       EpochYear,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the structured logger. Framing drops log at Debug, NAKs at
// Warn and completed commands at Info.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithClock sets the clock written by SET_TIME.
func WithClock(clk Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithPassthrough forwards bytes that are not part of a frame to w.
func WithPassthrough(w io.Writer) Option {
	return func(c *Config) { c.Passthrough = w }
}

// WithBufferCapacity sets the small-message buffer size. Values below the
// smallest RENAME are ignored.
func WithBufferCapacity(n int) Option {
	return func(c *Config) {
		if n >= MinRenameSize {
			c.BufferCapacity = n
		}
	}
}

// WithStreamTimeout sets the per-read timeout used while receiving a file.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.StreamTimeout = d
		}
	}
}

// WithFormatDuration sets the duration announced before a format.
func WithFormatDuration(d time.Duration) Option {
	return func(c *Config) { c.FormatDuration = d }
}

// WithListingDuration sets the duration announced before a listing.
func WithListingDuration(d time.Duration) Option {
	return func(c *Config) { c.ListingDuration = d }
}

// WithPollInterval sets how often Serve checks its context while idle.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithEpochYear sets the year encoded as offset 0 in timestamps.
func WithEpochYear(year int) Option {
	return func(c *Config) { c.EpochYear = year }
}

// WithStatistics shares a statistics tracker with the caller.
func WithStatistics(s *Statistics) Option {
	return func(c *Config) { c.Statistics = s }
}
