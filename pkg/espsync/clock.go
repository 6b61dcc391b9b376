// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsync

import (
	"sync"
	"time"
)

// Clock is the real-time clock the SET_TIME command writes to.
type Clock interface {
	SetClock(t time.Time) error
}

// OffsetClock tracks a wall clock as an offset from the system clock. It is
// the default Clock for hosts where the process cannot set system time.
type OffsetClock struct {
	mu     sync.Mutex
	offset time.Duration
	now    func() time.Time
}

// NewOffsetClock creates a clock that starts in sync with the system clock
func NewOffsetClock() *OffsetClock {
	return &OffsetClock{now: time.Now}
}

// SetClock records t as the current time
func (c *OffsetClock) SetClock(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(c.now())
	return nil
}

// Now returns the system time shifted by the last SetClock call
func (c *OffsetClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset)
}
