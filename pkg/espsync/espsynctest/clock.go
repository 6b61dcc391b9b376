// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package espsynctest

import (
	"sync"
	"time"
)

// Clock records every time it is set to.
type Clock struct {
	mu    sync.Mutex
	times []time.Time

	// Err, when set, is returned by SetClock and nothing is recorded.
	Err error
}

func (c *Clock) SetClock(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.times = append(c.times, t)
	return nil
}

// Times returns the recorded times in order
func (c *Clock) Times() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.times...)
}

// Last returns the most recent time, if any
func (c *Clock) Last() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.times) == 0 {
		return time.Time{}, false
	}
	return c.times[len(c.times)-1], true
}
