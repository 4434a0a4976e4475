// Package testutil provides deterministic time, identifiers and logging for
// tests and scenario runs.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FixedClock.
var Epoch = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

// FixedClock is a wall clock that only moves when told to, optionally by a
// fixed step on every read.
//
// Thread-safety: all methods are safe for concurrent use.
type FixedClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFixedClock returns a clock frozen at start. A zero start means Epoch.
func NewFixedClock(start time.Time) *FixedClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FixedClock{now: start}
}

// NewSteppingClock returns a clock that advances by step after every Now.
func NewSteppingClock(start time.Time, step time.Duration) *FixedClock {
	c := NewFixedClock(start)
	c.step = step
	return c
}

// Now returns the current time, then applies the step.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
