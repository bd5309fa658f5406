// Package testutil holds deterministic test doubles shared across
// package tests and the scenario harness.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the base instant deterministic clocks start from. An arbitrary
// fixed UTC time so golden output never depends on the wall clock.
var Epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// DeterministicClock returns strictly increasing timestamps from a fixed
// epoch, advancing by a fixed tick per call.
//
// Unlike engine.SystemClock it can be reset for test reuse, so the same
// scenario produces identical timestamps on every run.
//
// Thread-safety: all methods are safe for concurrent use.
type DeterministicClock struct {
	mu    sync.Mutex
	epoch time.Time
	tick  time.Duration
	calls int
}

// NewDeterministicClock creates a clock starting at Epoch, advancing one
// second per Now() call.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{epoch: Epoch, tick: time.Second}
}

// NewDeterministicClockAt creates a clock with a custom epoch and tick.
func NewDeterministicClockAt(epoch time.Time, tick time.Duration) *DeterministicClock {
	return &DeterministicClock{epoch: epoch, tick: tick}
}

// Now returns the next timestamp: epoch + calls*tick.
// The first call returns epoch + tick.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.epoch.Add(time.Duration(c.calls) * c.tick)
}

// Peek returns the timestamp the next Now() call will produce, without
// advancing the clock.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch.Add(time.Duration(c.calls+1) * c.tick)
}

// Advance skips the clock forward by d without producing a timestamp.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = c.epoch.Add(d)
}

// Reset rewinds the clock to its epoch for test reuse.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
