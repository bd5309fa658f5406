package engine

import (
	"sync"
	"time"
)

// Clock supplies timestamps for event, trace, and projection rows.
// Implemented by SystemClock (production) and test doubles.
type Clock interface {
	Now() time.Time
}

// SystemClock returns wall-clock time with a strict-monotonicity guard:
// two calls never return the same instant, and a later call never returns
// an earlier time even if the wall clock steps backwards. The guard keeps
// (created_at, id) ordering and the correction cutoff comparison stable
// within a process.
//
// Thread-safety: safe for concurrent use.
type SystemClock struct {
	mu   sync.Mutex
	last time.Time
}

// NewSystemClock creates a monotonic wall clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current time, bumped by one nanosecond past the
// previous return value when the wall clock has not advanced.
func (c *SystemClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
