package testutil

import (
	"sync"
	"time"
)

// DefaultTime is the instant FixedClock starts at when none is given.
var DefaultTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// FixedClock is a manually advanced wall clock for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a clock stopped at t. A zero t means DefaultTime.
func NewFixedClock(t time.Time) *FixedClock {
	if t.IsZero() {
		t = DefaultTime
	}
	return &FixedClock{t: t}
}

// Now returns the current instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// SeqIDs issues 1, 2, 3, ... offset by a base, as a stand-in for the
// snowflake generator.
type SeqIDs struct {
	mu   sync.Mutex
	base uint64
	seq  uint64
}

// NewSeqIDs creates a generator whose first id is base+1.
func NewSeqIDs(base uint64) *SeqIDs {
	return &SeqIDs{base: base}
}

// NextID returns the next id.
func (s *SeqIDs) NextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.base + s.seq
}

// Reset restarts the sequence.
func (s *SeqIDs) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
}
