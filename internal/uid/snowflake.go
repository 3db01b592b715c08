// Package uid generates snowflake-style identifiers for nested array
// elements.
//
// Layout, most significant first: milliseconds since BaseTime, a 6-bit
// worker id, a 6-bit sequence. Sequences start at MinSeq within each
// millisecond; when MaxSeq is exhausted the generator borrows the next
// millisecond. A clock that moves backwards is ignored, so identifiers stay
// strictly increasing within a generator.
package uid

import (
	"fmt"
	"sync"
	"time"
)

const (
	WorkerBits = 6
	SeqBits    = 6
	MinSeq     = 5
	MaxSeq     = 1<<SeqBits - 1
	MaxWorker  = 1<<WorkerBits - 1
)

// BaseTime is the epoch of generated identifiers.
var BaseTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Snowflake is a monotonic identifier generator. It is safe for concurrent
// use.
type Snowflake struct {
	mu     sync.Mutex
	worker uint64
	now    func() time.Time
	last   int64
	seq    uint64
}

// Option configures a Snowflake.
type Option func(*Snowflake)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Snowflake) { s.now = now }
}

// New creates a generator for worker, which must be in [0, MaxWorker].
func New(worker int, opts ...Option) (*Snowflake, error) {
	if worker < 0 || worker > MaxWorker {
		return nil, fmt.Errorf("uid worker id %d out of range [0, %d]", worker, MaxWorker)
	}
	s := &Snowflake{worker: uint64(worker), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NextID returns the next identifier.
func (s *Snowflake) NextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	tick := s.now().Sub(BaseTime).Milliseconds()
	switch {
	case tick > s.last:
		s.last = tick
		s.seq = MinSeq
	case s.seq >= MaxSeq:
		s.last++
		s.seq = MinSeq
	default:
		s.seq++
	}
	return uint64(s.last)<<(WorkerBits+SeqBits) | s.worker<<SeqBits | s.seq
}

// Decode splits an identifier into its parts.
func Decode(id uint64) (at time.Time, worker int, seq int) {
	tick := int64(id >> (WorkerBits + SeqBits))
	worker = int(id >> SeqBits & MaxWorker)
	seq = int(id & MaxSeq)
	return BaseTime.Add(time.Duration(tick) * time.Millisecond), worker, seq
}
