package engine

import "sync/atomic"

// Clock hands out request sequence numbers.
//
// Every request the engine receives is stamped with a strictly increasing
// seq that appears on all of its log lines, so the transitions of one
// request can be followed even when requests interleave.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
