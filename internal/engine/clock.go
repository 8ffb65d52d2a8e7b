package engine

import "sync/atomic"

// SeqClock hands out event sequence numbers.
type SeqClock interface {
	Next() int64
}

// Clock is a monotonic logical clock. Sequence numbers order events;
// wall-clock time never does. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock resuming after start, for example the last
// seq found in a persistent event log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
