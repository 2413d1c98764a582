package engine

import "sync/atomic"

// Clock is the monotonic logical clock. Every transition record is
// stamped with a strictly increasing seq from this clock, so ordering
// never depends on the wall clock and replay reproduces it exactly.
//
// Safe for concurrent use, though the engine's single-writer loop is
// normally the only caller of Next.
type Clock struct {
	seq atomic.Int64

	// nowMS is the logical time in milliseconds: the highest ingest
	// timestamp observed so far. Timers fire against this, never against
	// time.Now.
	nowMS atomic.Int64
}

// NewClock creates a clock at seq 0, logical time 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a known seq position.
func NewClockAt(seq int64) *Clock {
	c := &Clock{}
	c.seq.Store(seq)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Advance moves logical time forward to ingestMS. Time never moves
// backward; a late-arriving timestamp leaves the clock where it is.
func (c *Clock) Advance(ingestMS int64) int64 {
	for {
		cur := c.nowMS.Load()
		if ingestMS <= cur {
			return cur
		}
		if c.nowMS.CompareAndSwap(cur, ingestMS) {
			return ingestMS
		}
	}
}

// NowMS returns the current logical time in milliseconds.
func (c *Clock) NowMS() int64 {
	return c.nowMS.Load()
}
