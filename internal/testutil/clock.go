package testutil

import "sync"

// DeterministicClock is a resettable logical clock for tests: the same
// sequence and millisecond stamps on every run, so event logs and
// golden traces compare byte for byte.
//
// Unlike engine.Clock it can be rewound, which lets one fixture replay
// the same scenario several times with identical seq values.
type DeterministicClock struct {
	mu    sync.Mutex
	seq   int64
	nowMS int64
}

// NewDeterministicClock creates a clock at seq 0, logical time 0. The
// first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the sequence number without consuming one.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Advance moves logical time forward to atMS and returns the new time.
// Time never goes backward; a stale stamp returns the current time.
func (c *DeterministicClock) Advance(atMS int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if atMS > c.nowMS {
		c.nowMS = atMS
	}
	return c.nowMS
}

// NowMS returns the current logical time.
func (c *DeterministicClock) NowMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowMS
}

// Reset rewinds the clock to seq 0, time 0 for fixture reuse.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
	c.nowMS = 0
}
