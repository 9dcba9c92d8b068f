package testutil

import "sync/atomic"

// Clock is a logical step counter for traces. The first Tick returns 1.
//
// Thread-safety: safe for concurrent use.
type Clock struct {
	now atomic.Int64
}

// NewClock creates a clock at step 0.
func NewClock() *Clock {
	return &Clock{}
}

// Tick advances the clock and returns the new step.
func (c *Clock) Tick() int64 {
	return c.now.Add(1)
}

// Now returns the last step handed out, or 0.
func (c *Clock) Now() int64 {
	return c.now.Load()
}

// Reset rewinds the clock so the same scenario can be replayed with
// identical step numbers.
func (c *Clock) Reset() {
	c.now.Store(0)
}
