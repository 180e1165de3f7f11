// Package clock provides the session timer every segment and turn offset is
// expressed in.
package clock

import (
	"sync"
	"time"
)

// Elapsed is a monotonic stopwatch. Readings do not follow wall-clock
// adjustments because time.Now carries a monotonic component.
type Elapsed struct {
	now func() time.Time

	mu      sync.Mutex
	started time.Time
	stopped time.Time
	running bool
	halted  bool
}

func NewElapsed() *Elapsed {
	return &Elapsed{now: time.Now}
}

// NewElapsedWithNow is used by tests to drive the clock by hand.
func NewElapsedWithNow(now func() time.Time) *Elapsed {
	if now == nil {
		now = time.Now
	}
	return &Elapsed{now: now}
}

// Start resets the clock to zero and begins counting. Calling Start on a
// running or stopped clock is a no-op.
func (c *Elapsed) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.halted {
		return
	}
	c.started = c.now()
	c.stopped = time.Time{}
	c.running = true
}

// Stop freezes the reading for good.
func (c *Elapsed) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halted = true
	if !c.running {
		return
	}
	c.stopped = c.now()
	c.running = false
}

func (c *Elapsed) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ElapsedMs returns milliseconds since Start, 0 if never started.
func (c *Elapsed) ElapsedMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		return 0
	}
	end := c.stopped
	if c.running {
		end = c.now()
	}
	return end.Sub(c.started).Milliseconds()
}
