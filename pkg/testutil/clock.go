package testutil

import (
	"sync"
	"time"
)

// StepClock is a deterministic clock for sampling loops. Every call to After
// moves time forward by the requested duration and fires immediately, so a
// loop paced at 30 samples per second runs through seconds of virtual time
// without sleeping.
type StepClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStepClock starts the clock at t.
func NewStepClock(t time.Time) *StepClock {
	return &StepClock{now: t}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves time forward without firing anything.
func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
