package testutil

import (
	"sync"
	"time"
)

// Clock is a fake time source that moves forward one second per reading
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at 2024-01-01T00:00:00Z
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now advances the clock and returns the new time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// Peek returns the current time without advancing
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
