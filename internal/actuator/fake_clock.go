package actuator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FakeClock is a virtual clock for tests. Sleep advances virtual time
// instantly, running any callbacks scheduled inside the slept interval at
// their due time. It is safe for concurrent use.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	events []scheduled
}

type scheduled struct {
	at time.Time
	fn func()
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current virtual time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule runs fn once virtual time reaches at. Callbacks run on the
// goroutine that is sleeping when they fall due.
func (c *FakeClock) Schedule(at time.Time, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, scheduled{at: at, fn: fn})
	sort.SliceStable(c.events, func(i, j int) bool { return c.events[i].at.Before(c.events[j].at) })
}

// Sleep advances virtual time by d. If a callback cancels ctx part way,
// time stops at that callback and ctx.Err() is returned.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 || ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	target := c.now.Add(d)
	for len(c.events) > 0 && !c.events[0].at.After(target) {
		ev := c.events[0]
		c.events = c.events[1:]
		if ev.at.After(c.now) {
			c.now = ev.at
		}
		c.mu.Unlock()
		ev.fn()
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
	return nil
}
