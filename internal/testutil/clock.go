// Package testutil provides deterministic time and identity for tests and
// scenario simulations.
package testutil

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced wall clock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*FakeTimer
}

// NewFakeClock creates a clock stopped at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time. Its signature matches time.Now so it
// can be passed wherever a now function is expected.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored; the clock never goes backwards.
//
// Timers due at or before the new time fire in deadline order, on the
// calling goroutine, after the clock has moved.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	now := c.now
	due := c.dueLocked()
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return now
}

// Set jumps to t if it is not before the current time.
// Due timers fire as with Advance.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	if !t.Before(c.now) {
		c.now = t
	}
	due := c.dueLocked()
	c.mu.Unlock()

	for _, timer := range due {
		timer.f()
	}
}

// AfterFunc schedules f to run once the clock has advanced by d.
// A non-positive d fires on the next Advance or Set.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &FakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// dueLocked removes and returns the timers due at the current time.
func (c *FakeClock) dueLocked() []*FakeTimer {
	var due, rest []*FakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	return due
}

// FakeTimer is a timer driven by a FakeClock.
type FakeTimer struct {
	clock *FakeClock
	at    time.Time
	f     func()
}

// Stop prevents the timer from firing. It returns false if the timer has
// already fired or been stopped, like time.Timer.Stop.
func (t *FakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, pending := range c.timers {
		if pending == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}
