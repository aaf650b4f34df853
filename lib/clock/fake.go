// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only through
// Advance, which fires pending timers in deadline order.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. AfterFunc callbacks run
// synchronously inside Advance, so a test that advances past a deadline
// observes the callback's effects as soon as Advance returns. Callbacks
// must not call Advance themselves; that would deadlock.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
}

// waiter is one pending timer, ticker, or After channel.
type waiter struct {
	deadline time.Time

	// ch receives the fire time for After and ticker waiters; nil for
	// AfterFunc waiters.
	ch chan time.Time

	// fn runs synchronously during Advance for AfterFunc waiters; nil
	// otherwise.
	fn func()

	// interval is non-zero for tickers: after firing, the waiter is
	// rescheduled at deadline + interval.
	interval time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives when the clock is advanced past
// the deadline. For d <= 0 it receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: c.current.Add(d), ch: ch})
	return ch
}

// AfterFunc schedules f to run when the clock is advanced past the
// deadline. For d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()

	if d <= 0 {
		c.mu.Unlock()
		f()
		done := &waiter{fired: true}
		return c.timerFor(done)
	}

	w := &waiter{deadline: c.current.Add(d), fn: f}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return c.timerFor(w)
}

// NewTicker returns a Ticker that fires each time Advance crosses a
// multiple of d.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w := &waiter{
		deadline: c.current.Add(d),
		ch:       make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, w)
	return &Ticker{
		C: w.ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
	}
}

// timerFor wraps a waiter in the exported Timer control surface.
func (c *FakeClock) timerFor(w *waiter) *Timer {
	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !w.fired && !w.stopped
			w.stopped = true
			return active
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !w.fired && !w.stopped
			w.deadline = c.current.Add(d)
			w.fired = false
			w.stopped = false
			if !containsWaiter(c.waiters, w) {
				c.waiters = append(c.waiters, w)
			}
			return active
		},
	}
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls within the window, in deadline order. Tickers are
// rescheduled and may fire several times during one Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		next := c.nextDue(target)
		if next == nil {
			break
		}
		c.current = next.deadline

		switch {
		case next.fn != nil:
			next.fired = true
			fn := next.fn
			// Run the callback without the lock so it can schedule
			// or stop other timers.
			c.mu.Unlock()
			fn()
			c.mu.Lock()
		case next.interval > 0:
			select {
			case next.ch <- c.current:
			default:
			}
			next.deadline = next.deadline.Add(next.interval)
		default:
			next.fired = true
			next.ch <- c.current
		}
	}

	c.current = target
	c.compact()
	c.mu.Unlock()
}

// nextDue returns the earliest live waiter with deadline <= target, or
// nil when none remain in the window.
func (c *FakeClock) nextDue(target time.Time) *waiter {
	live := c.waiters[:0:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].deadline.Before(live[j].deadline)
	})
	if len(live) == 0 || live[0].deadline.After(target) {
		return nil
	}
	return live[0]
}

// compact drops fired and stopped waiters.
func (c *FakeClock) compact() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
}

func containsWaiter(list []*waiter, w *waiter) bool {
	for _, candidate := range list {
		if candidate == w {
			return true
		}
	}
	return false
}
