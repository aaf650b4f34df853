// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source injected into every component that schedules
// work. Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once, after d has elapsed.
	// For d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d. The returned Timer can
	// cancel the pending call with Stop or re-arm it with Reset; its
	// C field is nil, matching time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on C every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a one-shot scheduled event. Timers created by AfterFunc have
// a nil C.
type Timer struct {
	// C delivers the fire time. Nil for AfterFunc timers.
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the timer. It reports whether the call stopped the
// timer; false means the timer already fired or was already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire after d. It reports whether the
// timer was still active before the reset.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Ticker delivers ticks on C at a fixed interval until stopped. C is
// buffered with capacity 1; a slow consumer drops ticks rather than
// queueing them, matching time.Ticker.
type Ticker struct {
	// C delivers ticks.
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. No tick is delivered after Stop returns.
// Stop does not close C.
func (t *Ticker) Stop() { t.stop() }
