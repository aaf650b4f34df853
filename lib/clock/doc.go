// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the chat client so that every timer
// in production code can be driven deterministically from tests.
//
// Production code injects [Real]; tests inject [Fake] and call
// [FakeClock.Advance] to fire pending timers in deadline order. The
// typing debounce and typing-presence expiry logic depend on this: the
// tests assert exact firing behavior (one debounced emission for a
// burst of keystrokes, expiry exactly at the deadline) without any
// wall-clock sleeps.
//
// The interface is intentionally small: Now, After, AfterFunc, and
// NewTicker cover everything the chat packages schedule. Code that
// needs more of the time package should call it directly and accept
// that it will not be controllable from tests.
package clock
