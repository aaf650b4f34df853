// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for feria-chat packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with a time.After fallback) so individual tests
// never hang forever on a channel that a regression left silent. These
// helpers are the only place in the test suite where real wall-clock
// timeouts appear; everything timer-related in production code goes
// through lib/clock and is driven by a fake clock in tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since a failed wait is never recoverable by the test.
package testutil
