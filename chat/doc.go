// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat implements the client-side synchronization core for
// Feria's buyer–seller conversations.
//
// The package provides four cooperating types. [Client] is the REST
// client for the conversation and message APIs: listing the signed-in
// user's conversations, fetching a conversation's history, and
// persisting outbound messages. [Directory] holds the ordered
// conversation list, resolving "the other participant" relative to the
// signed-in user and bumping a conversation to the front when live
// activity arrives. [Session] is the active-conversation state
// machine: it owns which conversation is displayed, its materialized
// message history, and the typing-presence set, reconciling history
// fetches with live inbound messages across conversation switches.
// [Dispatcher] sends composed messages through both delivery channels
// — the live transport for immediate peer fan-out and the REST API for
// durable storage — and drives the typing-presence lifecycle around
// composition.
//
// Delivery consistency: a sent message goes out on the live channel
// first and is then persisted. If persistence fails, the live copy is
// not retracted — peers may briefly see a message that never became
// durable. The package keeps this at-least-once-delivered /
// at-most-once-durable property rather than holding the live emission
// until persistence succeeds, trading a small consistency window for
// peer-visible latency; Send reports the persistence error so the
// caller can re-offer the text for retry.
//
// Concurrency: transport callbacks, timer callbacks, and UI calls are
// serialized per component by a mutex, so state transitions are atomic
// and interleavings behave like a single-threaded event loop. A
// history fetch that resolves after the user has switched away is
// discarded, never applied; the fetch is tagged with the conversation
// it was requested for and checked against the current target under
// the lock.
//
// All timers (typing debounce on the sending side, typing-presence
// expiry on the receiving side) go through lib/clock so tests drive
// them deterministically.
package chat
