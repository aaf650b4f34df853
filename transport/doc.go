// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport owns the live bidirectional connection to the chat
// server. It carries three things: conversation membership intents
// (join/leave), application payloads tagged with a conversation ID, and
// ephemeral typing-presence signals. It performs no business
// validation; payloads are opaque strings at this layer.
//
// [Transport] is the interface the chat packages consume. The
// production implementation is [Websocket], a gorilla/websocket client
// speaking the server's event protocol (see wire.go for the frame
// shapes). Tests use [Memory], an in-process implementation that
// records outbound operations and lets the test inject inbound events.
//
// Inbound delivery uses subscriptions rather than a single replaceable
// callback slot: SubscribeMessages and SubscribeTyping each accept any
// number of listeners and return a cancel function, so independent
// consumers (the conversation directory and the active session) never
// clobber each other's registration.
//
// A Transport holds no application data beyond connection lifecycle.
// Connect is idempotent and fails soft: a dial failure leaves the
// transport in a retryable disconnected state, observable only through
// connection-error log records. All outbound operations are no-ops
// while disconnected.
package transport
