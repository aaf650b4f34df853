// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
	"time"
)

// Transport is the live channel to the chat server. Implementations:
// [Websocket] for production, [Memory] for tests.
type Transport interface {
	// Connect establishes the connection, authenticating with token.
	// Idempotent: a no-op when already connected. Failure is soft —
	// the transport stays disconnected, the error is logged, and a
	// later Connect may succeed. Callers must not assume readiness
	// when Connect returns; outbound operations are best-effort.
	Connect(ctx context.Context, token string)

	// Disconnect releases the connection. Idempotent.
	Disconnect()

	// Join sends a membership intent for one conversation. No-op when
	// disconnected.
	Join(conversationID int64)

	// Leave withdraws a membership intent. No-op when disconnected.
	Leave(conversationID int64)

	// SendMessage sends an opaque application payload tagged with the
	// conversation ID. No-op when disconnected.
	SendMessage(conversationID int64, payload string)

	// SendTyping sends a typing-presence signal. No-op when
	// disconnected.
	SendTyping(conversationID int64, isTyping bool)

	// SubscribeMessages registers fn for inbound messages. The
	// returned cancel function removes the registration. Multiple
	// subscribers each receive every message.
	SubscribeMessages(fn func(Message)) (cancel func())

	// SubscribeTyping registers fn for inbound typing signals, with
	// the same fan-out and cancel semantics as SubscribeMessages.
	SubscribeTyping(fn func(TypingEvent)) (cancel func())
}

// Message is an inbound live message as delivered by the server. The
// Content field is the raw payload string from the sending client —
// for this protocol a JSON-encoded envelope — and must be parsed by
// the consumer before use.
type Message struct {
	ID             int64     `json:"messageId"`
	ConversationID int64     `json:"chatId"`
	SenderID       int64     `json:"senderId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

// TypingEvent is an inbound typing-presence signal for the
// conversation the connected user has joined.
type TypingEvent struct {
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
}

// subscribers is a minimal fan-out registry. Publish snapshots the
// listener set under the lock and invokes listeners without it, so a
// listener may cancel itself or add new subscriptions from inside the
// callback.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(T)
}

func (s *subscribers[T]) add(fn func(T)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers[T]) publish(v T) {
	s.mu.Lock()
	snapshot := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()
	for _, fn := range snapshot {
		fn(v)
	}
}
