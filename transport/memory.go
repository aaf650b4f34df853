// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// OpKind labels one recorded outbound operation on a Memory transport.
type OpKind string

// Outbound operation kinds recorded by Memory.
const (
	OpJoin    OpKind = "join"
	OpLeave   OpKind = "leave"
	OpMessage OpKind = "message"
	OpTyping  OpKind = "typing"
)

// Op is one outbound operation in the order it was issued. Tests
// assert on the sequence (e.g., exactly one leave for conversation A
// followed by exactly one join for conversation B).
type Op struct {
	Kind           OpKind
	ConversationID int64
	Payload        string // message payload, for OpMessage
	IsTyping       bool   // typing flag, for OpTyping
}

// Compile-time interface check.
var _ Transport = (*Memory)(nil)

// Memory is an in-process Transport for tests. Outbound operations are
// recorded instead of sent; inbound events are injected by the test
// through Deliver and DeliverTyping and fan out to subscribers exactly
// like the production transport.
//
// Memory honors the disconnected-is-a-no-op contract: operations
// issued before Connect (or after Disconnect) are dropped, not
// recorded. A fresh Memory is disconnected.
type Memory struct {
	mu        sync.Mutex
	connected bool
	token     string
	ops       []Op

	messages subscribers[Message]
	typing   subscribers[TypingEvent]
}

// NewMemory creates a disconnected Memory transport.
func NewMemory() *Memory { return &Memory{} }

// Connect marks the transport connected and records the token for
// assertion. Idempotent; never fails.
func (m *Memory) Connect(_ context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return
	}
	m.connected = true
	m.token = token
}

// Disconnect marks the transport disconnected. Idempotent.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Join records a join intent.
func (m *Memory) Join(conversationID int64) {
	m.record(Op{Kind: OpJoin, ConversationID: conversationID})
}

// Leave records a leave intent.
func (m *Memory) Leave(conversationID int64) {
	m.record(Op{Kind: OpLeave, ConversationID: conversationID})
}

// SendMessage records an outbound payload.
func (m *Memory) SendMessage(conversationID int64, payload string) {
	m.record(Op{Kind: OpMessage, ConversationID: conversationID, Payload: payload})
}

// SendTyping records a typing signal.
func (m *Memory) SendTyping(conversationID int64, isTyping bool) {
	m.record(Op{Kind: OpTyping, ConversationID: conversationID, IsTyping: isTyping})
}

// SubscribeMessages registers fn for injected messages.
func (m *Memory) SubscribeMessages(fn func(Message)) (cancel func()) {
	return m.messages.add(fn)
}

// SubscribeTyping registers fn for injected typing signals.
func (m *Memory) SubscribeTyping(fn func(TypingEvent)) (cancel func()) {
	return m.typing.add(fn)
}

// Deliver injects an inbound message, as if the server pushed it.
func (m *Memory) Deliver(message Message) {
	m.messages.publish(message)
}

// DeliverTyping injects an inbound typing signal.
func (m *Memory) DeliverTyping(event TypingEvent) {
	m.typing.publish(event)
}

// Connected reports the connection state.
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Token returns the token passed to the first Connect.
func (m *Memory) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Ops returns a copy of the recorded operation sequence.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]Op, len(m.ops))
	copy(ops, m.ops)
	return ops
}

// OpsOf returns the recorded operations of one kind, in order.
func (m *Memory) OpsOf(kind OpKind) []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ops []Op
	for _, op := range m.ops {
		if op.Kind == kind {
			ops = append(ops, op)
		}
	}
	return ops
}

// ClearOps discards the recorded operations, keeping subscriptions and
// connection state. Tests call this after setup so assertions see only
// the operations under test.
func (m *Memory) ClearOps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
}

func (m *Memory) record(op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	m.ops = append(m.ops, op)
}
