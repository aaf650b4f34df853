// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/feria-market/feria-chat/lib/clock"
	"github.com/feria-market/feria-chat/transport"
)

// typingDebounce is the idle window after the last keystroke before
// typing=false goes out. Every keystroke restarts the window.
const typingDebounce = 2 * time.Second

// DispatcherConfig holds the collaborators for a Dispatcher.
type DispatcherConfig struct {
	// Client persists outbound messages.
	Client *Client
	// Transport carries the low-latency copy and typing signals.
	Transport transport.Transport
	// Session supplies the active conversation.
	Session *Session
	// SelfID is the signed-in user, stamped into every envelope.
	SelfID UserID
	// Clock drives the typing debounce timer. If nil, clock.Real() is
	// used.
	Clock clock.Clock
	// Logger receives dispatch records. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Dispatcher sends composed messages and manages the typing-presence
// lifecycle around composition. Sends are single-flight per session: a
// Send while a previous one has not resolved returns ErrSendInFlight
// instead of interleaving.
//
// Each message travels both channels: the live transport immediately
// (fire and forget, for peer latency) and the persistence API awaited
// (the durable source of truth). A persistence failure does not
// retract the live copy — see the package documentation for the
// consistency tradeoff.
type Dispatcher struct {
	client    *Client
	transport transport.Transport
	session   *Session
	selfID    UserID
	clock     clock.Clock
	logger    *slog.Logger

	mu                 sync.Mutex
	inFlight           bool
	typingTimer        *clock.Timer
	typingConversation ConversationID // conversation the armed timer belongs to
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:    config.Client,
		transport: config.Transport,
		session:   config.Session,
		selfID:    config.SelfID,
		clock:     clk,
		logger:    logger,
	}
}

// Send dispatches text to the active conversation. The text must be
// non-empty after trimming and no prior send may be in flight.
//
// The live emission happens first and is not awaited; the persistence
// call follows and its result is Send's result. On persistence failure
// the caller keeps the composed text and may retry — the live copy,
// already delivered, is not retracted.
func (d *Dispatcher) Send(ctx context.Context, text string) (*Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("chat: send rejected: %w", ErrEmptyMessage)
	}
	active, ok := d.session.Active()
	if !ok {
		return nil, fmt.Errorf("chat: send rejected: %w", ErrNoActiveConversation)
	}

	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return nil, fmt.Errorf("chat: send rejected: %w", ErrSendInFlight)
	}
	d.inFlight = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	payload := envelope{ChatID: active, Content: trimmed, SenderID: d.selfID}.encode()
	d.transport.SendMessage(int64(active), payload)

	// Sending ends composition: emit typing=false now rather than
	// letting the debounce timer fire it later.
	d.stopTyping(active, true)

	message, err := d.client.SendMessage(ctx, SendMessageRequest{
		ConversationID: active,
		SenderID:       d.selfID,
		Content:        trimmed,
	})
	if err != nil {
		d.logger.Warn("message persistence failed; live copy already emitted",
			"conversation_id", active,
			"error", err,
		)
		return nil, err
	}
	return message, nil
}

// Composing records one keystroke in the active conversation: emits
// typing=true and restarts the idle timer that will emit typing=false
// after typingDebounce of silence. Repeated true emissions are
// harmless at the receiver; the point of the timer is that a burst of
// keystrokes yields exactly one trailing false.
//
// No-op when no conversation is active.
func (d *Dispatcher) Composing() {
	active, ok := d.session.Active()
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.transport.SendTyping(int64(active), true)

	if d.typingTimer != nil && d.typingConversation == active {
		d.typingTimer.Reset(typingDebounce)
		return
	}
	if d.typingTimer != nil {
		// The armed timer belongs to a previously active conversation.
		// Kill it silently: a stale typing=false must not be emitted
		// into a room the user has left.
		d.typingTimer.Stop()
	}
	d.typingConversation = active
	d.typingTimer = d.clock.AfterFunc(typingDebounce, d.typingIdle)
}

// CancelTyping stops any pending debounce timer without emitting.
// Call when switching conversations or tearing the feature down.
func (d *Dispatcher) CancelTyping() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.typingTimer != nil {
		d.typingTimer.Stop()
		d.typingTimer = nil
		d.typingConversation = 0
	}
}

// typingIdle fires when the debounce window closes with no further
// keystrokes.
func (d *Dispatcher) typingIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	conversation := d.typingConversation
	d.typingTimer = nil
	d.typingConversation = 0

	// The user may have switched conversations since the last
	// keystroke; emitting false into the wrong room would clear the
	// indicator for an unrelated thread.
	if active, ok := d.session.Active(); !ok || active != conversation {
		return
	}
	d.transport.SendTyping(int64(conversation), false)
}

// stopTyping emits typing=false for the conversation (when emit is
// set) and clears the pending timer.
func (d *Dispatcher) stopTyping(conversation ConversationID, emit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.typingTimer != nil {
		d.typingTimer.Stop()
		d.typingTimer = nil
		d.typingConversation = 0
	}
	if emit {
		d.transport.SendTyping(int64(conversation), false)
	}
}
