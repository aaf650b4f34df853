// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/feria-market/feria-chat/lib/clock"
	"github.com/feria-market/feria-chat/transport"
)

// typingExpiry is how long a peer's typing flag survives without a
// refresh. The sender debounces at typingDebounce and proactively
// sends false, but that signal can be lost (peer disconnects
// mid-type); the expiry guarantees the indicator never sticks. Twice
// the sender's debounce window leaves room for one lost refresh.
const typingExpiry = 2 * typingDebounce

// SessionState is the activation state of the Session.
type SessionState int

const (
	// StateIdle means no conversation is active.
	StateIdle SessionState = iota
	// StateActivating means a switch is in flight: the room is joined
	// and the history fetch is pending.
	StateActivating
	// StateActive means history is loaded and live updates flow.
	StateActive
)

// String returns the state name for log records.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// SessionConfig holds the collaborators for a Session.
type SessionConfig struct {
	// Client fetches message history.
	Client *Client
	// Directory receives bump-to-top for every inbound message and
	// resolves the active conversation's peer.
	Directory *Directory
	// Transport carries room membership and delivers live events.
	Transport transport.Transport
	// SelfID is the signed-in user.
	SelfID UserID
	// Clock drives typing-presence expiry. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger receives state-transition records. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Session is the active-conversation state machine. It owns which
// conversation is displayed, the materialized message sequence for
// that conversation, and the set of peers currently typing. One
// Session exists per open client; create it on chat feature mount and
// Close it on unmount.
//
// State for a conversation is replaced, never merged, when the user
// switches: messages loaded into the session are owned by it for the
// lifetime of that activation and discarded on switch.
type Session struct {
	client    *Client
	directory *Directory
	transport transport.Transport
	selfID    UserID
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	state    SessionState
	activeID ConversationID // zero when idle
	messages []Message
	typing   map[UserID]*clock.Timer
	target   ConversationID // deferred activation, see SetTarget
	closed   bool

	cancelMessages func()
	cancelTyping   func()
	updates        chan struct{}
}

// NewSession creates a Session and subscribes it to the transport's
// inbound events. The transport may be connected before or after; the
// subscriptions survive reconnects.
func NewSession(config SessionConfig) *Session {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		client:    config.Client,
		directory: config.Directory,
		transport: config.Transport,
		selfID:    config.SelfID,
		clock:     clk,
		logger:    logger,
		typing:    make(map[UserID]*clock.Timer),
		updates:   make(chan struct{}, 1),
	}
	s.cancelMessages = config.Transport.SubscribeMessages(s.handleInbound)
	s.cancelTyping = config.Transport.SubscribeTyping(s.handleTyping)
	return s
}

// Activate makes the conversation the active one: leaves the previous
// room, clears the displayed state, joins the new room, and installs
// the fetched history. A call with the already-active ID is a no-op —
// this guards redundant re-entry from a route parameter echoing
// current state, and makes one join and one fetch per distinct switch.
//
// If the history fetch fails, the room is left again (best-effort) and
// the session returns to idle with the error; nothing half-applied
// remains. If the user switches again while the fetch is pending, the
// late result is discarded: the fetch is tagged with the conversation
// it was requested for and only installs when that is still the
// current target.
func (s *Session) Activate(ctx context.Context, id ConversationID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("chat: activating conversation %d: %w", id, ErrSessionClosed)
	}
	if s.activeID == id {
		s.mu.Unlock()
		return nil
	}
	if s.activeID != 0 {
		s.transport.Leave(int64(s.activeID))
	}
	s.state = StateActivating
	s.activeID = id
	s.resetViewLocked()
	s.transport.Join(int64(id))
	s.mu.Unlock()
	s.notify()

	history, err := s.client.Messages(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.activeID != id {
		// A later switch (or teardown) won the race. The fetched
		// history belongs to a conversation that is no longer the
		// target; applying it would corrupt the new activation.
		s.logger.Debug("discarding stale history fetch",
			"fetched_for", id,
			"active", s.activeID,
		)
		return nil
	}
	if err != nil {
		s.transport.Leave(int64(id))
		s.state = StateIdle
		s.activeID = 0
		s.notify()
		return fmt.Errorf("chat: loading history for conversation %d: %w", id, err)
	}
	s.messages = history
	s.state = StateActive
	s.logger.Debug("conversation activated", "conversation_id", id, "messages", len(history))
	s.notify()
	return nil
}

// Deactivate leaves the active room and returns the session to idle,
// clearing the message sequence and typing set.
func (s *Session) Deactivate() {
	s.mu.Lock()
	if s.activeID != 0 {
		s.transport.Leave(int64(s.activeID))
	}
	s.state = StateIdle
	s.activeID = 0
	s.resetViewLocked()
	s.mu.Unlock()
	s.notify()
}

// SetTarget records a conversation to activate as soon as the
// Directory lists it. This serves direct navigation by identifier: the
// session may be constructed with a target before the directory has
// loaded. Call ResolveTarget after every directory load or update; the
// activation fires exactly once.
func (s *Session) SetTarget(id ConversationID) {
	s.mu.Lock()
	s.target = id
	s.mu.Unlock()
}

// ResolveTarget activates the pending target if the Directory now
// contains it. A no-op when no target is pending or the directory does
// not list the target yet. Repeated calls never re-activate: the
// target is consumed by the first successful resolution, and Activate
// itself is idempotent for the active ID.
func (s *Session) ResolveTarget(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target == 0 {
		return nil
	}
	if _, ok := s.directory.Get(target); !ok {
		return nil
	}

	s.mu.Lock()
	s.target = 0
	s.mu.Unlock()
	return s.Activate(ctx, target)
}

// Close tears the session down: leaves the active room, cancels the
// transport subscriptions, and stops all timers. Late fetch results
// arriving after Close are discarded. The transport itself belongs to
// the caller and is not disconnected here.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.activeID != 0 {
		s.transport.Leave(int64(s.activeID))
	}
	s.state = StateIdle
	s.activeID = 0
	s.resetViewLocked()
	cancelMessages, cancelTyping := s.cancelMessages, s.cancelTyping
	s.mu.Unlock()

	cancelMessages()
	cancelTyping()
}

// State returns the current activation state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the active conversation ID. ok is false when idle.
func (s *Session) Active() (id ConversationID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.activeID != 0
}

// Messages returns a copy of the active conversation's ordered message
// sequence.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]Message, len(s.messages))
	copy(messages, s.messages)
	return messages
}

// TypingPeers returns the peers currently typing in the active
// conversation, in ascending ID order.
func (s *Session) TypingPeers() []UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]UserID, 0, len(s.typing))
	for id := range s.typing {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Updates returns a channel that receives a coalesced signal whenever
// the session's observable state changes. The channel has capacity
// one; consumers re-read the accessors after each signal.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// handleInbound consumes one live message from the transport. The
// directory bump and the session append are independent consumers of
// the same event: the bump applies for every message, the append only
// when the message belongs to the active conversation.
func (s *Session) handleInbound(wire transport.Message) {
	env, err := decodeEnvelope(wire.Content)
	if err != nil {
		// The envelope is unusable, but the outer frame still names a
		// conversation; keep the directory fresh and drop the rest.
		s.logger.Warn("dropping malformed live message", "error", err)
		if wire.ConversationID != 0 {
			s.directory.BumpToTop(ConversationID(wire.ConversationID))
		}
		return
	}

	s.directory.BumpToTop(env.ChatID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateActive || s.activeID != env.ChatID {
		return
	}

	sentAt := wire.SentAt
	if sentAt.IsZero() {
		// The live copy of a just-sent message predates persistence
		// and may carry no timestamp yet.
		sentAt = s.clock.Now()
	}
	s.messages = append(s.messages, Message{
		ID:             MessageID(wire.ID),
		ConversationID: env.ChatID,
		SenderID:       env.SenderID,
		Content:        env.Content,
		SentAt:         sentAt,
	})
	s.notify()
}

// handleTyping consumes one typing signal. Only the active
// conversation's peer can toggle the indicator; signals from anyone
// else (including echoes of the user's own typing) are dropped. A true
// signal arms an expiry timer so a lost false never leaves the
// indicator stuck.
func (s *Session) handleTyping(event transport.TypingEvent) {
	userID := UserID(event.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.activeID == 0 || userID == s.selfID {
		return
	}
	conversation, ok := s.directory.Get(s.activeID)
	if !ok {
		// Activation by a direct ID can outrun the directory load; an
		// unverifiable peer is dropped, not trusted.
		return
	}
	peer, err := PeerOf(conversation, s.selfID)
	if err != nil || peer.ID != userID {
		return
	}

	if event.IsTyping {
		if timer, ok := s.typing[userID]; ok {
			timer.Reset(typingExpiry)
		} else {
			s.typing[userID] = s.clock.AfterFunc(typingExpiry, func() {
				s.expireTyping(userID)
			})
		}
	} else {
		if timer, ok := s.typing[userID]; ok {
			timer.Stop()
			delete(s.typing, userID)
		}
	}
	s.notify()
}

// expireTyping clears a typing flag whose refresh never arrived.
func (s *Session) expireTyping(userID UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.typing[userID]; !ok {
		return
	}
	delete(s.typing, userID)
	s.logger.Debug("typing presence expired", "user_id", userID)
	s.notify()
}

// resetViewLocked clears the message sequence and typing set. Caller
// holds s.mu.
func (s *Session) resetViewLocked() {
	s.messages = nil
	for id, timer := range s.typing {
		timer.Stop()
		delete(s.typing, id)
	}
}

// notify signals Updates without blocking; the channel coalesces
// bursts into one pending signal.
func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
