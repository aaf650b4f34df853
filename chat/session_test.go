// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feria-market/feria-chat/lib/clock"
	"github.com/feria-market/feria-chat/lib/testutil"
	"github.com/feria-market/feria-chat/transport"
)

// fixture wires a Session (and optionally a Dispatcher) against a
// scripted backend and an in-memory transport. The signed-in user is
// 1; the fixture backend serves the conversations of directoryFixture
// and per-conversation histories.
type fixture struct {
	t         *testing.T
	server    *httptest.Server
	client    *Client
	directory *Directory
	transport *transport.Memory
	clock     *clock.FakeClock
	session   *Session

	mu        sync.Mutex
	histories map[ConversationID][]Message
	fetches   map[ConversationID]int
	blocked   map[ConversationID]chan struct{}

	// fetchStarted receives the conversation ID each time a history
	// fetch reaches the backend, before any blocking.
	fetchStarted chan ConversationID

	// sendStatus overrides the POST /chats/messages status; zero means
	// 201 with an echo of the request.
	sendStatus int
	sendDelay  chan struct{} // when non-nil, the handler waits on it
	sent       []SendMessageRequest
	nextMsgID  MessageID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:            t,
		histories:    make(map[ConversationID][]Message),
		fetches:      make(map[ConversationID]int),
		blocked:      make(map[ConversationID]chan struct{}),
		fetchStarted: make(chan ConversationID, 16),
		nextMsgID:    1000,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)

	f.client = newTestClient(t, f.server.URL)
	f.directory = NewDirectory(f.client, 1, nil)
	if err := f.directory.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	f.transport = transport.NewMemory()
	f.transport.Connect(context.Background(), "secret-token")
	f.clock = clock.Fake(time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC))
	f.session = NewSession(SessionConfig{
		Client:    f.client,
		Directory: f.directory,
		Transport: f.transport,
		SelfID:    1,
		Clock:     f.clock,
	})
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/chats/my-chats":
		w.Write([]byte(directoryFixture))

	case r.Method == http.MethodPost && r.URL.Path == "/chats/messages":
		f.handleSend(w, r)

	case strings.HasSuffix(r.URL.Path, "/messages"):
		trimmed := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/chats/"), "/messages")
		raw, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			http.Error(w, "bad conversation id", http.StatusBadRequest)
			return
		}
		f.handleHistory(w, ConversationID(raw))

	default:
		http.NotFound(w, r)
	}
}

func (f *fixture) handleHistory(w http.ResponseWriter, id ConversationID) {
	f.mu.Lock()
	f.fetches[id]++
	history := f.histories[id]
	block := f.blocked[id]
	f.mu.Unlock()

	f.fetchStarted <- id
	if block != nil {
		select {
		case <-block:
		case <-time.After(5 * time.Second):
			http.Error(w, "fixture release never arrived", http.StatusInternalServerError)
			return
		}
	}
	if history == nil {
		history = []Message{}
	}
	json.NewEncoder(w).Encode(history)
}

func (f *fixture) handleSend(w http.ResponseWriter, r *http.Request) {
	var request SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.sent = append(f.sent, request)
	status := f.sendStatus
	delay := f.sendDelay
	f.nextMsgID++
	id := f.nextMsgID
	f.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-time.After(5 * time.Second):
			http.Error(w, "fixture release never arrived", http.StatusInternalServerError)
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"message": "scripted failure"}`)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(Message{
		ID:             id,
		ConversationID: request.ConversationID,
		SenderID:       request.SenderID,
		Content:        request.Content,
		SentAt:         time.Date(2026, 8, 10, 12, 0, 5, 0, time.UTC),
	})
}

// setHistory scripts the message history served for a conversation.
func (f *fixture) setHistory(id ConversationID, messages ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories[id] = messages
}

// blockHistory makes history fetches for id hang until the returned
// function is called.
func (f *fixture) blockHistory(id ConversationID) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocked[id] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fixture) fetchCount(id ConversationID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

func (f *fixture) sentRequests() []SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendMessageRequest(nil), f.sent...)
}

// deliver injects a live message carrying a well-formed envelope.
func (f *fixture) deliver(conversation ConversationID, sender UserID, content string) {
	f.transport.Deliver(transport.Message{
		ConversationID: int64(conversation),
		Content:        envelope{ChatID: conversation, Content: content, SenderID: sender}.encode(),
		SentAt:         f.clock.Now(),
	})
}

func historyMessage(id MessageID, conversation ConversationID, sender UserID, content string) Message {
	return Message{
		ID:             id,
		ConversationID: conversation,
		SenderID:       sender,
		Content:        content,
		SentAt:         time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second),
	}
}

func TestActivateJoinsAndLoadsHistory(t *testing.T) {
	f := newFixture(t)
	f.setHistory(10,
		historyMessage(100, 10, 2, "hola"),
		historyMessage(101, 10, 1, "buenas"),
	)

	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if state := f.session.State(); state != StateActive {
		t.Errorf("got state %v, want active", state)
	}
	if active, ok := f.session.Active(); !ok || active != 10 {
		t.Errorf("got active %d, %v", active, ok)
	}
	messages := f.session.Messages()
	if len(messages) != 2 || messages[0].ID != 100 || messages[1].ID != 101 {
		t.Errorf("history not installed verbatim: %+v", messages)
	}
	joins := f.transport.OpsOf(transport.OpJoin)
	if len(joins) != 1 || joins[0].ConversationID != 10 {
		t.Errorf("got joins %v, want one join of 10", joins)
	}
}

func TestActivateLeavesPreviousRoomBeforeJoining(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate(10): %v", err)
	}
	f.transport.ClearOps()

	if err := f.session.Activate(context.Background(), 11); err != nil {
		t.Fatalf("Activate(11): %v", err)
	}

	ops := f.transport.Ops()
	if len(ops) != 2 {
		t.Fatalf("got ops %v, want leave then join", ops)
	}
	if ops[0].Kind != transport.OpLeave || ops[0].ConversationID != 10 {
		t.Errorf("first op %v, want leave 10", ops[0])
	}
	if ops[1].Kind != transport.OpJoin || ops[1].ConversationID != 11 {
		t.Errorf("second op %v, want join 11", ops[1])
	}
}

func TestActivateIdempotentForActiveConversation(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if err := f.session.Activate(context.Background(), 10); err != nil {
			t.Fatalf("Activate #%d: %v", i, err)
		}
	}

	if joins := f.transport.OpsOf(transport.OpJoin); len(joins) != 1 {
		t.Errorf("got %d joins, want 1", len(joins))
	}
	if n := f.fetchCount(10); n != 1 {
		t.Errorf("got %d history fetches, want 1", n)
	}
}

func TestStaleHistoryFetchDiscarded(t *testing.T) {
	f := newFixture(t)
	f.setHistory(10, historyMessage(100, 10, 2, "old thread"))
	f.setHistory(11, historyMessage(200, 11, 3, "new thread"))
	release := f.blockHistory(10)
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.session.Activate(context.Background(), 10) }()
	if id := testutil.RequireReceive(t, f.fetchStarted, 5*time.Second, "first fetch"); id != 10 {
		t.Fatalf("fetch started for %d, want 10", id)
	}

	// Switch while the first fetch hangs.
	if err := f.session.Activate(context.Background(), 11); err != nil {
		t.Fatalf("Activate(11): %v", err)
	}
	release()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "stale activation"); err != nil {
		t.Fatalf("stale Activate returned error: %v", err)
	}

	if active, _ := f.session.Active(); active != 11 {
		t.Errorf("got active %d, want 11", active)
	}
	messages := f.session.Messages()
	if len(messages) != 1 || messages[0].ID != 200 {
		t.Errorf("stale history leaked into the view: %+v", messages)
	}
}

func TestActivateFetchFailureReturnsToIdle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chats/my-chats" {
			w.Write([]byte(directoryFixture))
			return
		}
		http.Error(w, `{"message": "history unavailable"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	directory := NewDirectory(client, 1, nil)
	if err := directory.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	memory := transport.NewMemory()
	memory.Connect(context.Background(), "secret-token")
	session := NewSession(SessionConfig{
		Client:    client,
		Directory: directory,
		Transport: memory,
		SelfID:    1,
	})
	t.Cleanup(session.Close)

	err := session.Activate(context.Background(), 10)
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("got %v, want wrapped 500", err)
	}
	if state := session.State(); state != StateIdle {
		t.Errorf("got state %v, want idle after failure", state)
	}
	if _, ok := session.Active(); ok {
		t.Error("no conversation should be active after failure")
	}

	// The room joined for the failed activation is left again.
	ops := memory.Ops()
	if len(ops) != 2 || ops[0].Kind != transport.OpJoin || ops[1].Kind != transport.OpLeave {
		t.Errorf("got ops %v, want join then compensating leave", ops)
	}
}

func TestInboundAppendsOnlyToActiveConversation(t *testing.T) {
	f := newFixture(t)
	f.setHistory(10, historyMessage(100, 10, 2, "hola"))
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	f.deliver(10, 2, "sigue disponible?")
	f.deliver(11, 3, "otra conversacion")

	messages := f.session.Messages()
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want history + one live", len(messages))
	}
	if messages[1].Content != "sigue disponible?" || messages[1].SenderID != 2 {
		t.Errorf("unexpected live message: %+v", messages[1])
	}

	// Both messages bump the directory, active or not.
	requireOrder(t, f.directory, 11, 10, 12)
}

func TestInboundBumpsDirectoryWhileIdle(t *testing.T) {
	f := newFixture(t)
	f.deliver(12, 4, "hola vendedor")

	requireOrder(t, f.directory, 12, 10, 11)
	if got := f.session.Messages(); len(got) != 0 {
		t.Errorf("idle session accumulated messages: %+v", got)
	}
}

func TestInboundMalformedEnvelopeDropped(t *testing.T) {
	f := newFixture(t)
	f.setHistory(10)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	f.transport.Deliver(transport.Message{
		ConversationID: 11,
		Content:        "not json at all",
	})

	if got := f.session.Messages(); len(got) != 0 {
		t.Errorf("malformed message appended: %+v", got)
	}
	// The outer frame still names the conversation: the directory
	// learns about the activity.
	requireOrder(t, f.directory, 11, 10, 12)
}

func TestTypingIndicatorLifecycle(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Peer of conversation 10 is user 2.
	f.transport.DeliverTyping(transport.TypingEvent{UserID: 2, IsTyping: true})
	if peers := f.session.TypingPeers(); len(peers) != 1 || peers[0] != 2 {
		t.Fatalf("got typing peers %v, want [2]", peers)
	}

	f.transport.DeliverTyping(transport.TypingEvent{UserID: 2, IsTyping: false})
	if peers := f.session.TypingPeers(); len(peers) != 0 {
		t.Fatalf("typing flag not cleared: %v", peers)
	}
}

func TestTypingIndicatorExpiresWithoutRefresh(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	f.transport.DeliverTyping(transport.TypingEvent{UserID: 2, IsTyping: true})
	f.clock.Advance(typingExpiry - time.Second)
	if peers := f.session.TypingPeers(); len(peers) != 1 {
		t.Fatalf("flag expired early: %v", peers)
	}

	// A refresh restarts the window.
	f.transport.DeliverTyping(transport.TypingEvent{UserID: 2, IsTyping: true})
	f.clock.Advance(typingExpiry - time.Second)
	if peers := f.session.TypingPeers(); len(peers) != 1 {
		t.Fatalf("refresh did not extend expiry: %v", peers)
	}

	f.clock.Advance(time.Second)
	if peers := f.session.TypingPeers(); len(peers) != 0 {
		t.Fatalf("flag survived the expiry window: %v", peers)
	}
}

func TestTypingIgnoresSelfAndStrangers(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Echo of the signed-in user's own typing.
	f.transport.DeliverTyping(transport.TypingEvent{UserID: 1, IsTyping: true})
	// A user who is not the active conversation's peer.
	f.transport.DeliverTyping(transport.TypingEvent{UserID: 3, IsTyping: true})

	if peers := f.session.TypingPeers(); len(peers) != 0 {
		t.Fatalf("got typing peers %v, want none", peers)
	}
}

func TestTypingIgnoredWhenConversationUnlisted(t *testing.T) {
	f := newFixture(t)
	// Conversation 99 is not in the directory; activation by direct ID
	// still works (the backend serves an empty history), but no peer
	// can be verified for it.
	if err := f.session.Activate(context.Background(), 99); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	f.transport.DeliverTyping(transport.TypingEvent{UserID: 2, IsTyping: true})
	if peers := f.session.TypingPeers(); len(peers) != 0 {
		t.Fatalf("unverifiable typing signal accepted: %v", peers)
	}
}

func TestTypingIgnoredWhileIdle(t *testing.T) {
	f := newFixture(t)
	f.transport.DeliverTyping(transport.TypingEvent{UserID: 2, IsTyping: true})
	if peers := f.session.TypingPeers(); len(peers) != 0 {
		t.Fatalf("idle session recorded typing: %v", peers)
	}
}

func TestSwitchClearsMessagesAndTyping(t *testing.T) {
	f := newFixture(t)
	f.setHistory(10, historyMessage(100, 10, 2, "hola"))
	f.setHistory(11, historyMessage(200, 11, 3, "hey"))
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate(10): %v", err)
	}
	f.transport.DeliverTyping(transport.TypingEvent{UserID: 2, IsTyping: true})

	if err := f.session.Activate(context.Background(), 11); err != nil {
		t.Fatalf("Activate(11): %v", err)
	}

	messages := f.session.Messages()
	if len(messages) != 1 || messages[0].ID != 200 {
		t.Errorf("previous conversation's state leaked: %+v", messages)
	}
	if peers := f.session.TypingPeers(); len(peers) != 0 {
		t.Errorf("typing set survived the switch: %v", peers)
	}
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	f.transport.ClearOps()

	f.session.Deactivate()

	if state := f.session.State(); state != StateIdle {
		t.Errorf("got state %v, want idle", state)
	}
	leaves := f.transport.OpsOf(transport.OpLeave)
	if len(leaves) != 1 || leaves[0].ConversationID != 10 {
		t.Errorf("got leaves %v, want one leave of 10", leaves)
	}
}

func TestDeferredTargetActivation(t *testing.T) {
	f := newFixture(t)
	f.session.SetTarget(11)

	// Target not listed yet: pretend the directory is still loading by
	// asking for a conversation it does not contain.
	f.session.SetTarget(99)
	if err := f.session.ResolveTarget(context.Background()); err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if _, ok := f.session.Active(); ok {
		t.Fatal("unknown target should not activate")
	}

	// Re-target to a listed conversation: resolution activates once.
	f.session.SetTarget(11)
	if err := f.session.ResolveTarget(context.Background()); err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if active, _ := f.session.Active(); active != 11 {
		t.Fatalf("got active %d, want 11", active)
	}

	// Repeated resolution is a no-op: the target was consumed.
	if err := f.session.ResolveTarget(context.Background()); err != nil {
		t.Fatalf("second ResolveTarget: %v", err)
	}
	if n := f.fetchCount(11); n != 1 {
		t.Errorf("got %d history fetches, want 1", n)
	}
}

func TestUpdatesSignalCoalesces(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	// Drain whatever activation signaled.
	select {
	case <-f.session.Updates():
	default:
	}

	f.deliver(10, 2, "uno")
	f.deliver(10, 2, "dos")

	testutil.RequireReceive(t, f.session.Updates(), time.Second, "update after delivery")
	if len(f.session.Messages()) != 2 {
		t.Errorf("got %d messages, want 2", len(f.session.Messages()))
	}
}

func TestCloseStopsDeliveryAndRejectsActivation(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Activate(context.Background(), 10); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	f.transport.ClearOps()

	f.session.Close()

	leaves := f.transport.OpsOf(transport.OpLeave)
	if len(leaves) != 1 || leaves[0].ConversationID != 10 {
		t.Errorf("got leaves %v, want one leave of 10", leaves)
	}

	// Subscriptions are cancelled: deliveries no longer reach the
	// session.
	f.deliver(10, 2, "tarde")
	if got := f.session.Messages(); len(got) != 0 {
		t.Errorf("closed session accepted a message: %+v", got)
	}

	err := f.session.Activate(context.Background(), 11)
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("got %v, want ErrSessionClosed", err)
	}

	// The transport itself stays up; the session does not own it.
	if !f.transport.Connected() {
		t.Error("Close must not disconnect the transport")
	}
}
