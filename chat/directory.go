// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Directory holds the signed-in user's ordered conversation list. The
// order is the server's on load; afterward the only reordering rule is
// BumpToTop on live activity — opening a conversation, in particular,
// does not move it. Safe for concurrent use.
type Directory struct {
	client *Client
	selfID UserID
	logger *slog.Logger

	mu            sync.Mutex
	conversations []Conversation
	loaded        bool
}

// NewDirectory creates a Directory for the signed-in user. Call Load
// before reading.
func NewDirectory(client *Client, selfID UserID, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{client: client, selfID: selfID, logger: logger}
}

// Load fetches the conversation list and installs it verbatim,
// replacing any previous content.
func (d *Directory) Load(ctx context.Context) error {
	conversations, err := d.client.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("chat: loading directory: %w", err)
	}

	d.mu.Lock()
	d.conversations = conversations
	d.loaded = true
	d.mu.Unlock()

	d.logger.Debug("directory loaded", "conversations", len(conversations))
	return nil
}

// Loaded reports whether Load has completed at least once.
func (d *Directory) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Conversations returns a copy of the current ordered list.
func (d *Directory) Conversations() []Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]Conversation, len(d.conversations))
	copy(list, d.conversations)
	return list
}

// Get returns the conversation with the given ID.
func (d *Directory) Get(id ConversationID) (Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}

// Peer resolves the other participant of c relative to the signed-in
// user. Returns ErrNotParticipant for a conversation the user is not
// part of; the caller hides such a conversation instead of rendering
// it.
func (d *Directory) Peer(c Conversation) (Participant, error) {
	return PeerOf(c, d.selfID)
}

// BumpToTop moves the conversation to the front of the list,
// preserving the relative order of all others. No-op when the ID is
// not present. This is the only reordering the Directory performs, and
// it is applied for every inbound live message regardless of which
// conversation is active.
func (d *Directory) BumpToTop(id ConversationID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.conversations {
		if c.ID != id {
			continue
		}
		if i == 0 {
			return
		}
		copy(d.conversations[1:i+1], d.conversations[:i])
		d.conversations[0] = c
		return
	}
}

// Filter returns the conversations satisfying pred, in directory
// order. Pure projection: the underlying order is not touched.
func (d *Directory) Filter(pred func(Conversation) bool) []Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matched []Conversation
	for _, c := range d.conversations {
		if pred(c) {
			matched = append(matched, c)
		}
	}
	return matched
}

// Search returns the conversations whose peer display name contains
// term, case-insensitively. An empty term matches everything.
// Conversations with an unresolvable peer are excluded — the
// data-integrity fault hides them rather than failing the search.
func (d *Directory) Search(term string) []Conversation {
	term = strings.ToLower(strings.TrimSpace(term))
	return d.Filter(func(c Conversation) bool {
		peer, err := PeerOf(c, d.selfID)
		if err != nil {
			d.logger.Warn("hiding conversation with unresolvable peer",
				"conversation_id", c.ID,
				"error", err,
			)
			return false
		}
		if term == "" {
			return true
		}
		return strings.Contains(strings.ToLower(peer.DisplayName()), term)
	})
}
