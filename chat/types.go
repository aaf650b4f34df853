// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserID identifies a marketplace user.
type UserID int64

// ConversationID identifies a two-party conversation.
type ConversationID int64

// MessageID identifies a message within a conversation. Assigned by
// the server when the message is persisted; a live message that has
// not been persisted yet carries zero.
type MessageID int64

// Participant is one party of a conversation, as embedded in the
// conversation payload.
type Participant struct {
	ID        UserID `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DisplayName returns the participant's full name for rendering and
// directory search.
func (p Participant) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Conversation is a two-party message thread. The buyer/seller labels
// come from the marketplace domain and the wire format; the
// synchronization core never interprets the roles — both participants
// are treated symmetrically (see PeerOf).
type Conversation struct {
	ID        ConversationID `json:"chatId"`
	BuyerID   UserID         `json:"buyerId"`
	SellerID  UserID         `json:"sellerId"`
	StartedAt time.Time      `json:"startedAt"`

	// Buyer and Seller are optionally expanded by the server.
	Buyer  *Participant `json:"buyer,omitempty"`
	Seller *Participant `json:"seller,omitempty"`

	// Messages is lazily loaded; absent until history is fetched.
	Messages []Message `json:"messages,omitempty"`
}

// Message is one persisted or live chat message. Within a conversation
// messages are totally ordered by SentAt, ties broken by ascending ID;
// once the server has assigned an ID the message is immutable.
type Message struct {
	ID             MessageID      `json:"messageId"`
	ConversationID ConversationID `json:"chatId"`
	SenderID       UserID         `json:"senderId"`
	Content        string         `json:"content"`
	SentAt         time.Time      `json:"sentAt"`
}

// PeerOf returns the participant of c that is not selfID. The roles
// are compared symmetrically; no buyer/seller semantics apply.
//
// If selfID is neither participant the conversation is a
// data-integrity fault: the error is returned and the caller must
// treat the conversation as unrenderable (hide it) rather than crash.
func PeerOf(c Conversation, selfID UserID) (Participant, error) {
	switch selfID {
	case c.BuyerID:
		if c.Seller != nil {
			return *c.Seller, nil
		}
		return Participant{ID: c.SellerID}, nil
	case c.SellerID:
		if c.Buyer != nil {
			return *c.Buyer, nil
		}
		return Participant{ID: c.BuyerID}, nil
	default:
		return Participant{}, fmt.Errorf("chat: conversation %d: user %d: %w", c.ID, selfID, ErrNotParticipant)
	}
}

// envelope is the application payload carried inside the live
// channel's content field. The wire protocol double-encodes it: the
// send-message event's content string is itself this JSON document.
type envelope struct {
	ChatID   ConversationID `json:"chatId"`
	Content  string         `json:"content"`
	SenderID UserID         `json:"senderId"`
}

func (e envelope) encode() string {
	data, _ := json.Marshal(e)
	return string(data)
}

func decodeEnvelope(content string) (envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return envelope{}, fmt.Errorf("chat: decoding live message envelope: %w", err)
	}
	return e, nil
}
