// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "encoding/json"

// Event names on the live channel. Outbound events express intent;
// inbound events deliver activity for joined conversations. The
// joined-chat and left-chat acks carry no information the client acts
// on and are logged at debug level only.
const (
	eventJoin    = "join-chat"
	eventLeave   = "leave-chat"
	eventSend    = "send-message"
	eventTyping  = "typing"
	eventMessage = "new-message"
	eventPeer    = "user-typing"
	eventJoined  = "joined-chat"
	eventLeft    = "left-chat"
)

// frame is the envelope for every event in both directions: a JSON
// text frame {"event": ..., "data": ...}.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// newFrame builds an outbound frame. Marshal errors cannot occur for
// the fixed payload shapes below, so they are swallowed here rather
// than threaded through every emit path.
func newFrame(event string, data any) frame {
	raw, _ := json.Marshal(data)
	return frame{Event: event, Data: raw}
}

// sendPayload is the data shape of the send-message event. Content is
// the opaque application payload; for this protocol the sending side
// encodes a second JSON envelope into it (see the chat package).
type sendPayload struct {
	ChatID  int64  `json:"chatId"`
	Content string `json:"content"`
}

// typingPayload is the data shape of the typing event.
type typingPayload struct {
	ChatID   int64 `json:"chatId"`
	IsTyping bool  `json:"isTyping"`
}
