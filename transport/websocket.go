// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/feria-market/feria-chat/lib/clock"
)

const (
	// writeWait bounds every write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long the connection may stay silent before the
	// read side gives up. Refreshed by every pong.
	pongWait = 60 * time.Second
	// pingPeriod is how often keep-alive pings go out. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize caps inbound frames. Chat messages are short; a
	// larger frame indicates a confused or hostile server.
	maxFrameSize = 64 * 1024

	// maxDialAttempts bounds one Connect call. A Connect that exhausts
	// its attempts leaves the transport disconnected; the caller may
	// invoke Connect again later.
	maxDialAttempts = 3
	// dialBackoffStep grows the wait linearly between attempts.
	dialBackoffStep = time.Second
)

// WebsocketConfig configures a Websocket transport.
type WebsocketConfig struct {
	// URL is the ws:// or wss:// endpoint of the chat server.
	URL string
	// Logger receives connection lifecycle and protocol records. If
	// nil, slog.Default() is used.
	Logger *slog.Logger
	// Clock drives the keep-alive ticker and dial backoff. If nil,
	// clock.Real() is used.
	Clock clock.Clock
	// Dialer overrides the websocket dialer. If nil, a dialer with a
	// 30-second handshake timeout is used.
	Dialer *websocket.Dialer
}

// Websocket is the production Transport: one gorilla/websocket client
// connection carrying JSON event frames. Safe for concurrent use; a
// single mutex serializes writes, and the read pump runs in its own
// goroutine per connection.
type Websocket struct {
	url    string
	logger *slog.Logger
	clock  clock.Clock
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	connID     string // uuid tagging log records for one connection
	generation int    // increments per successful dial; stale pumps detect replacement
	dialing    bool

	messages subscribers[Message]
	typing   subscribers[TypingEvent]
}

var _ Transport = (*Websocket)(nil)

// NewWebsocket creates a Websocket transport. It does not connect;
// call Connect.
func NewWebsocket(config WebsocketConfig) *Websocket {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	}
	return &Websocket{
		url:    config.URL,
		logger: logger,
		clock:  clk,
		dialer: dialer,
	}
}

// Connect dials the server with the bearer token in the handshake.
// No-op when already connected or when another Connect is in flight.
// Retries the dial a bounded number of times with linear backoff; if
// every attempt fails, the transport stays disconnected and the
// failure is visible only in the log.
func (w *Websocket) Connect(ctx context.Context, token string) {
	w.mu.Lock()
	if w.conn != nil || w.dialing {
		w.mu.Unlock()
		return
	}
	w.dialing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.dialing = false
		w.mu.Unlock()
	}()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	var conn *websocket.Conn
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		dialed, _, err := w.dialer.DialContext(ctx, w.url, header)
		if err == nil {
			conn = dialed
			break
		}
		w.logger.Error("websocket dial failed",
			"url", w.url,
			"attempt", attempt,
			"max_attempts", maxDialAttempts,
			"error", err,
		)
		if ctx.Err() != nil {
			return
		}
		if attempt < maxDialAttempts {
			select {
			case <-ctx.Done():
				return
			case <-w.clock.After(time.Duration(attempt) * dialBackoffStep):
			}
		}
	}
	if conn == nil {
		return
	}

	conn.SetReadLimit(maxFrameSize)

	w.mu.Lock()
	w.conn = conn
	w.connID = uuid.NewString()
	w.generation++
	generation := w.generation
	logger := w.logger.With("conn_id", w.connID)
	w.mu.Unlock()

	logger.Info("websocket connected", "url", w.url)
	go w.readPump(conn, generation, logger)
	go w.pingLoop(conn, generation)
}

// Disconnect closes the connection and nulls the internal handle.
// Idempotent.
func (w *Websocket) Disconnect() {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Join sends a join-chat intent for the conversation.
func (w *Websocket) Join(conversationID int64) {
	w.writeFrame(newFrame(eventJoin, conversationID))
}

// Leave sends a leave-chat intent for the conversation.
func (w *Websocket) Leave(conversationID int64) {
	w.writeFrame(newFrame(eventLeave, conversationID))
}

// SendMessage sends an application payload tagged with the
// conversation ID.
func (w *Websocket) SendMessage(conversationID int64, payload string) {
	w.writeFrame(newFrame(eventSend, sendPayload{ChatID: conversationID, Content: payload}))
}

// SendTyping sends a typing-presence signal.
func (w *Websocket) SendTyping(conversationID int64, isTyping bool) {
	w.writeFrame(newFrame(eventTyping, typingPayload{ChatID: conversationID, IsTyping: isTyping}))
}

// SubscribeMessages registers fn for inbound messages.
func (w *Websocket) SubscribeMessages(fn func(Message)) (cancel func()) {
	return w.messages.add(fn)
}

// SubscribeTyping registers fn for inbound typing signals.
func (w *Websocket) SubscribeTyping(fn func(TypingEvent)) (cancel func()) {
	return w.typing.add(fn)
}

// writeFrame writes one frame under the mutex, or drops it when
// disconnected. Room membership and presence are re-established
// idempotently by the session on its next activation, so a dropped
// frame costs nothing durable.
func (w *Websocket) writeFrame(f frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		w.logger.Debug("dropping frame while disconnected", "event", f.Event)
		return
	}
	w.conn.SetWriteDeadline(w.clock.Now().Add(writeWait))
	if err := w.conn.WriteJSON(f); err != nil {
		w.logger.Error("websocket write failed", "event", f.Event, "conn_id", w.connID, "error", err)
		w.conn.Close()
		w.conn = nil
	}
}

// readPump reads frames until the connection dies, dispatching events
// to subscribers. One pump per connection; generation detects whether
// this pump's connection is still the current one when it exits.
func (w *Websocket) readPump(conn *websocket.Conn, generation int, logger *slog.Logger) {
	defer func() {
		conn.Close()
		w.mu.Lock()
		if w.generation == generation && w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("websocket read failed", "error", err)
			} else {
				logger.Info("websocket closed", "error", err)
			}
			return
		}
		w.dispatch(f, logger)
	}
}

// dispatch routes one inbound frame. Malformed payloads are logged and
// dropped; a bad frame must not kill the connection.
func (w *Websocket) dispatch(f frame, logger *slog.Logger) {
	switch f.Event {
	case eventMessage:
		var message Message
		if err := json.Unmarshal(f.Data, &message); err != nil {
			logger.Error("malformed new-message payload", "error", err)
			return
		}
		w.messages.publish(message)
	case eventPeer:
		var event TypingEvent
		if err := json.Unmarshal(f.Data, &event); err != nil {
			logger.Error("malformed user-typing payload", "error", err)
			return
		}
		w.typing.publish(event)
	case eventJoined, eventLeft:
		logger.Debug("membership ack", "event", f.Event)
	default:
		logger.Debug("ignoring unknown event", "event", f.Event)
	}
}

// pingLoop sends keep-alive pings until the connection is replaced or
// a write fails.
func (w *Websocket) pingLoop(conn *websocket.Conn, generation int) {
	ticker := w.clock.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		w.mu.Lock()
		if w.generation != generation || w.conn != conn {
			w.mu.Unlock()
			return
		}
		conn.SetWriteDeadline(w.clock.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		w.mu.Unlock()
		if err != nil {
			conn.Close()
			return
		}
	}
}
