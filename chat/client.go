// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// TokenSource supplies the bearer token for API requests. The chat
// core does not own authentication; the host application's session
// store implements this.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource returning a fixed token. Suitable for
// tools and tests; interactive applications pass their session store.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token() string { return string(t) }

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the base URL of the chat backend (e.g., "http://localhost:3000").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Tokens supplies the bearer token per request. If nil, requests
	// are sent unauthenticated.
	Tokens TokenSource
}

// Client is the REST client for the conversation and message APIs.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tokens     TokenSource
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("chat: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("chat: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		tokens:     config.Tokens,
	}, nil
}

// Conversations returns all conversations for the signed-in user, in
// the server's order (newest activity first is the server's job — the
// client does not re-sort on load).
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var conversations []Conversation
	if err := c.doRequest(ctx, http.MethodGet, "/chats/my-chats", nil, &conversations); err != nil {
		return nil, fmt.Errorf("chat: listing conversations: %w", err)
	}
	return conversations, nil
}

// ConversationByID fetches a single conversation.
func (c *Client) ConversationByID(ctx context.Context, id ConversationID) (*Conversation, error) {
	var conversation Conversation
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/chats/%d", id), nil, &conversation); err != nil {
		return nil, fmt.Errorf("chat: fetching conversation %d: %w", id, err)
	}
	return &conversation, nil
}

// Messages returns the full message history of a conversation, in
// server order: ascending by sent timestamp, ties by ascending ID.
func (c *Client) Messages(ctx context.Context, id ConversationID) ([]Message, error) {
	var messages []Message
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/chats/%d/messages", id), nil, &messages); err != nil {
		return nil, fmt.Errorf("chat: fetching messages for conversation %d: %w", id, err)
	}
	return messages, nil
}

// SendMessageRequest holds the persistence payload for one outbound
// message.
type SendMessageRequest struct {
	ConversationID ConversationID `json:"chatId"`
	SenderID       UserID         `json:"senderId"`
	Content        string         `json:"content"`
}

// SendMessage persists a message and returns the durable copy with the
// server-assigned ID and timestamp. This call is the source of truth
// for eventual consistency; the live-channel copy of the same message
// is delivery-only.
func (c *Client) SendMessage(ctx context.Context, request SendMessageRequest) (*Message, error) {
	var message Message
	if err := c.doRequest(ctx, http.MethodPost, "/chats/messages", request, &message); err != nil {
		return nil, fmt.Errorf("chat: persisting message to conversation %d: %w", request.ConversationID, err)
	}
	return &message, nil
}

// CreateConversation opens a conversation between a buyer and a
// seller.
func (c *Client) CreateConversation(ctx context.Context, buyerID, sellerID UserID) (*Conversation, error) {
	request := map[string]UserID{"buyerId": buyerID, "sellerId": sellerID}
	var conversation Conversation
	if err := c.doRequest(ctx, http.MethodPost, "/chats", request, &conversation); err != nil {
		return nil, fmt.Errorf("chat: creating conversation: %w", err)
	}
	return &conversation, nil
}

// FindOrCreateConversation returns the signed-in user's conversation
// with the given seller, creating it if none exists. This is the
// "contact the seller" entry point from a product page.
func (c *Client) FindOrCreateConversation(ctx context.Context, sellerID UserID) (*Conversation, error) {
	request := map[string]UserID{"sellerId": sellerID}
	var conversation Conversation
	if err := c.doRequest(ctx, http.MethodPost, "/chats/find-or-create", request, &conversation); err != nil {
		return nil, fmt.Errorf("chat: finding conversation with seller %d: %w", sellerID, err)
	}
	return &conversation, nil
}

// doRequest performs one request and decodes the response into out (when
// non-nil). On 2xx the body is decoded; on anything else the body is
// parsed as an *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody, out any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			request.Header.Set("Authorization", "Bearer "+token)
		}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: response.StatusCode}
		if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(responseBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("parsing response from %s %s: %w", method, path, err)
	}
	return nil
}
