// Copyright 2026 The Feria Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the synchronization core. All of them
// are precondition failures recovered at the caller; none indicate a
// broken connection or lost data.
var (
	// ErrNotParticipant marks a conversation whose participants do not
	// include the signed-in user — a data-integrity fault. Callers
	// hide the conversation instead of rendering it.
	ErrNotParticipant = errors.New("not a participant")

	// ErrEmptyMessage rejects a send whose text is empty after
	// trimming. Nothing is emitted on either channel.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoActiveConversation rejects a send when no conversation is
	// active.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrSendInFlight rejects a send while a previous send for the
	// same session has not resolved. Sends are single-flight; the
	// caller retries after the pending one settles.
	ErrSendInFlight = errors.New("send already in flight")

	// ErrSessionClosed rejects operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")
)

// APIError is a structured error response from the REST backend.
// Callers use errors.As to extract it:
//
//	var apiErr *chat.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound { ... }
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
	// Code is the machine-readable error code, when the server
	// provides one.
	Code string `json:"code"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *APIError with the given HTTP
// status code.
func IsStatus(err error, statusCode int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == statusCode
}
