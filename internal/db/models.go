package db

import (
	"encoding/json"
	"time"
)

// QueuedMessage is one pending outbound webhook call.
type QueuedMessage struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	ThreadID    *string         `json:"thread_id,omitempty"` // nil until the session's thread exists
	WebhookBody json.RawMessage `json:"webhook_body"`
	CreatedAt   int64           `json:"created_at"` // unix milliseconds
	RetryCount  int             `json:"retry_count"`
	LastError   *string         `json:"last_error,omitempty"`
}

// HasThread reports whether the message already targets a thread.
func (m *QueuedMessage) HasThread() bool {
	return m.ThreadID != nil && *m.ThreadID != ""
}

// Created returns CreatedAt as a time.Time.
func (m *QueuedMessage) Created() time.Time {
	return time.UnixMilli(m.CreatedAt)
}
