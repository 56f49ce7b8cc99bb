package domain

import (
	"encoding/json"
	"time"
)

// Session is a chat conversation owned by one user.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a trace event of one chat exchange.
type Event struct {
	EventID    string          `json:"event_id"`
	SessionID  string          `json:"session_id"`
	ExchangeID string          `json:"exchange_id"`
	Ts         int64           `json:"ts"` // Unix milliseconds
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// UserRole grants an application role to a user.
type UserRole struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      AppRole   `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatStartedPayload is recorded when a send is issued upstream.
type ChatStartedPayload struct {
	HistoryLen int `json:"history_len"`
}

// ChatDonePayload is recorded when a stream completes.
type ChatDonePayload struct {
	Frames    int   `json:"frames"`
	Chars     int   `json:"chars"`
	SawDone   bool  `json:"saw_done"`
	LatencyMs int64 `json:"latency_ms"`
}

// ChatFailedPayload is recorded for every failed exchange.
type ChatFailedPayload struct {
	Error     string `json:"error"`
	LatencyMs int64  `json:"latency_ms"`
}

// SendRequest is a user message to a session.
type SendRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

// SendResult is the outcome of a completed exchange.
type SendResult struct {
	SessionID  string             `json:"session_id"`
	ExchangeID string             `json:"exchange_id"`
	Reply      string             `json:"reply"`
	Transcript []ConversationTurn `json:"transcript"`
}
