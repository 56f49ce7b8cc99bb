package domain

import "time"

// ConversationTurn is one entry of a chat transcript.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StoredTurn is a persisted conversation turn.
type StoredTurn struct {
	TurnID     string    `json:"turn_id"`
	SessionID  string    `json:"session_id"`
	ExchangeID string    `json:"exchange_id,omitempty"`
	Seq        int       `json:"seq"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Turn returns the wire form of the stored turn.
func (t StoredTurn) Turn() ConversationTurn {
	return ConversationTurn{Role: t.Role, Content: t.Content}
}
