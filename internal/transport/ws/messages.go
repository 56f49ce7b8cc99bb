package ws

import "github.com/xiaot623/gogo/esgchat/internal/domain"

// Message types from viewer to server
const (
	TypeSend   = "send"
	TypeCancel = "cancel"
)

// Message types from server to viewer. Transcript changes are pushed as
// service.SessionChange with type "transcript_change".
const (
	TypeSnapshot = "snapshot"
	TypeDone     = "done"
	TypeError    = "error"
)

// Error codes for error messages not derived from a domain error.
const (
	ErrorCodeInvalidMessage = "invalid_message"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SnapshotMessage carries the full transcript when a viewer connects.
// Changes with a version up to Version are already part of Turns.
type SnapshotMessage struct {
	BaseMessage
	Turns   []domain.ConversationTurn `json:"turns"`
	Version uint64                    `json:"version"`
}

// SendMessage asks the server to send content as the viewer's next turn.
type SendMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// DoneMessage is broadcast when an exchange completes.
type DoneMessage struct {
	BaseMessage
	ExchangeID string `json:"exchange_id"`
	Reply      string `json:"reply"`
}

// ErrorMessage reports a failure to the viewer that caused it.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}
