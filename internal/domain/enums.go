// Package domain defines the core domain models for the compliance chat service.
package domain

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known turn role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// AppRole is a dashboard role stored in user_roles.
type AppRole string

const (
	AppRoleAdmin   AppRole = "admin"
	AppRoleAuditor AppRole = "auditor"
	AppRoleViewer  AppRole = "viewer"
)

// Valid reports whether r is a known application role.
func (r AppRole) Valid() bool {
	switch r {
	case AppRoleAdmin, AppRoleAuditor, AppRoleViewer:
		return true
	}
	return false
}

// EventType represents the type of a chat trace event.
type EventType string

const (
	EventTypeChatStarted     EventType = "chat_started"
	EventTypeChatRateLimited EventType = "chat_rate_limited"
	EventTypeChatStartFailed EventType = "chat_start_failed"
	EventTypeChatFailed      EventType = "chat_failed"
	EventTypeChatDone        EventType = "chat_done"
	EventTypeChatCancelled   EventType = "chat_cancelled"
)

// Action names a policy-checked chat operation.
type Action string

const (
	ActionChatSend    Action = "chat.send"
	ActionChatCancel  Action = "chat.cancel"
	ActionChatHistory Action = "chat.history"
)
