package llm

import "github.com/xiaot623/gogo/esgchat/internal/domain"

// ChatRequest is the body posted to the chat endpoint.
type ChatRequest struct {
	Messages []domain.ConversationTurn `json:"messages"`
}

// ChatMessage is the message or delta carried by a choice.
type ChatMessage struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int          `json:"index"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// StreamChunk is the JSON envelope of one data frame.
// Only choices[0].delta.content is consumed; the rest is informational.
type StreamChunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError represents the error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Result describes a completed stream.
type Result struct {
	// Content is the final assistant turn content.
	Content string
	// Frames is the number of data frames that carried a non-empty delta.
	Frames int
	// SawDone is true when the stream ended with the [DONE] sentinel.
	SawDone bool
	// Dropped counts frames discarded after exhausting their retry bound.
	Dropped int
}
