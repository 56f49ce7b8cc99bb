package llm

import (
	"context"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

// ChatStreamer streams one assistant reply per call into a transcript.
type ChatStreamer interface {
	// SendMessage appends text as a user turn and streams the reply.
	SendMessage(ctx context.Context, transcript *domain.Transcript, text string, opts ...SendOption) (*Result, error)

	// InFlight reports whether a stream is currently open.
	InFlight() bool
}

// Ensure Client implements ChatStreamer interface.
var _ ChatStreamer = (*Client)(nil)
