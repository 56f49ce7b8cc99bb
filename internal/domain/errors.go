package domain

import "errors"

var (
	// ErrRateLimited is returned when the chat endpoint answers 429 on stream start.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrStreamStartFailed is returned for any other non-success status or a missing body.
	ErrStreamStartFailed = errors.New("failed to start stream")
	// ErrStreamFailed is returned when the stream breaks after the assistant turn was opened.
	ErrStreamFailed = errors.New("stream failed")
	// ErrStreamInFlight is returned when a send is attempted while a stream is open.
	ErrStreamInFlight = errors.New("a stream is already in flight")
	// ErrEmptyMessage is returned when the message is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	ErrForbidden       = errors.New("forbidden")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoOpenTurn      = errors.New("no open assistant turn")
	ErrTranscriptEmpty = errors.New("transcript is empty")
)
