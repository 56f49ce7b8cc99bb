package llm

import (
	"log"
	"os"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewChatStreamer creates a streamer based on the GOGO_MODE environment variable.
// If GOGO_MODE=MOCK, the client talks to an in-process mock endpoint.
func NewChatStreamer(endpoint string, opts Options) ChatStreamer {
	if os.Getenv(EnvGogoMode) == ModeMock {
		log.Println("GOGO_MODE=MOCK detected, using mock chat endpoint")
		return NewMockClient(opts)
	}
	return NewClient(endpoint, opts)
}
