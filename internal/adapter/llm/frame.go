package llm

import (
	"encoding/json"
	"strings"
)

// FrameKind tags one line of the streaming protocol.
type FrameKind int

const (
	// FrameBlank is an empty separator line.
	FrameBlank FrameKind = iota
	// FrameComment is a keep-alive line starting with ':'.
	FrameComment
	// FrameData is a "data: " line carrying a JSON envelope.
	FrameData
	// FrameDone is the "data: [DONE]" sentinel.
	FrameDone
	// FrameMalformed is any other line; it is discarded.
	FrameMalformed
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

func (k FrameKind) String() string {
	switch k {
	case FrameBlank:
		return "blank"
	case FrameComment:
		return "comment"
	case FrameData:
		return "data"
	case FrameDone:
		return "done"
	case FrameMalformed:
		return "malformed"
	}
	return "unknown"
}

// Frame is a classified protocol line.
type Frame struct {
	Kind    FrameKind
	Payload string
}

// ClassifyLine classifies a single line with its terminator already removed.
// A trailing '\r' is stripped.
func ClassifyLine(line string) Frame {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Frame{Kind: FrameBlank}
	}
	if strings.HasPrefix(line, ":") {
		return Frame{Kind: FrameComment}
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{Kind: FrameMalformed}
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return Frame{Kind: FrameDone}
	}
	return Frame{Kind: FrameData, Payload: payload}
}

// ParseDelta extracts choices[0].delta.content from a data payload.
// An empty choices array or a delta without content yields "".
func ParseDelta(payload string) (string, error) {
	var chunk StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", err
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	delta := chunk.Choices[0].Delta
	if delta == nil || delta.Content == nil {
		return "", nil
	}
	return *delta.Content, nil
}
