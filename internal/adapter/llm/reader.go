package llm

import (
	"log"
	"strings"
)

// DeltaFunc receives each non-empty content delta in stream order.
type DeltaFunc func(delta string)

// streamReader turns raw response chunks into content deltas.
//
// Text that does not yet form a complete line stays in the remainder
// buffer. A complete data line whose payload does not parse is treated as
// incomplete: it stays at the head of the buffer and line processing stops
// until more bytes arrive. After maxRetries further failed attempts the line
// is dropped with a diagnostic; zero means it is retried forever.
type streamReader struct {
	decoder    *textDecoder
	remainder  string
	attempts   int
	maxRetries int

	done    bool
	frames  int
	dropped int
}

func newStreamReader(maxRetries int) *streamReader {
	return &streamReader{
		decoder:    newTextDecoder(),
		maxRetries: maxRetries,
	}
}

// Feed decodes a chunk and processes every complete line it yields.
// It returns true once the [DONE] sentinel has been seen.
func (r *streamReader) Feed(chunk []byte, emit DeltaFunc) (bool, error) {
	if r.done {
		return true, nil
	}
	text, err := r.decoder.Decode(chunk, false)
	if err != nil {
		return false, err
	}
	r.remainder += text
	r.drain(emit, false)
	return r.done, nil
}

// Finish flushes the decoder at end of data and processes what is left.
// Nothing more can arrive, so unparsable lines are dropped instead of
// deferred and a trailing unterminated line is processed as a final line.
func (r *streamReader) Finish(emit DeltaFunc) (bool, error) {
	if r.done {
		return true, nil
	}
	text, err := r.decoder.Decode(nil, true)
	if err != nil {
		return false, err
	}
	r.remainder += text
	r.drain(emit, true)

	if !r.done && r.remainder != "" {
		line := r.remainder
		r.remainder = ""
		r.processLine(line, emit, true)
	}
	return r.done, nil
}

// drain consumes complete lines from the remainder buffer.
func (r *streamReader) drain(emit DeltaFunc, final bool) {
	for !r.done {
		idx := strings.IndexByte(r.remainder, '\n')
		if idx < 0 {
			return
		}
		line := r.remainder[:idx]
		if !r.processLine(line, emit, final) {
			// Deferred: the line stays at the head of the buffer.
			return
		}
		r.remainder = r.remainder[idx+1:]
	}
}

// processLine handles one complete line. It returns false when the line
// must be kept for a later attempt.
func (r *streamReader) processLine(line string, emit DeltaFunc, final bool) bool {
	frame := ClassifyLine(line)
	switch frame.Kind {
	case FrameDone:
		r.done = true
		r.attempts = 0
		return true
	case FrameData:
	default:
		return true
	}

	delta, err := ParseDelta(frame.Payload)
	if err != nil {
		r.attempts++
		if !final && (r.maxRetries <= 0 || r.attempts <= r.maxRetries) {
			return false
		}
		log.Printf("WARN: dropping unparsable stream frame after %d attempts: %v (%q)", r.attempts, err, truncate(frame.Payload, 120))
		r.attempts = 0
		r.dropped++
		return true
	}

	r.attempts = 0
	if delta != "" {
		r.frames++
		emit(delta)
	}
	return true
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
