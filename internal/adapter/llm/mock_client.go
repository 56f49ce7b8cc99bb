package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

const mockEndpoint = "http://mock.invalid/v1/chat/completions"

// NewMockClient creates a client whose requests are answered in-process
// with an OpenAI-style event stream. The real read loop is exercised.
func NewMockClient(opts Options) *Client {
	opts.HTTPClient = &http.Client{Transport: mockTransport{}}
	return NewClient(mockEndpoint, opts)
}

// MockReply generates a canned reply for the last user turn.
func MockReply(history []domain.ConversationTurn) string {
	var lastUserMessage string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			lastUserMessage = history[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the compliance assistant."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

// MockFrames renders reply as event-stream frames of about chunkSize
// bytes each, terminated by the [DONE] sentinel.
func MockFrames(reply string, chunkSize int) []string {
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	var frames []string
	for _, part := range splitIntoChunks(reply, chunkSize) {
		content := part
		chunk := StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   "mock",
			Choices: []Choice{{Delta: &ChatMessage{Role: string(domain.RoleAssistant), Content: &content}}},
		}
		data, _ := json.Marshal(chunk)
		frames = append(frames, fmt.Sprintf("data: %s\n\n", data))
	}
	return append(frames, "data: [DONE]\n\n")
}

type mockTransport struct{}

func (mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var chatReq ChatRequest
	if req.Body != nil {
		defer req.Body.Close()
		if err := json.NewDecoder(req.Body).Decode(&chatReq); err != nil {
			return mockResponse(req, http.StatusBadRequest, `{"error":{"message":"invalid request body","type":"invalid_request_error"}}`), nil
		}
	}

	body := strings.Join(MockFrames(MockReply(chatReq.Messages), 10), "")
	return mockResponse(req, http.StatusOK, body), nil
}

func mockResponse(req *http.Request, status int, body string) *http.Response {
	header := make(http.Header)
	if status == http.StatusOK {
		header.Set("Content-Type", "text/event-stream")
	} else {
		header.Set("Content-Type", "application/json")
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// splitIntoChunks splits a string into chunks of approximately the given
// size without breaking a UTF-8 sequence.
func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		return []string{s}
	}

	var chunks []string
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if b.Len() >= chunkSize {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
