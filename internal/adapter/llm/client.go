// Package llm provides the streaming chat client for the compliance assistant endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

const readChunkSize = 4096

// Options configures a Client.
type Options struct {
	// Token is sent as a bearer token when non-empty.
	Token string
	// Timeout bounds connection setup and response headers. The body is
	// bounded only by the caller's context.
	Timeout time.Duration
	// MaxFrameRetries bounds how often an unparsable line is retried before
	// it is dropped. Zero retries forever.
	MaxFrameRetries int
	// RequireDone makes a clean end of data without [DONE] a stream failure.
	RequireDone bool
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client streams assistant replies into a transcript.
// A Client runs at most one stream at a time.
type Client struct {
	endpoint        string
	token           string
	httpClient      *http.Client
	maxFrameRetries int
	requireDone     bool

	mu       sync.Mutex
	inFlight bool
}

// NewHTTPClient returns an HTTP client suited to long-lived streams:
// timeout bounds the wait for response headers, not the body.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// NewClient creates a new streaming chat client for endpoint.
func NewClient(endpoint string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(opts.Timeout)
	}
	return &Client{
		endpoint:        endpoint,
		token:           opts.Token,
		httpClient:      httpClient,
		maxFrameRetries: opts.MaxFrameRetries,
		requireDone:     opts.RequireDone,
	}
}

// SendOption adjusts a single SendMessage call.
type SendOption func(*sendConfig)

type sendConfig struct {
	keepPartialOnCancel bool
}

// KeepPartialOnCancel keeps the partially filled assistant turn when the
// caller's context is cancelled, instead of removing it.
func KeepPartialOnCancel() SendOption {
	return func(c *sendConfig) {
		c.keepPartialOnCancel = true
	}
}

// InFlight reports whether a stream is currently open.
func (c *Client) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// SendMessage appends a user turn with text to the transcript, posts the
// full history to the chat endpoint and fills a new assistant turn with the
// streamed reply.
//
// Errors wrap domain.ErrRateLimited and domain.ErrStreamStartFailed (only
// the user turn was added) or domain.ErrStreamFailed (the assistant turn
// was removed again).
func (c *Client) SendMessage(ctx context.Context, transcript *domain.Transcript, text string, opts ...SendOption) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyMessage
	}
	if !c.acquire() {
		return nil, domain.ErrStreamInFlight
	}
	defer c.release()

	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	transcript.Append(domain.ConversationTurn{Role: domain.RoleUser, Content: text})

	resp, err := c.openStream(ctx, transcript.Snapshot())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if _, err := transcript.OpenAssistant(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStreamStartFailed, err)
	}

	result, err := c.readStream(ctx, resp.Body, transcript)
	if err != nil {
		if cfg.keepPartialOnCancel && ctx.Err() != nil {
			transcript.Close()
			return result, fmt.Errorf("%w: %w", domain.ErrStreamFailed, err)
		}
		if rmErr := transcript.RemoveLast(); rmErr != nil {
			return nil, fmt.Errorf("%w: %w (remove turn: %v)", domain.ErrStreamFailed, err, rmErr)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStreamFailed, err)
	}

	transcript.Close()
	return result, nil
}

// openStream issues the POST and checks the response status.
func (c *Client) openStream(ctx context.Context, history []domain.ConversationTurn) (*http.Response, error) {
	body, err := json.Marshal(ChatRequest{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", domain.ErrStreamStartFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", domain.ErrStreamStartFailed, err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", domain.ErrStreamStartFailed, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("%w: status %d: %s (type: %s)", domain.ErrStreamStartFailed, resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrStreamStartFailed, resp.StatusCode, truncate(string(respBody), 200))
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("%w: response has no body", domain.ErrStreamStartFailed)
	}

	return resp, nil
}

// readStream runs the read loop until end of data or [DONE].
func (c *Client) readStream(ctx context.Context, body io.Reader, transcript *domain.Transcript) (*Result, error) {
	reader := newStreamReader(c.maxFrameRetries)
	var content strings.Builder
	var replaceErr error

	emit := func(delta string) {
		if replaceErr != nil {
			return
		}
		content.WriteString(delta)
		replaceErr = transcript.ReplaceLast(content.String())
	}
	result := func() *Result {
		return &Result{
			Content: content.String(),
			Frames:  reader.frames,
			SawDone: reader.done,
			Dropped: reader.dropped,
		}
	}

	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return result(), err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			done, err := reader.Feed(buf[:n], emit)
			if err != nil {
				return result(), fmt.Errorf("failed to decode stream: %w", err)
			}
			if replaceErr != nil {
				return result(), replaceErr
			}
			if done {
				return result(), nil
			}
		}

		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result(), ctxErr
			}
			return result(), fmt.Errorf("failed to read stream: %w", readErr)
		}

		done, err := reader.Finish(emit)
		if err != nil {
			return result(), fmt.Errorf("failed to decode stream: %w", err)
		}
		if replaceErr != nil {
			return result(), replaceErr
		}
		if !done && c.requireDone {
			return result(), io.ErrUnexpectedEOF
		}
		return result(), nil
	}
}

func (c *Client) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return false
	}
	c.inFlight = true
	return true
}

func (c *Client) release() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
