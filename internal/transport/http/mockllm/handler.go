// Package mockllm serves a canned OpenAI-style completion stream for local runs.
package mockllm

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/esgchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/esgchat/internal/transport/apierror"
)

const frameChunkSize = 10

// Handler handles mock completion requests.
type Handler struct {
	// FrameDelay paces frames so clients render progressively.
	FrameDelay time.Duration
}

// NewHandler creates a new mock completion handler.
func NewHandler() *Handler {
	return &Handler{FrameDelay: 30 * time.Millisecond}
}

// RegisterRoutes registers the mock completion route.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/mock/v1/chat/completions", h.ChatCompletions)
}

// ChatCompletions streams a reply echoing the last user turn.
// POST /mock/v1/chat/completions
func (h *Handler) ChatCompletions(c echo.Context) error {
	var req llm.ChatRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body", "")
	}
	if len(req.Messages) == 0 {
		return apierror.BadRequest(c, "messages is required", "messages")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for _, frame := range llm.MockFrames(llm.MockReply(req.Messages), frameChunkSize) {
		if _, err := fmt.Fprint(c.Response(), frame); err != nil {
			log.Printf("ERROR: mock stream write failed: %v", err)
			return nil
		}
		c.Response().Flush()

		if h.FrameDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(h.FrameDelay):
			}
		}
	}
	return nil
}
