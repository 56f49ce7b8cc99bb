package v1

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
	"github.com/xiaot623/gogo/esgchat/internal/transport/apierror"
)

// SendMessageRequest is the body of a send.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage sends a user message and returns or streams the reply.
// POST /v1/sessions/:session_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	userID := c.Request().Header.Get(HeaderUserID)
	if userID == "" {
		return apierror.BadRequest(c, HeaderUserID+" header is required", "user_id")
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return apierror.BadRequest(c, "invalid request body", "")
	}

	sendReq := domain.SendRequest{
		SessionID: c.Param("session_id"),
		UserID:    userID,
		Content:   req.Content,
	}
	ctx := c.Request().Context()

	if !strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		res, err := h.service.SendMessage(ctx, sendReq)
		if err != nil {
			return apierror.Write(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}

	stream := &eventStream{c: c}
	res, err := h.service.SendMessage(ctx, sendReq, domain.ObserverFunc(func(change domain.TranscriptChange) {
		stream.send(string(change.Kind), change)
	}))
	if err != nil {
		if !stream.started {
			return apierror.Write(c, err)
		}
		stream.send("error", apierror.Envelope(err))
		return nil
	}

	stream.send("done", map[string]string{
		"session_id":  res.SessionID,
		"exchange_id": res.ExchangeID,
		"reply":       res.Reply,
	})
	return nil
}

// eventStream writes server-sent events. Headers are committed with the
// first event so that failures before any change still get a status code.
type eventStream struct {
	c       echo.Context
	started bool
	failed  bool
}

func (s *eventStream) send(event string, v interface{}) {
	if s.failed {
		return
	}
	resp := s.c.Response()
	if !s.started {
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.Header().Set("Connection", "keep-alive")
		resp.WriteHeader(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ERROR: failed to marshal %s event: %v", event, err)
		return
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data); err != nil {
		// The viewer went away; the exchange still completes and is persisted.
		log.Printf("WARN: event stream write failed: %v", err)
		s.failed = true
		return
	}
	resp.Flush()
}

// GetMessages returns the transcript of a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	turns, err := h.service.GetTranscript(c.Request().Context(), sessionID, c.Request().Header.Get(HeaderUserID))
	if err != nil {
		return apierror.Write(c, err)
	}

	hasMore := false
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
		hasMore = true
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"turns":      turns,
		"has_more":   hasMore,
	})
}

// GetEvents returns the trace events of a session.
// GET /v1/sessions/:session_id/events
func (h *Handler) GetEvents(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	var types []string
	if t := c.QueryParam("types"); t != "" {
		types = strings.Split(t, ",")
	}

	events, err := h.service.GetEvents(c.Request().Context(), sessionID, c.Request().Header.Get(HeaderUserID), types, limit)
	if err != nil {
		return apierror.Write(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

// CancelMessage cancels the running exchange of a session.
// POST /v1/sessions/:session_id/cancel
func (h *Handler) CancelMessage(c echo.Context) error {
	cancelled, err := h.service.CancelMessage(c.Request().Context(), c.Param("session_id"), c.Request().Header.Get(HeaderUserID))
	if err != nil {
		return apierror.Write(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}
