package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

// recordEvent records an event to the store.
func (s *Service) recordEvent(ctx context.Context, sessionID, exchangeID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.Event{
		EventID:    "evt_" + uuid.New().String()[:8],
		SessionID:  sessionID,
		ExchangeID: exchangeID,
		Ts:         time.Now().UnixMilli(),
		Type:       eventType,
		Payload:    payloadBytes,
	}

	return s.store.CreateEvent(ctx, event)
}

// GetEvents returns the trace events of a session, oldest first.
func (s *Service) GetEvents(ctx context.Context, sessionID, userID string, types []string, limit int) ([]domain.Event, error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, domain.ActionChatHistory, userID, session.UserID); err != nil {
		return nil, err
	}

	events, err := s.store.GetEvents(ctx, sessionID, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}
