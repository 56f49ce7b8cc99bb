package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/esgchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/esgchat/internal/domain"
	"github.com/xiaot623/gogo/esgchat/policy"
)

// chatSession is the live state of one conversation.
type chatSession struct {
	id         string
	ownerID    string
	transcript *domain.Transcript
	streamer   llm.ChatStreamer

	mu     sync.Mutex
	cancel context.CancelFunc
}

// begin claims the session for one exchange.
func (cs *chatSession) begin(cancel context.CancelFunc) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.cancel != nil {
		return false
	}
	cs.cancel = cancel
	return true
}

func (cs *chatSession) end() {
	cs.mu.Lock()
	cs.cancel = nil
	cs.mu.Unlock()
}

// abort cancels the running exchange and reports whether there was one.
func (cs *chatSession) abort() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.cancel == nil {
		return false
	}
	cs.cancel()
	return true
}

// SendMessage sends one user message in a session and waits for the reply.
// Observers receive every transcript change made during the exchange.
func (s *Service) SendMessage(ctx context.Context, req domain.SendRequest, observers ...domain.Observer) (*domain.SendResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, domain.ErrEmptyMessage
	}
	if req.SessionID == "" {
		req.SessionID = "sess_" + uuid.New().String()[:8]
	}

	existing, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	ownerID := ""
	if existing != nil {
		ownerID = existing.UserID
	}
	if err := s.authorize(ctx, domain.ActionChatSend, req.UserID, ownerID); err != nil {
		return nil, err
	}

	cs, err := s.loadSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	// Another user may have claimed the session since it was looked up.
	if cs.ownerID != ownerID && cs.ownerID != req.UserID {
		if err := s.authorize(ctx, domain.ActionChatSend, req.UserID, cs.ownerID); err != nil {
			return nil, err
		}
	}

	exchangeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !cs.begin(cancel) {
		return nil, domain.ErrStreamInFlight
	}
	defer cs.end()

	for _, o := range observers {
		unsubscribe := cs.transcript.Subscribe(o)
		defer unsubscribe()
	}

	exchangeID := "ex_" + uuid.New().String()[:8]
	// Trace and persistence outlive a cancelled request.
	bg := context.WithoutCancel(ctx)
	startTime := time.Now()

	if err := s.recordEvent(bg, cs.id, exchangeID, domain.EventTypeChatStarted, domain.ChatStartedPayload{
		HistoryLen: cs.transcript.Len() + 1,
	}); err != nil {
		log.Printf("WARN: failed to record chat_started event: %v", err)
	}

	result, err := cs.streamer.SendMessage(exchangeCtx, cs.transcript, req.Content)
	latencyMs := time.Since(startTime).Milliseconds()

	if err != nil {
		if !errors.Is(err, domain.ErrStreamInFlight) {
			s.persistTurn(bg, cs.id, exchangeID, domain.RoleUser, req.Content)
		}
		eventType := failureEventType(err)
		if recordErr := s.recordEvent(bg, cs.id, exchangeID, eventType, domain.ChatFailedPayload{
			Error:     err.Error(),
			LatencyMs: latencyMs,
		}); recordErr != nil {
			log.Printf("WARN: failed to record %s event: %v", eventType, recordErr)
		}
		return nil, err
	}

	s.persistTurn(bg, cs.id, exchangeID, domain.RoleUser, req.Content)
	s.persistTurn(bg, cs.id, exchangeID, domain.RoleAssistant, result.Content)

	if err := s.recordEvent(bg, cs.id, exchangeID, domain.EventTypeChatDone, domain.ChatDonePayload{
		Frames:    result.Frames,
		Chars:     len([]rune(result.Content)),
		SawDone:   result.SawDone,
		LatencyMs: latencyMs,
	}); err != nil {
		log.Printf("WARN: failed to record chat_done event: %v", err)
	}

	return &domain.SendResult{
		SessionID:  cs.id,
		ExchangeID: exchangeID,
		Reply:      result.Content,
		Transcript: cs.transcript.Snapshot(),
	}, nil
}

// CancelMessage cancels the in-flight exchange of a session.
// It reports whether an exchange was running.
func (s *Service) CancelMessage(ctx context.Context, sessionID, userID string) (bool, error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if err := s.authorize(ctx, domain.ActionChatCancel, userID, session.UserID); err != nil {
		return false, err
	}

	s.mu.Lock()
	cs, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return cs.abort(), nil
}

// GetTranscript returns the turns of a session in order.
func (s *Service) GetTranscript(ctx context.Context, sessionID, userID string) ([]domain.ConversationTurn, error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, domain.ActionChatHistory, userID, session.UserID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cs, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if ok {
		return cs.transcript.Snapshot(), nil
	}

	stored, err := s.store.ListTurns(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	turns := make([]domain.ConversationTurn, len(stored))
	for i, t := range stored {
		turns[i] = t.Turn()
	}
	return turns, nil
}

// Subscribe registers an observer on a session's transcript.
func (s *Service) Subscribe(ctx context.Context, sessionID, userID string, o domain.Observer) (func(), error) {
	session, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, domain.ActionChatHistory, userID, session.UserID); err != nil {
		return nil, err
	}
	cs, err := s.loadSession(ctx, sessionID, session.UserID)
	if err != nil {
		return nil, err
	}
	return cs.transcript.Subscribe(o), nil
}

// JoinSession authorizes userID to watch a session and returns its live
// transcript. A session that does not exist yet is created and owned by
// userID, so nobody can watch a conversation before its owner starts it.
func (s *Service) JoinSession(ctx context.Context, sessionID, userID string) (*domain.Transcript, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	ownerID := ""
	action := domain.ActionChatSend
	if session != nil {
		ownerID = session.UserID
		action = domain.ActionChatHistory
	}
	if err := s.authorize(ctx, action, userID, ownerID); err != nil {
		return nil, err
	}

	cs, err := s.loadSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if cs.ownerID != ownerID && cs.ownerID != userID {
		if err := s.authorize(ctx, domain.ActionChatHistory, userID, cs.ownerID); err != nil {
			return nil, err
		}
	}
	return cs.transcript, nil
}

// loadSession returns the live session, restoring it from the store or
// creating it with the greeting turn.
func (s *Service) loadSession(ctx context.Context, sessionID, userID string) (*chatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs, ok := s.sessions[sessionID]; ok {
		return cs, nil
	}

	session, err := s.store.GetOrCreateSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create session: %w", err)
	}

	stored, err := s.store.ListTurns(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}

	var transcript *domain.Transcript
	if len(stored) == 0 {
		greeting := domain.ConversationTurn{Role: domain.RoleAssistant, Content: s.config.Greeting}
		if err := s.store.AppendTurn(ctx, &domain.StoredTurn{
			SessionID: sessionID,
			Role:      greeting.Role,
			Content:   greeting.Content,
		}); err != nil {
			return nil, fmt.Errorf("failed to store greeting: %w", err)
		}
		transcript = domain.NewTranscript(greeting)
	} else {
		turns := make([]domain.ConversationTurn, len(stored))
		for i, t := range stored {
			turns[i] = t.Turn()
		}
		transcript = domain.NewTranscript(turns...)
	}

	cs := &chatSession{
		id:         sessionID,
		ownerID:    session.UserID,
		transcript: transcript,
		streamer:   s.newStreamer(),
	}
	if s.broadcaster != nil {
		transcript.Subscribe(domain.ObserverFunc(func(change domain.TranscriptChange) {
			if err := s.broadcaster.BroadcastJSON(sessionID, SessionChange{Type: ChangeMessageType, SessionID: sessionID, TranscriptChange: change}); err != nil {
				log.Printf("WARN: failed to broadcast transcript change: %v", err)
			}
		}))
	}
	s.sessions[sessionID] = cs
	log.Printf("Session loaded: %s (owner: %s, turns: %d)", sessionID, session.UserID, transcript.Len())
	return cs, nil
}

func (s *Service) requireSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// authorize evaluates the chat policy for userID acting on a session owned by ownerID.
func (s *Service) authorize(ctx context.Context, action domain.Action, userID, ownerID string) error {
	roles, err := s.store.GetUserRoles(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user roles: %w", err)
	}
	if len(roles) == 0 && domain.AppRole(s.config.DefaultRole).Valid() {
		roles = []domain.AppRole{domain.AppRole(s.config.DefaultRole)}
	}
	input := policy.Input{
		Action:  string(action),
		UserID:  userID,
		OwnerID: ownerID,
		Roles:   make([]string, len(roles)),
	}
	for i, r := range roles {
		input.Roles[i] = string(r)
	}

	allowed, err := s.policyEngine.Allowed(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s on session owned by %q", domain.ErrForbidden, action, ownerID)
	}
	return nil
}

func (s *Service) persistTurn(ctx context.Context, sessionID, exchangeID string, role domain.Role, content string) {
	if err := s.store.AppendTurn(ctx, &domain.StoredTurn{
		SessionID:  sessionID,
		ExchangeID: exchangeID,
		Role:       role,
		Content:    content,
	}); err != nil {
		log.Printf("ERROR: failed to persist %s turn for session %s: %v", role, sessionID, err)
	}
}

func failureEventType(err error) domain.EventType {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return domain.EventTypeChatRateLimited
	case errors.Is(err, domain.ErrStreamStartFailed):
		return domain.EventTypeChatStartFailed
	case errors.Is(err, context.Canceled):
		return domain.EventTypeChatCancelled
	default:
		return domain.EventTypeChatFailed
	}
}
