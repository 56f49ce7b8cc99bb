package service

import (
	"sync"

	"github.com/xiaot623/gogo/esgchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/esgchat/internal/config"
	"github.com/xiaot623/gogo/esgchat/internal/domain"
	store "github.com/xiaot623/gogo/esgchat/internal/repository"
	"github.com/xiaot623/gogo/esgchat/policy"
)

// StreamerFactory creates the chat client used by one session.
type StreamerFactory func() llm.ChatStreamer

// Broadcaster fans transcript changes out to live viewers of a session.
type Broadcaster interface {
	BroadcastJSON(sessionID string, v interface{}) error
}

// ChangeMessageType tags SessionChange messages on the wire.
const ChangeMessageType = "transcript_change"

// SessionChange is the message pushed to live viewers.
type SessionChange struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	domain.TranscriptChange
}

type Service struct {
	store        store.Store
	policyEngine *policy.Engine
	config       *config.Config
	newStreamer  StreamerFactory
	broadcaster  Broadcaster

	mu sync.Mutex
	// TODO: evict idle sessions; every session loaded since startup stays cached.
	sessions map[string]*chatSession
}

func New(store store.Store, policyEngine *policy.Engine, cfg *config.Config, newStreamer StreamerFactory, broadcaster Broadcaster) *Service {
	return &Service{
		store:        store,
		policyEngine: policyEngine,
		config:       cfg,
		newStreamer:  newStreamer,
		broadcaster:  broadcaster,
		sessions:     make(map[string]*chatSession),
	}
}
