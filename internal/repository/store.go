// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetOrCreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error)

	// Turn operations
	AppendTurn(ctx context.Context, turn *domain.StoredTurn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.StoredTurn, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, sessionID string, types []string, limit int) ([]domain.Event, error)

	// Role operations
	AssignRole(ctx context.Context, userID string, role domain.AppRole) error
	GetUserRoles(ctx context.Context, userID string) ([]domain.AppRole, error)
	HasRole(ctx context.Context, userID string, role domain.AppRole) (bool, error)

	// Lifecycle
	Close() error
}
