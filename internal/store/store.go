// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/akarpov/vulnlab/internal/domain"
)

// Repository defines the interface for persisting conversation sessions.
type Repository interface {
	// CreateSession persists a new session. The caller supplies the id.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by id. Returns (nil, nil) when the
	// session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSession upserts session state and refreshes updated_at.
	UpdateSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session. Deleting an absent session is not
	// an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListSessionsByUser retrieves sessions owned by a user, most
	// recently updated first.
	ListSessionsByUser(ctx context.Context, userID string, limit int) ([]*domain.Session, error)

	// CleanupExpiredSessions removes sessions not updated within ttl and
	// returns the number deleted.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
