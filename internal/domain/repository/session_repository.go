package repository

import (
	"context"
	"time"

	"cardlens/internal/domain/entity"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Domain-specific errors for session persistence.
var (
	// ErrSessionNotFound is returned when no session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the persistence operations for bearer sessions.
// Sessions are always looked up by token hash, never by raw token: the raw
// value exists only in flight and in the client's hands.
type SessionRepository interface {
	// Create persists a new session row.
	Create(ctx context.Context, session *entity.Session) error

	// FindByAccessTokenHash retrieves a session by the hash of its access token.
	FindByAccessTokenHash(ctx context.Context, hash string) (*entity.Session, error)

	// FindByRefreshTokenHash retrieves a session by the hash of its refresh token.
	FindByRefreshTokenHash(ctx context.Context, hash string) (*entity.Session, error)

	// FindByUserID retrieves all non-revoked sessions for a user, newest first.
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error)

	// Rotate writes a new token-hash pair and expiries on an existing row.
	// The previous pair becomes unmatchable once this commits.
	Rotate(ctx context.Context, session *entity.Session) error

	// Revoke marks the session revoked at the given time. Revoking an already
	// revoked session is a no-op, keeping the operation idempotent.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error

	// RevokeAllByUserID revokes every live session owned by the user.
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID, at time.Time) error

	// DeleteExpired removes rows whose refresh token expired before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
