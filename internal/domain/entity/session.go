package entity

import (
	"time"

	"github.com/google/uuid"
)

// Session represents an authorized bearer session: one row per login, holding
// the hashes of the current access/refresh token pair.
// Only SHA-256 hashes of the raw tokens are ever stored, so a database leak
// does not leak usable credentials. A refresh rewrites both hashes in place,
// which makes the previous pair unmatchable the moment rotation commits.
type Session struct {
	ID               uuid.UUID  // The unique ID for this session record.
	UserID           uuid.UUID  // Links this session to the User it belongs to.
	AccessTokenHash  string     // SHA-256 hash of the current access token.
	RefreshTokenHash string     // SHA-256 hash of the current refresh token.
	IssuedAt         time.Time  // When the current token pair was minted.
	AccessExpiresAt  time.Time  // When the access token stops resolving.
	RefreshExpiresAt time.Time  // When the refresh token stops rotating.
	RevokedAt        *time.Time // Set on explicit logout; nil while the session is live.
	CreatedAt        time.Time  // When the session row was created (initial login).
}

// Active reports whether the session can still resolve an access token:
// not revoked and the access token has not expired.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.AccessExpiresAt)
}

// Refreshable reports whether the session can still rotate its token pair:
// not revoked and the refresh token has not expired.
func (s *Session) Refreshable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.RefreshExpiresAt)
}
