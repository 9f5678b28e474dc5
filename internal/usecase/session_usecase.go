// Package usecase contains the application-specific business rules.
package usecase

import (
	"context"
	"time"

	"cardlens/internal/domain/entity"

	"github.com/google/uuid"
)

// RegisterInput carries the fields required to create a new account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// AuthenticateInput carries a login attempt.
type AuthenticateInput struct {
	Email    string
	Password string
}

// TokenPair is the raw opaque token pair handed to the client. The raw
// values appear only here; the store retains their hashes.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionOutput is the result of a successful registration or login.
type SessionOutput struct {
	User   *entity.User
	Tokens TokenPair
}

// SessionUsecase defines the session lifecycle: account creation, login,
// token rotation, revocation and token resolution.
type SessionUsecase interface {
	// Register creates an account and issues its first session. Emails are
	// unique case-insensitively; a duplicate yields ErrUserAlreadyExists.
	Register(ctx context.Context, input *RegisterInput) (*SessionOutput, error)

	// Authenticate verifies credentials and issues a session. Unknown email
	// and wrong password are indistinguishable to the caller.
	Authenticate(ctx context.Context, input *AuthenticateInput) (*SessionOutput, error)

	// Refresh rotates the token pair of the session owning the given refresh
	// token. The previous pair stops resolving the moment rotation commits.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)

	// Revoke ends the session owning the given access token. Revoking an
	// already revoked or unknown token is not an error.
	Revoke(ctx context.Context, accessToken string) error

	// Resolve returns the user owning an active session for the token, or
	// nil when the token matches no active session.
	Resolve(ctx context.Context, accessToken string) (*entity.User, error)

	// ListSessions returns the user's live sessions, newest first.
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error)

	// RevokeAll ends every live session owned by the user.
	RevokeAll(ctx context.Context, userID uuid.UUID) error

	// CleanupExpired deletes sessions whose refresh window has closed,
	// returning how many rows were removed.
	CleanupExpired(ctx context.Context) (int64, error)
}
