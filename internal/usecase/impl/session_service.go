// Package impl contains the application-specific business rules implementations.
package impl

import (
	"context"
	"log/slog"
	"time"

	"cardlens/config"
	deliverycontext "cardlens/internal/delivery/context"
	"cardlens/internal/domain/entity"
	domainerrors "cardlens/internal/domain/errors"
	"cardlens/internal/domain/repository"
	"cardlens/internal/domain/service"
	"cardlens/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// sessionService implements the SessionUsecase interface.
type sessionService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	hasher   service.PasswordHasher
	tokens   service.TokenService

	accessTTL  time.Duration
	refreshTTL time.Duration

	logger *slog.Logger
}

// NewSessionService is the constructor for sessionService. It receives all
// dependencies as interfaces.
func NewSessionService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher service.PasswordHasher,
	tokens service.TokenService,
	cfg *config.Config,
	logger *slog.Logger,
) usecase.SessionUsecase {
	return &sessionService{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		tokens:     tokens,
		accessTTL:  cfg.Auth.AccessTokenTTL,
		refreshTTL: cfg.Auth.RefreshTokenTTL,
		logger:     logger,
	}
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *sessionService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// Register creates a new account and issues its first session.
func (srv *sessionService) Register(ctx context.Context, input *usecase.RegisterInput) (*usecase.SessionOutput, error) {
	srv.log(ctx).Info("Starting user registration", slog.String("email", entity.NormalizeEmail(input.Email)))

	hashedPassword, err := srv.hasher.Hash(input.Password)
	if err != nil {
		srv.log(ctx).Error("Failed to hash password during registration", slog.Any("error", err))

		return nil, errors.Wrap(err, "failed to hash password during registration")
	}

	user := &entity.User{
		Email:        entity.NormalizeEmail(input.Email),
		PasswordHash: hashedPassword,
		Name:         input.Name,
	}

	if err := srv.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, domainerrors.ErrUserAlreadyExists.WrapMessage("user registration failed")
		}

		srv.log(ctx).Error("Failed to create user", slog.Any("error", err))

		return nil, errors.Wrap(err, "failed to create user")
	}

	output, err := srv.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	deliverycontext.GetMetrics(ctx).Incr("session.registered")
	srv.log(ctx).Debug("User registered successfully", slog.Any("userID", user.ID))

	return output, nil
}

// Authenticate verifies credentials and issues a fresh session. An unknown
// email and a wrong password produce the same error so the response does not
// reveal which accounts exist.
func (srv *sessionService) Authenticate(ctx context.Context, input *usecase.AuthenticateInput) (*usecase.SessionOutput, error) {
	user, err := srv.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			srv.log(ctx).Info("Login attempt for unknown email")

			return nil, domainerrors.ErrInvalidCredentials.WrapMessage("authentication failed")
		}

		return nil, errors.Wrap(err, "failed to find user by email")
	}

	if !srv.hasher.Check(input.Password, user.PasswordHash) {
		srv.log(ctx).Info("Login attempt with wrong password", slog.Any("userID", user.ID))

		return nil, domainerrors.ErrInvalidCredentials.WrapMessage("authentication failed")
	}

	output, err := srv.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	deliverycontext.GetMetrics(ctx).Incr("session.login")
	srv.log(ctx).Info("User authenticated", slog.Any("userID", user.ID))

	return output, nil
}

// Refresh rotates the token pair owned by the given refresh token.
func (srv *sessionService) Refresh(ctx context.Context, refreshToken string) (*usecase.TokenPair, error) {
	session, err := srv.sessions.FindByRefreshTokenHash(ctx, srv.tokens.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, domainerrors.ErrRefreshTokenInvalid.WrapMessage("refresh token not found")
		}

		return nil, errors.Wrap(err, "failed to find session by refresh token")
	}

	now := time.Now()
	if !session.Refreshable(now) {
		srv.log(ctx).Info("Refresh attempt on dead session", slog.Any("sessionID", session.ID))

		return nil, domainerrors.ErrRefreshTokenInvalid.WrapMessage("session revoked or expired")
	}

	pair, err := srv.mintPair(now)
	if err != nil {
		return nil, err
	}

	session.AccessTokenHash = srv.tokens.HashToken(pair.AccessToken)
	session.RefreshTokenHash = srv.tokens.HashToken(pair.RefreshToken)
	session.IssuedAt = now
	session.AccessExpiresAt = pair.AccessExpiresAt
	session.RefreshExpiresAt = pair.RefreshExpiresAt

	if err := srv.sessions.Rotate(ctx, session); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// The session was revoked between lookup and rotation.
			return nil, domainerrors.ErrRefreshTokenInvalid.WrapMessage("session revoked during refresh")
		}

		srv.log(ctx).Error("Failed to rotate session tokens", slog.Any("error", err), slog.Any("sessionID", session.ID))

		return nil, errors.Wrap(err, "failed to rotate session tokens")
	}

	deliverycontext.GetMetrics(ctx).Incr("session.refreshed")
	srv.log(ctx).Debug("Session tokens rotated", slog.Any("sessionID", session.ID))

	return pair, nil
}

// Revoke ends the session owning the access token. Unknown tokens are
// swallowed: the caller's goal, that the token no longer works, holds either way.
func (srv *sessionService) Revoke(ctx context.Context, accessToken string) error {
	session, err := srv.sessions.FindByAccessTokenHash(ctx, srv.tokens.HashToken(accessToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}

		return errors.Wrap(err, "failed to find session by access token")
	}

	if err := srv.sessions.Revoke(ctx, session.ID, time.Now()); err != nil {
		srv.log(ctx).Error("Failed to revoke session", slog.Any("error", err), slog.Any("sessionID", session.ID))

		return errors.Wrap(err, "failed to revoke session")
	}

	deliverycontext.GetMetrics(ctx).Incr("session.revoked")
	srv.log(ctx).Info("Session revoked", slog.Any("sessionID", session.ID))

	return nil
}

// Resolve returns the user behind an active session, or nil when the token
// matches nothing alive.
func (srv *sessionService) Resolve(ctx context.Context, accessToken string) (*entity.User, error) {
	session, err := srv.sessions.FindByAccessTokenHash(ctx, srv.tokens.HashToken(accessToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "failed to find session by access token")
	}

	if !session.Active(time.Now()) {
		return nil, nil
	}

	user, err := srv.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Orphaned session row; treat as unauthenticated.
			return nil, nil
		}

		return nil, errors.Wrap(err, "failed to find session user")
	}

	return user, nil
}

// ListSessions returns the user's live sessions, newest first.
func (srv *sessionService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error) {
	sessions, err := srv.sessions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}

	return sessions, nil
}

// RevokeAll ends every live session owned by the user.
func (srv *sessionService) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if err := srv.sessions.RevokeAllByUserID(ctx, userID, time.Now()); err != nil {
		return errors.Wrap(err, "failed to revoke all sessions")
	}

	srv.log(ctx).Info("All sessions revoked", slog.Any("userID", userID))

	return nil
}

// CleanupExpired deletes sessions whose refresh window has closed.
func (srv *sessionService) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := srv.sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}

	if deleted > 0 {
		srv.log(ctx).Info("Expired sessions swept", slog.Int64("deleted", deleted))
	}

	return deleted, nil
}

// issueSession mints a token pair and persists a new session row holding
// only the hashes.
func (srv *sessionService) issueSession(ctx context.Context, user *entity.User) (*usecase.SessionOutput, error) {
	now := time.Now()

	pair, err := srv.mintPair(now)
	if err != nil {
		return nil, err
	}

	session := &entity.Session{
		UserID:           user.ID,
		AccessTokenHash:  srv.tokens.HashToken(pair.AccessToken),
		RefreshTokenHash: srv.tokens.HashToken(pair.RefreshToken),
		IssuedAt:         now,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}

	if err := srv.sessions.Create(ctx, session); err != nil {
		srv.log(ctx).Error("Failed to create session", slog.Any("error", err), slog.Any("userID", user.ID))

		return nil, errors.Wrap(err, "failed to create session")
	}

	return &usecase.SessionOutput{User: user, Tokens: *pair}, nil
}

// mintPair generates a fresh access/refresh token pair with expiries
// anchored at now.
func (srv *sessionService) mintPair(now time.Time) (*usecase.TokenPair, error) {
	accessToken, _, err := srv.tokens.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate access token")
	}

	refreshToken, _, err := srv.tokens.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate refresh token")
	}

	return &usecase.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(srv.accessTTL),
		RefreshExpiresAt: now.Add(srv.refreshTTL),
	}, nil
}
