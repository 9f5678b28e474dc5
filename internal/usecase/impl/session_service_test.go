package impl

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cardlens/config"
	"cardlens/internal/domain/entity"
	mockRepo "cardlens/internal/mocks/repository"
	mockService "cardlens/internal/mocks/service"
	"cardlens/internal/usecase"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sessionServiceMocks struct {
	users    *mockRepo.MockUserRepository
	sessions *mockRepo.MockSessionRepository
	hasher   *mockService.MockPasswordHasher
	tokens   *mockService.MockTokenService
}

func newTestSessionService(t *testing.T) (usecase.SessionUsecase, *sessionServiceMocks) {
	t.Helper()

	m := &sessionServiceMocks{
		users:    mockRepo.NewMockUserRepository(t),
		sessions: mockRepo.NewMockSessionRepository(t),
		hasher:   mockService.NewMockPasswordHasher(t),
		tokens:   mockService.NewMockTokenService(t),
	}
	cfg := &config.Config{
		Auth: &config.AuthConfig{
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 720 * time.Hour,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewSessionService(m.users, m.sessions, m.hasher, m.tokens, cfg, logger), m
}

// expectTokenHashing makes the token mock hash any raw token to "hash:"+token,
// so tests can tell raw values apart from what reaches the repository.
func expectTokenHashing(m *sessionServiceMocks) {
	m.tokens.EXPECT().HashToken(mock.AnythingOfType("string")).RunAndReturn(func(token string) string {
		return "hash:" + token
	})
}

func TestSessionService_Register_Success(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	userID := uuid.New()

	m.hasher.EXPECT().Hash("s3cret-password").Return("$2a$10$hashed", nil)
	m.users.EXPECT().
		Create(ctx, mock.AnythingOfType("*entity.User")).
		Run(func(ctx context.Context, user *entity.User) {
			user.ID = userID
		}).
		Return(nil)

	m.tokens.EXPECT().Generate().Return("raw-access", "hash:raw-access", nil).Once()
	m.tokens.EXPECT().Generate().Return("raw-refresh", "hash:raw-refresh", nil).Once()
	expectTokenHashing(m)

	var stored *entity.Session
	m.sessions.EXPECT().
		Create(ctx, mock.AnythingOfType("*entity.Session")).
		Run(func(ctx context.Context, session *entity.Session) {
			stored = session
		}).
		Return(nil)

	output, err := service.Register(ctx, &usecase.RegisterInput{
		Email:    "Ada@Example.COM",
		Password: "s3cret-password",
		Name:     "Ada",
	})

	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", output.User.Email, "email must be stored lowercased")
	assert.Equal(t, "raw-access", output.Tokens.AccessToken)
	assert.Equal(t, "raw-refresh", output.Tokens.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), output.Tokens.AccessExpiresAt, 5*time.Second)
	assert.WithinDuration(t, time.Now().Add(720*time.Hour), output.Tokens.RefreshExpiresAt, 5*time.Second)

	// Only hashes reach the store; the raw tokens exist nowhere in the row.
	require.NotNil(t, stored)
	assert.Equal(t, userID, stored.UserID)
	assert.Equal(t, "hash:raw-access", stored.AccessTokenHash)
	assert.Equal(t, "hash:raw-refresh", stored.RefreshTokenHash)
	assert.NotContains(t, []string{stored.AccessTokenHash, stored.RefreshTokenHash}, "raw-access")
	assert.NotContains(t, []string{stored.AccessTokenHash, stored.RefreshTokenHash}, "raw-refresh")
}

func TestSessionService_Authenticate_Success(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	user := &entity.User{ID: uuid.New(), Email: "ada@example.com", PasswordHash: "$2a$10$hashed"}

	m.users.EXPECT().FindByEmail(ctx, "ada@example.com").Return(user, nil)
	m.hasher.EXPECT().Check("s3cret-password", "$2a$10$hashed").Return(true)
	m.tokens.EXPECT().Generate().Return("raw-access", "hash:raw-access", nil).Once()
	m.tokens.EXPECT().Generate().Return("raw-refresh", "hash:raw-refresh", nil).Once()
	expectTokenHashing(m)
	m.sessions.EXPECT().Create(ctx, mock.AnythingOfType("*entity.Session")).Return(nil)

	output, err := service.Authenticate(ctx, &usecase.AuthenticateInput{
		Email:    "ada@example.com",
		Password: "s3cret-password",
	})

	require.NoError(t, err)
	assert.Equal(t, user.ID, output.User.ID)
	assert.NotEmpty(t, output.Tokens.AccessToken)
	assert.NotEmpty(t, output.Tokens.RefreshToken)
}

func TestSessionService_Refresh_RotatesPairInPlace(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	now := time.Now()

	session := &entity.Session{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		AccessTokenHash:  "hash:old-access",
		RefreshTokenHash: "hash:old-refresh",
		IssuedAt:         now.Add(-30 * time.Minute),
		AccessExpiresAt:  now.Add(30 * time.Minute),
		RefreshExpiresAt: now.Add(700 * time.Hour),
	}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByRefreshTokenHash(ctx, "hash:old-refresh").Return(session, nil)
	m.tokens.EXPECT().Generate().Return("new-access", "hash:new-access", nil).Once()
	m.tokens.EXPECT().Generate().Return("new-refresh", "hash:new-refresh", nil).Once()

	var rotated *entity.Session
	m.sessions.EXPECT().
		Rotate(ctx, mock.AnythingOfType("*entity.Session")).
		Run(func(ctx context.Context, session *entity.Session) {
			rotated = session
		}).
		Return(nil)

	pair, err := service.Refresh(ctx, "old-refresh")

	require.NoError(t, err)
	assert.Equal(t, "new-access", pair.AccessToken)
	assert.Equal(t, "new-refresh", pair.RefreshToken)

	require.NotNil(t, rotated)
	assert.Equal(t, session.ID, rotated.ID, "rotation rewrites the same row")
	assert.Equal(t, "hash:new-access", rotated.AccessTokenHash)
	assert.Equal(t, "hash:new-refresh", rotated.RefreshTokenHash)
	assert.True(t, rotated.AccessExpiresAt.After(now))
}

func TestSessionService_Revoke_Success(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	session := &entity.Session{ID: uuid.New(), UserID: uuid.New()}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByAccessTokenHash(ctx, "hash:raw-access").Return(session, nil)
	m.sessions.EXPECT().Revoke(ctx, session.ID, mock.AnythingOfType("time.Time")).Return(nil)

	err := service.Revoke(ctx, "raw-access")

	require.NoError(t, err)
}

func TestSessionService_Resolve_ActiveSession(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	now := time.Now()

	user := &entity.User{ID: uuid.New(), Email: "ada@example.com"}
	session := &entity.Session{
		ID:              uuid.New(),
		UserID:          user.ID,
		AccessExpiresAt: now.Add(30 * time.Minute),
	}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByAccessTokenHash(ctx, "hash:raw-access").Return(session, nil)
	m.users.EXPECT().FindByID(ctx, user.ID).Return(user, nil)

	resolved, err := service.Resolve(ctx, "raw-access")

	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, user.ID, resolved.ID)
}

func TestSessionService_Resolve_RevokedSessionIsNil(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	now := time.Now()
	revokedAt := now.Add(-time.Minute)

	session := &entity.Session{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		AccessExpiresAt: now.Add(30 * time.Minute),
		RevokedAt:       &revokedAt,
	}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByAccessTokenHash(ctx, "hash:raw-access").Return(session, nil)

	resolved, err := service.Resolve(ctx, "raw-access")

	require.NoError(t, err)
	assert.Nil(t, resolved, "a revoked session must stop resolving immediately")
}

func TestSessionService_Resolve_ExpiredAccessTokenIsNil(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	session := &entity.Session{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		AccessExpiresAt: time.Now().Add(-time.Minute),
	}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByAccessTokenHash(ctx, "hash:raw-access").Return(session, nil)

	resolved, err := service.Resolve(ctx, "raw-access")

	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestSessionService_ListSessions_Success(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	userID := uuid.New()
	sessions := []*entity.Session{
		{ID: uuid.New(), UserID: userID},
		{ID: uuid.New(), UserID: userID},
	}

	m.sessions.EXPECT().FindByUserID(ctx, userID).Return(sessions, nil)

	got, err := service.ListSessions(ctx, userID)

	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSessionService_RevokeAll_Success(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	userID := uuid.New()

	m.sessions.EXPECT().RevokeAllByUserID(ctx, userID, mock.AnythingOfType("time.Time")).Return(nil)

	err := service.RevokeAll(ctx, userID)

	require.NoError(t, err)
}

func TestSessionService_CleanupExpired_Success(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	m.sessions.EXPECT().DeleteExpired(ctx, mock.AnythingOfType("time.Time")).Return(int64(7), nil)

	deleted, err := service.CleanupExpired(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
}
