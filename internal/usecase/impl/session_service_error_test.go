package impl

import (
	"context"
	"testing"
	"time"

	"cardlens/internal/domain/entity"
	domainerrors "cardlens/internal/domain/errors"
	"cardlens/internal/domain/repository"
	"cardlens/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSessionService_Register_DuplicateEmail(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	m.hasher.EXPECT().Hash("s3cret-password").Return("$2a$10$hashed", nil)
	m.users.EXPECT().Create(ctx, mock.AnythingOfType("*entity.User")).Return(repository.ErrEmailTaken)

	output, err := service.Register(ctx, &usecase.RegisterInput{
		Email:    "ada@example.com",
		Password: "s3cret-password",
		Name:     "Ada",
	})

	require.Error(t, err)
	assert.Nil(t, output)
	assert.ErrorIs(t, err, domainerrors.ErrUserAlreadyExists)
}

func TestSessionService_Authenticate_UnknownEmailAndWrongPasswordLookIdentical(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	m.users.EXPECT().FindByEmail(ctx, "nobody@example.com").Return(nil, repository.ErrUserNotFound)

	_, unknownErr := service.Authenticate(ctx, &usecase.AuthenticateInput{
		Email:    "nobody@example.com",
		Password: "whatever",
	})
	require.Error(t, unknownErr)
	assert.ErrorIs(t, unknownErr, domainerrors.ErrInvalidCredentials)

	user := &entity.User{ID: uuid.New(), Email: "ada@example.com", PasswordHash: "$2a$10$hashed"}
	m.users.EXPECT().FindByEmail(ctx, "ada@example.com").Return(user, nil)
	m.hasher.EXPECT().Check("wrong-password", "$2a$10$hashed").Return(false)

	_, wrongErr := service.Authenticate(ctx, &usecase.AuthenticateInput{
		Email:    "ada@example.com",
		Password: "wrong-password",
	})
	require.Error(t, wrongErr)
	assert.ErrorIs(t, wrongErr, domainerrors.ErrInvalidCredentials)

	// Both paths surface the same sentinel, so the client-facing message
	// cannot distinguish an unknown account from a wrong password.
	var unknownApp, wrongApp domainerrors.AppError
	require.True(t, errors.As(unknownErr, &unknownApp))
	require.True(t, errors.As(wrongErr, &wrongApp))
	assert.Equal(t, unknownApp.Message(), wrongApp.Message())
	assert.Equal(t, unknownApp.ErrorCode(), wrongApp.ErrorCode())
}

func TestSessionService_Refresh_UnknownToken(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByRefreshTokenHash(ctx, "hash:unknown").Return(nil, repository.ErrSessionNotFound)

	pair, err := service.Refresh(ctx, "unknown")

	require.Error(t, err)
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, domainerrors.ErrRefreshTokenInvalid)
}

func TestSessionService_Refresh_RevokedSession(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()
	revokedAt := time.Now().Add(-time.Minute)

	session := &entity.Session{
		ID:               uuid.New(),
		RefreshExpiresAt: time.Now().Add(time.Hour),
		RevokedAt:        &revokedAt,
	}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByRefreshTokenHash(ctx, "hash:old-refresh").Return(session, nil)

	_, err := service.Refresh(ctx, "old-refresh")

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrRefreshTokenInvalid)
}

func TestSessionService_Refresh_ExpiredRefreshToken(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	session := &entity.Session{
		ID:               uuid.New(),
		RefreshExpiresAt: time.Now().Add(-time.Minute),
	}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByRefreshTokenHash(ctx, "hash:old-refresh").Return(session, nil)

	_, err := service.Refresh(ctx, "old-refresh")

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrRefreshTokenInvalid)
}

func TestSessionService_Refresh_SupersededTokenNoLongerMatches(t *testing.T) {
	// After a successful rotation the old refresh hash matches no row, so a
	// second refresh with the original token must fail.
	service, m := newTestSessionService(t)
	ctx := context.Background()

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByRefreshTokenHash(ctx, "hash:already-rotated").Return(nil, repository.ErrSessionNotFound)

	_, err := service.Refresh(ctx, "already-rotated")

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrRefreshTokenInvalid)
}

func TestSessionService_Refresh_RevokedBetweenLookupAndRotate(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	session := &entity.Session{
		ID:               uuid.New(),
		RefreshExpiresAt: time.Now().Add(time.Hour),
	}

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByRefreshTokenHash(ctx, "hash:old-refresh").Return(session, nil)
	m.tokens.EXPECT().Generate().Return("new-access", "hash:new-access", nil).Once()
	m.tokens.EXPECT().Generate().Return("new-refresh", "hash:new-refresh", nil).Once()
	m.sessions.EXPECT().Rotate(ctx, mock.AnythingOfType("*entity.Session")).Return(repository.ErrSessionNotFound)

	_, err := service.Refresh(ctx, "old-refresh")

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrRefreshTokenInvalid)
}

func TestSessionService_Revoke_UnknownTokenIsNoop(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByAccessTokenHash(ctx, "hash:unknown").Return(nil, repository.ErrSessionNotFound)

	err := service.Revoke(ctx, "unknown")

	assert.NoError(t, err, "revoking an unknown token must be idempotent")
}

func TestSessionService_Resolve_UnknownTokenIsNil(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	expectTokenHashing(m)
	m.sessions.EXPECT().FindByAccessTokenHash(ctx, "hash:unknown").Return(nil, repository.ErrSessionNotFound)

	resolved, err := service.Resolve(ctx, "unknown")

	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestSessionService_Resolve_StoreUnavailablePropagates(t *testing.T) {
	service, m := newTestSessionService(t)
	ctx := context.Background()

	expectTokenHashing(m)
	m.sessions.EXPECT().
		FindByAccessTokenHash(ctx, "hash:raw-access").
		Return(nil, errors.Wrap(domainerrors.ErrStoreUnavailable, "store unavailable after 10 attempts"))

	_, err := service.Resolve(ctx, "raw-access")

	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrStoreUnavailable)
}
