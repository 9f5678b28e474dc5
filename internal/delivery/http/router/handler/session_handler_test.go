package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cardlens/internal/delivery/http/middleware"
	"cardlens/internal/domain/entity"
	domainerrors "cardlens/internal/domain/errors"
	mockService "cardlens/internal/mocks/service"
	mockUsecase "cardlens/internal/mocks/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSessionFixture(t *testing.T) (*SessionHandler, *mockUsecase.MockSessionUsecase, *mockService.MockTokenService) {
	t.Helper()

	sessions := mockUsecase.NewMockSessionUsecase(t)
	tokens := mockService.NewMockTokenService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewSessionHandler(sessions, tokens, logger), sessions, tokens
}

func authenticatedContext(user *entity.User, accessToken string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.KeyUser, user)
	c.Set(middleware.KeyAccessToken, accessToken)

	return c, rec
}

func TestSessionHandler_List_MarksCurrentSession(t *testing.T) {
	h, sessions, tokens := newSessionFixture(t)

	user := &entity.User{ID: uuid.New(), Email: "ada@example.com"}
	now := time.Now()
	current := &entity.Session{
		ID:              uuid.New(),
		UserID:          user.ID,
		AccessTokenHash: "hash:the-access-token",
		IssuedAt:        now,
	}
	other := &entity.Session{
		ID:              uuid.New(),
		UserID:          user.ID,
		AccessTokenHash: "hash:other-token",
		IssuedAt:        now.Add(-time.Hour),
	}

	sessions.EXPECT().ListSessions(mock.Anything, user.ID).
		Return([]*entity.Session{current, other}, nil).Once()
	tokens.EXPECT().HashToken("the-access-token").
		Return("hash:the-access-token").Once()

	c, rec := authenticatedContext(user, "the-access-token")

	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []struct {
			ID      uuid.UUID `json:"id"`
			Current bool      `json:"current"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 2)
	assert.Equal(t, current.ID, envelope.Data[0].ID)
	assert.True(t, envelope.Data[0].Current)
	assert.False(t, envelope.Data[1].Current)

	// Token hashes stay server-side.
	assert.NotContains(t, rec.Body.String(), "hash:")
}

func TestSessionHandler_List_NoUserIsUnauthorized(t *testing.T) {
	h, _, _ := newSessionFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.List(c)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrUnauthorized)
}

func TestSessionHandler_RevokeAll_Success(t *testing.T) {
	h, sessions, _ := newSessionFixture(t)

	user := &entity.User{ID: uuid.New()}
	sessions.EXPECT().RevokeAll(mock.Anything, user.ID).Return(nil).Once()

	c, rec := authenticatedContext(user, "the-access-token")

	require.NoError(t, h.RevokeAll(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "all sessions revoked")
}

func TestSessionHandler_RevokeAll_StoreFailurePropagates(t *testing.T) {
	h, sessions, _ := newSessionFixture(t)

	user := &entity.User{ID: uuid.New()}
	sessions.EXPECT().RevokeAll(mock.Anything, user.ID).
		Return(domainerrors.ErrStoreUnavailable).Once()

	c, _ := authenticatedContext(user, "the-access-token")

	err := h.RevokeAll(c)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrStoreUnavailable)
}
