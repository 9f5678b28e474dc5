package handler

import (
	"log/slog"
	"net/http"
	"time"

	"cardlens/internal/delivery/http/middleware"
	"cardlens/internal/delivery/http/response"
	domainerrors "cardlens/internal/domain/errors"
	"cardlens/internal/domain/service"
	"cardlens/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// SessionHandler exposes the authenticated user's session inventory.
type SessionHandler struct {
	sessions usecase.SessionUsecase
	tokens   service.TokenService
	logger   *slog.Logger
}

// NewSessionHandler is the constructor for SessionHandler, injected by Fx.
func NewSessionHandler(sessions usecase.SessionUsecase, tokens service.TokenService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

type sessionInfo struct {
	ID               uuid.UUID `json:"id"`
	IssuedAt         time.Time `json:"issued_at"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Current          bool      `json:"current"`
}

// List returns the caller's live sessions, newest first.
func (h *SessionHandler) List(c echo.Context) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return domainerrors.ErrUnauthorized.WrapMessage("no authenticated user on request")
	}

	sessions, err := h.sessions.ListSessions(c.Request().Context(), user.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	currentHash := h.tokens.HashToken(middleware.AccessToken(c))

	infos := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo{
			ID:               s.ID,
			IssuedAt:         s.IssuedAt,
			AccessExpiresAt:  s.AccessExpiresAt,
			RefreshExpiresAt: s.RefreshExpiresAt,
			Current:          s.AccessTokenHash == currentHash,
		})
	}

	return response.Success(c, http.StatusOK, infos)
}

// RevokeAll ends every live session owned by the caller, including the one
// making this request.
func (h *SessionHandler) RevokeAll(c echo.Context) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return domainerrors.ErrUnauthorized.WrapMessage("no authenticated user on request")
	}

	if err := h.sessions.RevokeAll(c.Request().Context(), user.ID); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, map[string]string{"status": "all sessions revoked"})
}
