package middleware

import (
	"strings"

	"cardlens/internal/domain/entity"
	domainerrors "cardlens/internal/domain/errors"
	"cardlens/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// Context keys set by Authenticate for downstream handlers.
const (
	// KeyUser holds the resolved *entity.User.
	KeyUser = "user"
	// KeyAccessToken holds the raw bearer token of the request.
	KeyAccessToken = "accessToken"
)

// AuthMiddleware guards routes by resolving the bearer token against the
// session store. Resolution is a live lookup, so a revoked session stops
// passing immediately.
type AuthMiddleware struct {
	sessions usecase.SessionUsecase
}

// NewAuthMiddleware is the constructor for AuthMiddleware.
func NewAuthMiddleware(sessions usecase.SessionUsecase) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// Authenticate validates the bearer token and attaches the resolved user to
// the request context.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := bearerToken(c)
		if err != nil {
			return err
		}

		user, err := m.sessions.Resolve(c.Request().Context(), token)
		if err != nil {
			return errors.WithStack(err)
		}
		if user == nil {
			return domainerrors.ErrUnauthorized.WrapMessage("no active session for token")
		}

		c.Set(KeyUser, user)
		c.Set(KeyAccessToken, token)

		return next(c)
	}
}

// CurrentUser returns the user attached by Authenticate, or nil.
func CurrentUser(c echo.Context) *entity.User {
	if user, ok := c.Get(KeyUser).(*entity.User); ok {
		return user
	}

	return nil
}

// AccessToken returns the raw bearer token attached by Authenticate.
func AccessToken(c echo.Context) string {
	if token, ok := c.Get(KeyAccessToken).(string); ok {
		return token
	}

	return ""
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", domainerrors.ErrUnauthorized.WrapMessage("Authorization header is missing")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return "", domainerrors.ErrUnauthorized.WrapMessage("Authorization header is not a Bearer token")
	}

	return token, nil
}
