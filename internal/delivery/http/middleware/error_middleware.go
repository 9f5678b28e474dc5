package middleware

import (
	"log/slog"
	"net/http"

	"cardlens/internal/delivery/http/response"
	domainerrors "cardlens/internal/domain/errors"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// ErrorMiddleware renders escaping errors into the response envelope. It does
// not log them; the observability middleware already emitted the single
// failure line for this invocation.
type ErrorMiddleware struct {
	logger *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{
		logger: logger,
	}
}

// HandleHTTPError handles errors as Echo's HTTPErrorHandler
func (m *ErrorMiddleware) HandleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		if writeErr := response.Error(c, appErr.HTTPCode(), appErr.ErrorCode(), appErr.Message(), appErr.Details()); writeErr != nil {
			m.logger.Debug("Failed to write error response", slog.Any("error", writeErr))
		}

		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message, _ := httpErr.Message.(string)
		if writeErr := response.Error(c, httpErr.Code, "HTTP_ERROR", message, ""); writeErr != nil {
			m.logger.Debug("Failed to write error response", slog.Any("error", writeErr))
		}

		return
	}

	if writeErr := response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", ""); writeErr != nil {
		m.logger.Debug("Failed to write error response", slog.Any("error", writeErr))
	}
}
