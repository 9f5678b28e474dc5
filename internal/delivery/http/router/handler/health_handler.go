package handler

import (
	"net/http"

	"cardlens/internal/delivery/http/response"
	"cardlens/internal/infra/persistence/postgres"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// HealthHandler reports process and store health.
type HealthHandler struct {
	registry *postgres.Registry
}

// NewHealthHandler is the constructor for HealthHandler, injected by Fx.
func NewHealthHandler(registry *postgres.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Check pings the store through the resilience layer. A dead store surfaces
// as the usual 503 envelope.
func (h *HealthHandler) Check(c echo.Context) error {
	if err := h.registry.Ping(c.Request().Context()); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, map[string]string{
		"status":  "ok",
		"store":   "up",
		"profile": h.registry.ActiveProfileName(),
	})
}
