// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"cardlens/internal/delivery/http/middleware"
	"cardlens/internal/delivery/http/router/handler"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	AuthHandler       *handler.AuthHandler
	SessionHandler    *handler.SessionHandler
	HealthHandler     *handler.HealthHandler
	AuthMiddleware    *middleware.AuthMiddleware
	ObserveMiddleware *middleware.ObserveMiddleware
}

// router holds all the handlers that need to be registered.
type router struct {
	authHandler       *handler.AuthHandler
	sessionHandler    *handler.SessionHandler
	healthHandler     *handler.HealthHandler
	authMiddleware    *middleware.AuthMiddleware
	observeMiddleware *middleware.ObserveMiddleware
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		authHandler:       params.AuthHandler,
		sessionHandler:    params.SessionHandler,
		healthHandler:     params.HealthHandler,
		authMiddleware:    params.AuthMiddleware,
		observeMiddleware: params.ObserveMiddleware,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	// Every route runs under the observability wrapper.
	e.Use(r.observeMiddleware.Handle)

	e.GET("/health", r.healthHandler.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	authGroup := e.Group("/auth")
	{
		authGroup.POST("/register", r.authHandler.Register)
		authGroup.POST("/login", r.authHandler.Login)
		authGroup.POST("/refresh", r.authHandler.Refresh)
	}

	// Session management requires a live bearer token.
	sessionGroup := e.Group("/auth")
	sessionGroup.Use(r.authMiddleware.Authenticate)
	{
		sessionGroup.POST("/logout", r.authHandler.Logout)
		sessionGroup.GET("/sessions", r.sessionHandler.List)
		sessionGroup.DELETE("/sessions", r.sessionHandler.RevokeAll)
	}
}
