// Package context carries per-invocation observability state: the correlation
// id, a request-scoped logger and a metrics buffer. Storing them in
// context.Context lets nested layers (usecase, persistence) inherit them
// without explicit parameter threading.
package context

import (
	"context"
	"log/slog"

	"cardlens/internal/infra/observability"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// KeyCorrelationID is the key for storing the correlation id in context.
	KeyCorrelationID ContextKey = "correlation_id"

	// KeyLogger is the key for storing request-scoped logger in context.
	KeyLogger ContextKey = "logger"

	// KeyMetrics is the key for storing the per-invocation metrics buffer.
	KeyMetrics ContextKey = "metrics"

	// HeaderXRequestID is the HTTP header carrying the platform request id.
	HeaderXRequestID = "X-Request-Id"

	// HeaderIdempotencyKey is the HTTP header carrying the caller-chosen
	// deduplication key.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// GetCorrelationID extracts the correlation id from echo.Context.
// If not found, generates a new UUID.
func GetCorrelationID(c echo.Context) string {
	val := c.Get(string(KeyCorrelationID))
	if id, ok := val.(string); ok && id != "" {
		return id
	}

	return uuid.New().String()
}

// SetCorrelationID sets the correlation id in echo.Context.
func SetCorrelationID(c echo.Context, correlationID string) {
	c.Set(string(KeyCorrelationID), correlationID)
}

// GetCorrelationIDFromContext extracts the correlation id from a standard
// context.Context. If not found, returns empty string.
func GetCorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(KeyCorrelationID).(string); ok {
		return id
	}

	return ""
}

// WithCorrelationID returns a new context with the correlation id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, KeyCorrelationID, correlationID)
}

// GetLogger extracts the request-scoped logger from context.Context.
// If not found, returns nil.
func GetLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(KeyLogger).(*slog.Logger); ok {
		return logger
	}

	return nil
}

// GetLoggerOrDefault extracts the request-scoped logger from context.Context.
// If not found, returns the provided fallback logger.
func GetLoggerOrDefault(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger := GetLogger(ctx); logger != nil {
		return logger
	}

	return fallback
}

// WithLogger returns a new context with the logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, KeyLogger, logger)
}

// WithMetrics returns a new context carrying the invocation's metrics buffer.
func WithMetrics(ctx context.Context, buf *observability.Buffer) context.Context {
	return context.WithValue(ctx, KeyMetrics, buf)
}

// GetMetrics extracts the invocation's metrics buffer. Returns nil outside a
// wrapped invocation; Buffer methods are nil-safe so callers record blindly.
func GetMetrics(ctx context.Context) *observability.Buffer {
	if buf, ok := ctx.Value(KeyMetrics).(*observability.Buffer); ok {
		return buf
	}

	return nil
}
