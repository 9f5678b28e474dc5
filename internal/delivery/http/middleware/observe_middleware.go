// Package middleware contains the HTTP middlewares: request observability,
// idempotent replay, bearer authentication and error rendering.
package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	deliverycontext "cardlens/internal/delivery/context"
	domainerrors "cardlens/internal/domain/errors"
	"cardlens/internal/infra/idempotency"
	"cardlens/internal/infra/observability"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// ObserveMiddleware wraps every invocation with a correlation id, a
// request-scoped logger, a metrics buffer and idempotent replay.
type ObserveMiddleware struct {
	logger      *slog.Logger
	collector   *observability.Collector
	idempotency *idempotency.Store
}

// NewObserveMiddleware creates the observability middleware.
func NewObserveMiddleware(logger *slog.Logger, collector *observability.Collector, store *idempotency.Store) *ObserveMiddleware {
	return &ObserveMiddleware{
		logger:      logger,
		collector:   collector,
		idempotency: store,
	}
}

// Handle is the middleware entry point.
func (m *ObserveMiddleware) Handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		correlationID := m.correlationID(c)
		deliverycontext.SetCorrelationID(c, correlationID)
		c.Response().Header().Set(deliverycontext.HeaderXRequestID, correlationID)

		reqLogger := m.logger.With(slog.String("correlation_id", correlationID))
		buf := observability.NewBuffer()

		ctx := deliverycontext.WithCorrelationID(req.Context(), correlationID)
		ctx = deliverycontext.WithLogger(ctx, reqLogger)
		ctx = deliverycontext.WithMetrics(ctx, buf)
		c.SetRequest(req.WithContext(ctx))

		method := req.Method
		path := req.URL.Path

		reqLogger.Info("Invocation started",
			slog.String("method", method),
			slog.String("path", path))
		start := time.Now()

		key := req.Header.Get(deliverycontext.HeaderIdempotencyKey)
		if key != "" {
			if entry, ok := m.idempotency.Get(key); ok {
				return m.replay(c, reqLogger, buf, entry, correlationID, method, path, start)
			}
		}

		// Capture the response so it can be recorded under the key. The
		// recorder tees writes, so the client sees bytes as they are produced.
		var recorder *bodyRecorder
		if key != "" {
			recorder = &bodyRecorder{ResponseWriter: c.Response().Writer}
			c.Response().Writer = recorder
		}

		err := next(c)

		duration := time.Since(start)
		status := c.Response().Status

		if err != nil {
			status = statusOf(err)
			reqLogger.Error("Invocation failed",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Duration("duration", duration),
				slog.String("class", classOf(err)),
				slog.Any("error", err))
		} else {
			reqLogger.Info("Invocation completed",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Duration("duration", duration),
				slog.Int("metric_events", buf.Len()))

			if recorder != nil {
				m.idempotency.Put(key, status, c.Response().Header(), recorder.body.Bytes())
			}
		}

		m.flush(buf, method, path, status, duration)

		return err
	}
}

// correlationID resolves the invocation's correlation id, preferring an id
// already present in the request context, then the X-Request-Id header, then
// a freshly generated UUID.
func (m *ObserveMiddleware) correlationID(c echo.Context) string {
	if id := deliverycontext.GetCorrelationIDFromContext(c.Request().Context()); id != "" {
		return id
	}
	if id := c.Request().Header.Get(deliverycontext.HeaderXRequestID); id != "" {
		return id
	}

	return uuid.New().String()
}

// replay writes a recorded response without invoking the handler.
func (m *ObserveMiddleware) replay(
	c echo.Context,
	reqLogger *slog.Logger,
	buf *observability.Buffer,
	entry *idempotency.Entry,
	correlationID, method, path string,
	start time.Time,
) error {
	buf.Incr("idempotency.replay")
	reqLogger.Info("idempotency.replay",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", entry.Status))

	header := c.Response().Header()
	for k, values := range entry.Header {
		header[k] = values
	}
	// The replayed response belongs to this invocation's trace.
	header.Set(deliverycontext.HeaderXRequestID, correlationID)

	c.Response().WriteHeader(entry.Status)
	if _, err := c.Response().Write(entry.Body); err != nil {
		return errors.Wrap(err, "failed to write replayed response")
	}

	m.flush(buf, method, path, entry.Status, time.Since(start))

	return nil
}

// flush drains the buffer into Prometheus exactly once per invocation.
func (m *ObserveMiddleware) flush(buf *observability.Buffer, method, path string, status int, duration time.Duration) {
	m.collector.Flush(buf.Drain())
	m.collector.ObserveInvocation(method, path, strconv.Itoa(status), duration.Seconds())
}

// statusOf maps an escaping error to the status the error middleware will
// render, so the failure log and metrics carry the real outcome.
func statusOf(err error) int {
	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPCode()
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	return http.StatusInternalServerError
}

// classOf buckets an escaping error for the failure log.
func classOf(err error) string {
	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		switch {
		case appErr.HTTPCode() == http.StatusServiceUnavailable:
			return "store_unavailable"
		case appErr.HTTPCode() >= http.StatusInternalServerError:
			return "internal"
		default:
			return "client"
		}
	}

	return "internal"
}

// bodyRecorder tees response writes into a buffer.
type bodyRecorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)

	return r.ResponseWriter.Write(b)
}
