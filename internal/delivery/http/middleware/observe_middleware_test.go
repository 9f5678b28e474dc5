package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	deliverycontext "cardlens/internal/delivery/context"
	domainerrors "cardlens/internal/domain/errors"
	"cardlens/internal/infra/idempotency"
	"cardlens/internal/infra/observability"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observeFixture struct {
	middleware *ObserveMiddleware
	registry   *prometheus.Registry
	logs       *bytes.Buffer
	store      *idempotency.Store
}

func newObserveFixture(t *testing.T) *observeFixture {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	registry := prometheus.NewRegistry()
	collector := observability.NewCollector(registry)
	store := idempotency.NewStore(time.Minute)

	return &observeFixture{
		middleware: NewObserveMiddleware(logger, collector, store),
		registry:   registry,
		logs:       logs,
		store:      store,
	}
}

func invoke(t *testing.T, f *observeFixture, req *http.Request, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := f.middleware.Handle(handler)(c)

	return rec, err
}

func okHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"ok": "true"})
}

func TestObserve_GeneratesCorrelationID(t *testing.T) {
	f := newObserveFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/cards", nil)

	rec, err := invoke(t, f, req, okHandler)

	require.NoError(t, err)
	id := rec.Header().Get(deliverycontext.HeaderXRequestID)
	require.NotEmpty(t, id)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr, "generated correlation id must be a UUID")
}

func TestObserve_PrefersRequestHeader(t *testing.T) {
	f := newObserveFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/cards", nil)
	req.Header.Set(deliverycontext.HeaderXRequestID, "caller-chosen-id")

	rec, err := invoke(t, f, req, okHandler)

	require.NoError(t, err)
	assert.Equal(t, "caller-chosen-id", rec.Header().Get(deliverycontext.HeaderXRequestID))
}

func TestObserve_PrefersContextOverHeader(t *testing.T) {
	f := newObserveFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/cards", nil)
	req.Header.Set(deliverycontext.HeaderXRequestID, "header-id")
	req = req.WithContext(deliverycontext.WithCorrelationID(req.Context(), "context-id"))

	rec, err := invoke(t, f, req, okHandler)

	require.NoError(t, err)
	assert.Equal(t, "context-id", rec.Header().Get(deliverycontext.HeaderXRequestID))
}

func TestObserve_HandlerSeesScopedLoggerAndMetrics(t *testing.T) {
	f := newObserveFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/cards", nil)

	_, err := invoke(t, f, req, func(c echo.Context) error {
		ctx := c.Request().Context()
		require.NotNil(t, deliverycontext.GetLogger(ctx))
		require.NotNil(t, deliverycontext.GetMetrics(ctx))
		deliverycontext.GetMetrics(ctx).Record("scan.pages", 3, "pages")

		return c.NoContent(http.StatusNoContent)
	})

	require.NoError(t, err)
	assert.Equal(t, 3.0, gatherCounter(t, f.registry, "cardlens_metric_events_total", map[string]string{
		"name": "scan.pages",
		"unit": "pages",
	}))
}

func TestObserve_IdempotentReplay(t *testing.T) {
	f := newObserveFixture(t)

	handlerRuns := 0
	randomHandler := func(c echo.Context) error {
		handlerRuns++

		return c.JSON(http.StatusCreated, map[string]string{"value": uuid.New().String()})
	}

	first := httptest.NewRequest(http.MethodPost, "/cards", nil)
	first.Header.Set(deliverycontext.HeaderIdempotencyKey, "op-123")
	firstRec, err := invoke(t, f, first, randomHandler)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, firstRec.Code)

	second := httptest.NewRequest(http.MethodPost, "/cards", nil)
	second.Header.Set(deliverycontext.HeaderIdempotencyKey, "op-123")
	secondRec, err := invoke(t, f, second, randomHandler)
	require.NoError(t, err)

	assert.Equal(t, 1, handlerRuns, "replay must not run the handler again")
	assert.Equal(t, firstRec.Code, secondRec.Code)
	assert.Equal(t, firstRec.Body.Bytes(), secondRec.Body.Bytes(), "replayed body must be byte-identical")
	assert.Equal(t, firstRec.Header().Get("Content-Type"), secondRec.Header().Get("Content-Type"))
	assert.Contains(t, f.logs.String(), "idempotency.replay")
}

func TestObserve_DistinctKeysRunHandlerSeparately(t *testing.T) {
	f := newObserveFixture(t)

	handlerRuns := 0
	handler := func(c echo.Context) error {
		handlerRuns++

		return c.JSON(http.StatusOK, map[string]int{"run": handlerRuns})
	}

	for _, key := range []string{"op-1", "op-2"} {
		req := httptest.NewRequest(http.MethodPost, "/cards", nil)
		req.Header.Set(deliverycontext.HeaderIdempotencyKey, key)
		_, err := invoke(t, f, req, handler)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, handlerRuns)
}

func TestObserve_FailedInvocationNotRecordedForReplay(t *testing.T) {
	f := newObserveFixture(t)

	handlerRuns := 0
	failing := func(c echo.Context) error {
		handlerRuns++
		if handlerRuns == 1 {
			return domainerrors.ErrStoreUnavailable.WrapMessage("store down")
		}

		return c.JSON(http.StatusOK, map[string]string{"ok": "true"})
	}

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/cards", nil)
		req.Header.Set(deliverycontext.HeaderIdempotencyKey, "op-retry")
		_, _ = invoke(t, f, req, failing)
	}

	assert.Equal(t, 2, handlerRuns, "a failed invocation must not be replayable")
}

func TestObserve_FailureLoggedExactlyOnceAndRethrown(t *testing.T) {
	f := newObserveFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)

	_, err := invoke(t, f, req, func(c echo.Context) error {
		return domainerrors.ErrInvalidCredentials.WrapMessage("authentication failed")
	})

	require.Error(t, err, "errors must be rethrown to the error handler")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)

	logged := f.logs.String()
	assert.Equal(t, 1, strings.Count(logged, "Invocation failed"), "exactly one failure line per escaping error")
	assert.Contains(t, logged, `"class":"client"`)
}

func TestObserve_InvocationMetricsRecorded(t *testing.T) {
	f := newObserveFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/cards", nil)

	_, err := invoke(t, f, req, okHandler)
	require.NoError(t, err)

	assert.Equal(t, 1.0, gatherCounter(t, f.registry, "cardlens_invocations_total", map[string]string{
		"method": http.MethodGet,
		"path":   "/cards",
		"status": "200",
	}))
}

// gatherCounter reads one counter sample from the registry by name and labels.
func gatherCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, metric := range family.GetMetric() {
			got := map[string]string{}
			for _, pair := range metric.GetLabel() {
				got[pair.GetName()] = pair.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}

			return metric.GetCounter().GetValue()
		}
	}

	return 0
}
