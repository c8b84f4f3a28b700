package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/vinted-notifier/internal/adapter/httpserver"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/observability"
	"github.com/fairyhunter13/vinted-notifier/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/vinted-notifier/internal/config"
	"github.com/fairyhunter13/vinted-notifier/internal/service/governor"
	"github.com/fairyhunter13/vinted-notifier/internal/service/proxypool"
	"github.com/fairyhunter13/vinted-notifier/internal/service/tokenpool"
	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

type stubRestarts struct{}

func (stubRestarts) Status(context.Context) governor.Status { return governor.Status{} }
func (stubRestarts) ForceRestart(context.Context)           {}

type stubSessionStats struct{}

func (stubSessionStats) Stats() []tokenpool.SessionStat { return nil }

type stubNotifier struct{}

func (stubNotifier) Enabled(context.Context) bool { return true }
func (stubNotifier) Start(context.Context) error  { return nil }
func (stubNotifier) Stop(context.Context) error   { return nil }

func testRouter(t *testing.T, cfg config.Config, checks map[string]ReadinessCheck) http.Handler {
	t.Helper()
	store := memstore.New()
	srv := httpserver.New(cfg, store, usecase.NewAdmin(store), usecase.NewWorkerStats(),
		stubRestarts{}, proxypool.New(store.Parameters(), proxypool.Options{}),
		stubSessionStats{}, stubNotifier{}, observability.NewLogRing(10, slog.LevelInfo))
	return BuildRouter(cfg, srv, checks)
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, ParseOrigins(" https://a.test, https://b.test "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
}

func TestRouter_HealthAndAdminMounted(t *testing.T) {
	h := testRouter(t, config.Config{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queries", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Readyz(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	broken := func(context.Context) error { return errors.New("connection refused") }

	h := testRouter(t, config.Config{}, map[string]ReadinessCheck{"db": healthy})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = testRouter(t, config.Config{}, map[string]ReadinessCheck{"db": healthy, "redis": broken})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis: connection refused")
}

func TestRouter_RateLimit(t *testing.T) {
	h := testRouter(t, config.Config{RateLimitPerMin: 2}, nil)

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/queries", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
