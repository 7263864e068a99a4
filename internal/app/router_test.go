package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/franchise-ops/franchise-console/internal/auth"
	"github.com/franchise-ops/franchise-console/internal/catalog"
	"github.com/franchise-ops/franchise-console/internal/observability"
	"github.com/franchise-ops/franchise-console/internal/shared"
)

type emptyCatalog struct{}

func (emptyCatalog) ListBranch(ctx context.Context, branchID int64) ([]catalog.Product, error) {
	return nil, nil
}

func testRouter(t *testing.T, cfg *Config, ready map[string]Pinger) (http.Handler, *auth.Tokens) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := auth.NewTokens("0123456789abcdef0123456789abcdef", "franchise-console", time.Hour)
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		Authenticate:   auth.Authenticate(tokens, logger),
		CatalogHandler: catalog.NewHandler(logger, emptyCatalog{}),
		Metrics:        observability.NewMetrics(),
		Readiness:      ready,
	}), tokens
}

func get(h http.Handler, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router, _ := testRouter(t, &Config{RateLimitPerMinute: 100}, nil)
	rr := get(router, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rr.Header().Get("X-Ratelimit-Limit"))
}

func TestRouterReadiness(t *testing.T) {
	router, _ := testRouter(t, &Config{RateLimitPerMinute: 100}, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rr := get(router, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.JSONEq(t, `{"postgres":"up","redis":"down"}`, rr.Body.String())
}

func TestRouterRequiresToken(t *testing.T) {
	router, tokens := testRouter(t, &Config{RateLimitPerMinute: 100}, nil)
	require.Equal(t, http.StatusUnauthorized, get(router, "/catalog", "").Code)

	raw, _, err := tokens.Issue(shared.Principal{UserID: 20, BranchID: 2, Role: shared.RoleBranch})
	require.NoError(t, err)
	rr := get(router, "/catalog", raw)
	require.Equal(t, http.StatusOK, rr.Code)

	metrics := get(router, "/metrics", "")
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), `franchise_http_requests_total{code="200",route="/catalog"} 1`)
}

func TestRouterRateLimit(t *testing.T) {
	router, _ := testRouter(t, &Config{RateLimitPerMinute: 2}, nil)
	require.Equal(t, http.StatusOK, get(router, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, get(router, "/healthz", "").Code)
	rr := get(router, "/healthz", "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Contains(t, rr.Body.String(), "RATE_LIMITED")
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{JWTSecret: "short", RateLimitPerMinute: 10}
	require.Error(t, cfg.Validate())
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.Validate())
	cfg.NotifyMaxRetry = -1
	require.Error(t, cfg.Validate())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("STATS_CACHE_TTL", "90s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.StatsCacheTTL)
	require.Equal(t, 8, cfg.NotifyMaxRetry)
	require.False(t, cfg.IsProduction())
}
