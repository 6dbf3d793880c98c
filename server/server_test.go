package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idpkit/idpkit/instrumentation"
	"github.com/idpkit/idpkit/security"
)

func okEngine() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("engine"))
	})
}

func devConfig() Config {
	return Config{
		Issuer:            "http://localhost:8080",
		AllowInsecureHTTP: true,
	}
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(nil, devConfig(), slog.Default())
	assert.Error(t, err)
}

func TestNewValidatesIssuer(t *testing.T) {
	_, err := New(okEngine(), Config{Issuer: "http://idp.example.com"}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https")
}

func TestHandlerMountsEngine(t *testing.T) {
	srv, err := New(okEngine(), devConfig(), slog.Default())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "engine", string(body))
}

func TestHandlerSetsSecurityHeadersAndRequestID(t *testing.T) {
	srv, err := New(okEngine(), devConfig(), slog.Default())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get(security.RequestIDHeader))
}

func TestHandlerRedirectsPlainHTTP(t *testing.T) {
	srv, err := New(okEngine(), Config{Issuer: "https://idp.example.com"}, slog.Default())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://idp.example.com/token", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://idp.example.com/token", rec.Header().Get("Location"))
}

func TestHandlerTrustsForwardedProto(t *testing.T) {
	srv, err := New(okEngine(), Config{Issuer: "https://idp.example.com", TrustProxy: true}, slog.Default())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://idp.example.com/token", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRateLimits(t *testing.T) {
	cfg := devConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2

	srv, err := New(okEngine(), cfg, slog.Default())
	require.NoError(t, err)
	handler := srv.Handler()

	var last int
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:4711"
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestHandlerWithInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test"})
	require.NoError(t, err)

	srv, err := New(okEngine(), devConfig(), slog.Default(), WithInstrumentation(inst))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, err := New(okEngine(), devConfig(), slog.Default())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type healthyPinger struct{}

func (healthyPinger) Ping(context.Context) error { return nil }

func TestHealthEndpointReportsBackend(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv, err := New(okEngine(), devConfig(), slog.Default(), WithPinger(healthyPinger{}))
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unavailable", func(t *testing.T) {
		srv, err := New(okEngine(), devConfig(), slog.Default(), WithPinger(failingPinger{}))
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestListenAndServeShutsDownOnContextCancel(t *testing.T) {
	cfg := devConfig()
	cfg.ListenAddr = "127.0.0.1:0"

	srv, err := New(okEngine(), cfg, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.ListenAndServe(ctx)
	}()

	cancel()
	assert.NoError(t, <-done)
}
