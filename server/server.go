// Package server runs the HTTP front end: it mounts a protocol engine,
// wraps it in the security middleware chain, and handles TLS and graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/idpkit/idpkit/instrumentation"
	"github.com/idpkit/idpkit/security"
)

// Pinger reports backend health. The Redis and memory stores both
// implement it; the health endpoint uses it when one is provided.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves a protocol engine behind the security middleware chain.
type Server struct {
	config  Config
	engine  http.Handler
	logger  *slog.Logger
	limiter *security.RateLimiter
	pinger  Pinger
	inst    *instrumentation.Instrumentation

	httpServer *http.Server
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithPinger wires a backend health check into the /healthz endpoint.
func WithPinger(p Pinger) Option {
	return func(s *Server) {
		s.pinger = p
	}
}

// WithInstrumentation records request counts and latency for every request.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Server) {
		s.inst = inst
	}
}

// New creates a front-end server for the given protocol engine.
func New(engine http.Handler, config Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	config.applyDefaults(logger)
	if err := config.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config: config,
		engine: engine,
		logger: logger,
	}
	if config.RateLimitRPS > 0 {
		s.limiter = security.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst, logger)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the full front-end handler: the engine mounted at the
// root, a health endpoint, and the middleware chain around both.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("/", s.engine)

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	if !s.config.AllowInsecureHTTP {
		handler = security.HTTPSRedirectMiddleware(s.config.TrustProxy)(handler)
	}
	handler = security.HeadersMiddleware(s.config.Issuer)(handler)
	if s.inst != nil {
		handler = s.metricsMiddleware(handler)
	}
	handler = security.RequestIDMiddleware(handler)
	return handler
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	m := s.inst.Metrics()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.Int("status", rec.status),
		)
		m.HTTPRequests.Add(r.Context(), 1, attrs)
		m.HTTPRequestDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Error("Health check failed", "error", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			s.logger.Info("Starting HTTPS server", "addr", s.config.ListenAddr, "issuer", s.config.Issuer)
			err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			s.logger.Info("Starting HTTP server", "addr", s.config.ListenAddr, "issuer", s.config.Issuer)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server", "timeout", s.config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return nil
}
