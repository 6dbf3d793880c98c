// Package idpkit assembles an identity-provider deployment: it builds the
// artifact storage backend, instruments it, and serves a protocol engine
// behind the hardened HTTP front end.
//
// The protocol engine itself (authorization, token, and device endpoints)
// is supplied by the embedder as an http.Handler; idpkit provides the
// persistence contract the engine's adapters are built on, the backends
// that satisfy it, and the operational shell around the engine.
package idpkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/idpkit/idpkit/accounts"
	"github.com/idpkit/idpkit/config"
	"github.com/idpkit/idpkit/instrumentation"
	"github.com/idpkit/idpkit/server"
	"github.com/idpkit/idpkit/store"
	"github.com/idpkit/idpkit/store/memory"
	"github.com/idpkit/idpkit/store/redis"
)

// Version is the library version, set at build time via ldflags.
var Version = "dev"

// Dependencies is what an engine builder receives: one storage adapter per
// artifact kind, plus the collaborators shared with the front end.
type Dependencies struct {
	// Adapters holds one instrumented storage adapter per artifact kind.
	Adapters map[store.Kind]store.Adapter

	// Accounts resolves subjects and verifies credentials.
	Accounts accounts.Finder

	// Issuer is the provider's issuer identifier.
	Issuer string

	// Logger is the process logger.
	Logger *slog.Logger
}

// Adapter returns the adapter for a kind. Engines use this instead of
// indexing the map so a missing kind fails loudly.
func (d Dependencies) Adapter(kind store.Kind) (store.Adapter, error) {
	adapter, ok := d.Adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no storage adapter for kind %q", kind)
	}
	return adapter, nil
}

// EngineBuilder constructs the protocol engine from its dependencies.
type EngineBuilder func(deps Dependencies) (http.Handler, error)

// Provider is a fully assembled identity-provider process.
type Provider struct {
	config config.Config
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
	server *server.Server

	redisStore  *redis.Store
	memoryStore *memory.Store
}

// New assembles a provider from configuration: storage backend, per-kind
// instrumented adapters, the engine built by the caller, and the front-end
// server around it.
func New(cfg config.Config, accountFinder accounts.Finder, build EngineBuilder) (*Provider, error) {
	if accountFinder == nil {
		return nil, fmt.Errorf("account finder is required")
	}
	if build == nil {
		return nil, fmt.Errorf("engine builder is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "idpkit",
		ServiceVersion: Version,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize instrumentation: %w", err)
	}

	p := &Provider{
		config: cfg,
		logger: logger,
		inst:   inst,
	}

	factory, pinger, err := p.buildBackend()
	if err != nil {
		inst.Shutdown(context.Background())
		return nil, err
	}

	adapters := make(map[store.Kind]store.Adapter, len(store.Kinds))
	for _, kind := range store.Kinds {
		adapters[kind] = instrumentation.WrapAdapter(factory.Adapter(kind), kind, inst)
	}

	engine, err := build(Dependencies{
		Adapters: adapters,
		Accounts: accountFinder,
		Issuer:   cfg.Issuer,
		Logger:   logger,
	})
	if err != nil {
		p.closeBackend()
		inst.Shutdown(context.Background())
		return nil, fmt.Errorf("build engine: %w", err)
	}

	srv, err := server.New(engine, server.Config{
		Issuer:            cfg.Issuer,
		ListenAddr:        cfg.ListenAddr,
		TLSCertFile:       cfg.TLSCertFile,
		TLSKeyFile:        cfg.TLSKeyFile,
		AllowInsecureHTTP: cfg.AllowInsecureHTTP,
		TrustProxy:        cfg.TrustProxy,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, logger, server.WithPinger(pinger), server.WithInstrumentation(inst))
	if err != nil {
		p.closeBackend()
		inst.Shutdown(context.Background())
		return nil, err
	}
	p.server = srv

	return p, nil
}

// buildBackend creates the configured storage backend and returns it as an
// adapter factory plus its health check.
func (p *Provider) buildBackend() (store.Factory, server.Pinger, error) {
	switch p.config.Backend {
	case config.BackendRedis:
		s, err := redis.New(redis.Config{
			URL:       p.config.RedisURL,
			KeyPrefix: p.config.KeyPrefix,
			Logger:    p.logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize redis backend: %w", err)
		}
		p.redisStore = s
		return s, s, nil

	case config.BackendMemory:
		p.logger.Warn("Using in-memory storage",
			"risk", "artifacts are lost on restart and not shared across replicas",
			"recommendation", "use the redis backend in production")
		s := memory.New()
		s.SetLogger(p.logger)
		p.memoryStore = s
		return s, noopPinger{}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", p.config.Backend)
	}
}

// Logger returns the process logger.
func (p *Provider) Logger() *slog.Logger {
	return p.logger
}

// Handler returns the front-end handler, for embedding the provider into
// an existing server instead of calling Run.
func (p *Provider) Handler() http.Handler {
	return p.server.Handler()
}

// Run serves the provider until ctx is canceled, then releases all
// resources.
func (p *Provider) Run(ctx context.Context) error {
	defer p.Close()
	return p.server.ListenAndServe(ctx)
}

// Close releases the storage backend and instrumentation. Safe to call
// more than once.
func (p *Provider) Close() {
	p.closeBackend()
	if p.inst != nil {
		if err := p.inst.Shutdown(context.Background()); err != nil {
			p.logger.Error("Instrumentation shutdown failed", "error", err)
		}
	}
}

func (p *Provider) closeBackend() {
	if p.redisStore != nil {
		if err := p.redisStore.Close(); err != nil {
			p.logger.Error("Failed to close redis backend", "error", err)
		}
		p.redisStore = nil
	}
	if p.memoryStore != nil {
		p.memoryStore.Stop()
		p.memoryStore = nil
	}
}

// noopPinger reports the in-memory backend as always healthy.
type noopPinger struct{}

func (noopPinger) Ping(context.Context) error { return nil }
