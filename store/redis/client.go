package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redisgo "github.com/redis/go-redis/v9"

	"github.com/idpkit/idpkit/store"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys.
	DefaultKeyPrefix = "idp:"

	// Default timeouts for Redis operations.
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// URL is the Redis connection string (required),
	// e.g. "redis://:password@localhost:6379/0".
	URL string

	// KeyPrefix is the prefix for all keys (default "idp:").
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Store holds the Redis connection shared by the per-kind adapters.
type Store struct {
	client redisgo.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ store.Factory = (*Store)(nil)

// New creates a Redis-backed storage instance from a connection string.
// Returns an error if the URL is invalid or the server cannot be reached.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis connection URL is required")
	}

	opts, err := redisgo.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis connection URL: %w", err)
	}

	opts.DialTimeout = cfg.DialTimeout
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	opts.ReadTimeout = cfg.ReadTimeout
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	opts.WriteTimeout = cfg.WriteTimeout
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	client := redisgo.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := newStore(client, cfg.KeyPrefix)
	if cfg.Logger != nil {
		s.logger = cfg.Logger
	}

	s.logger.Info("Connected to Redis storage",
		"addr", opts.Addr,
		"db", opts.DB,
		"prefix", s.prefix)

	return s, nil
}

// NewWithClient creates a Store with a pre-configured client.
// This is useful for testing with miniredis.
func NewWithClient(client redisgo.UniversalClient, keyPrefix string) *Store {
	return newStore(client, keyPrefix)
}

func newStore(client redisgo.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{
		client: client,
		prefix: keyPrefix,
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Adapter returns the artifact adapter bound to the given model kind.
func (s *Store) Adapter(kind store.Kind) store.Adapter {
	return &Adapter{s: s, kind: kind}
}
