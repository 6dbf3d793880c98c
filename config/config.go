// Package config loads process configuration from the environment.
// A .env file is honored when present, which keeps local development and
// container deployments on the same code path.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend selects the artifact storage backend.
type Backend string

const (
	// BackendRedis stores artifacts in Redis (production default).
	BackendRedis Backend = "redis"

	// BackendMemory stores artifacts in process memory (development only).
	BackendMemory Backend = "memory"
)

// Config contains runtime configuration values.
type Config struct {
	// Issuer is the identity provider's issuer identifier (base URL).
	Issuer string

	// ListenAddr is the address the front end binds, e.g. ":8443".
	ListenAddr string

	// Backend selects where artifacts are stored.
	Backend Backend

	// RedisURL is the backend connection string
	// (required when Backend is redis).
	RedisURL string

	// KeyPrefix namespaces all backend keys.
	KeyPrefix string

	// TLSCertFile and TLSKeyFile enable the TLS listener when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// TrustProxy enables trusting X-Forwarded-Proto from a reverse proxy.
	TrustProxy bool

	// AllowInsecureHTTP disables HTTPS enforcement. Local development only.
	AllowInsecureHTTP bool

	// RateLimitRPS and RateLimitBurst configure per-IP rate limiting.
	// Zero RPS disables limiting.
	RateLimitRPS   int
	RateLimitBurst int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// LogLevel is the slog level (debug, info, warn, error).
	LogLevel slog.Level
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	issuer := strings.TrimSpace(os.Getenv("IDP_ISSUER"))
	if issuer == "" {
		return Config{}, fmt.Errorf("IDP_ISSUER is required")
	}
	if _, err := url.Parse(issuer); err != nil {
		return Config{}, fmt.Errorf("IDP_ISSUER must be a valid URL: %w", err)
	}

	backend := Backend(getEnv("IDP_BACKEND", string(BackendRedis)))
	if backend != BackendRedis && backend != BackendMemory {
		return Config{}, fmt.Errorf("IDP_BACKEND must be %q or %q", BackendRedis, BackendMemory)
	}

	redisURL := strings.TrimSpace(os.Getenv("IDP_REDIS_URL"))
	if backend == BackendRedis && redisURL == "" {
		return Config{}, fmt.Errorf("IDP_REDIS_URL is required when IDP_BACKEND is redis")
	}

	rps, err := getEnvInt("IDP_RATE_LIMIT_RPS", 10)
	if err != nil {
		return Config{}, err
	}
	burst, err := getEnvInt("IDP_RATE_LIMIT_BURST", 20)
	if err != nil {
		return Config{}, err
	}

	shutdown, err := getEnvDuration("IDP_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(getEnv("IDP_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Issuer:            issuer,
		ListenAddr:        getEnv("IDP_LISTEN_ADDR", ":8443"),
		Backend:           backend,
		RedisURL:          redisURL,
		KeyPrefix:         getEnv("IDP_KEY_PREFIX", "idp:"),
		TLSCertFile:       os.Getenv("IDP_TLS_CERT"),
		TLSKeyFile:        os.Getenv("IDP_TLS_KEY"),
		TrustProxy:        getEnvBool("IDP_TRUST_PROXY", false),
		AllowInsecureHTTP: getEnvBool("IDP_ALLOW_INSECURE_HTTP", false),
		RateLimitRPS:      rps,
		RateLimitBurst:    burst,
		ShutdownTimeout:   shutdown,
		LogLevel:          level,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("IDP_LOG_LEVEL must be one of debug, info, warn, error")
	}
}
