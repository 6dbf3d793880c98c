package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Config holds front-end server configuration.
type Config struct {
	// Issuer is the identity provider's issuer identifier (base URL).
	// The protocol requires HTTPS issuers outside local development.
	Issuer string

	// ListenAddr is the address to bind, e.g. ":8443". Default ":8443".
	ListenAddr string

	// TLSCertFile and TLSKeyFile enable the TLS listener when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// AllowInsecureHTTP permits an http:// issuer and disables the HTTPS
	// redirect. Only for local development.
	AllowInsecureHTTP bool

	// TrustProxy enables trusting X-Forwarded-Proto from a reverse proxy.
	// Only enable behind a trusted proxy that terminates TLS.
	TrustProxy bool

	// RateLimitRPS is requests per second allowed per IP. Zero disables
	// limiting.
	RateLimitRPS int

	// RateLimitBurst is the maximum burst size allowed per IP.
	RateLimitBurst int

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration
}

// applyDefaults fills zero values and logs warnings for insecure settings.
func (c *Config) applyDefaults(logger *slog.Logger) {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8443"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	if c.AllowInsecureHTTP {
		logger.Warn("SECURITY WARNING: insecure HTTP is allowed",
			"risk", "credentials and tokens travel unencrypted",
			"recommendation", "unset AllowInsecureHTTP outside local development")
	}
	if c.TrustProxy {
		logger.Warn("SECURITY NOTICE: trusting proxy headers",
			"risk", "scheme spoofing if the proxy is misconfigured",
			"recommendation", "only enable behind a trusted reverse proxy")
	}
	if c.RateLimitRPS <= 0 {
		logger.Warn("Rate limiting is disabled",
			"recommendation", "set RateLimitRPS for production deployments")
	}
}

// validate checks the issuer and enforces HTTPS outside local development.
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	parsed, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalhost(parsed.Hostname()) || c.AllowInsecureHTTP {
			return nil
		}
		return fmt.Errorf("issuer %q must use https (set AllowInsecureHTTP for local development)", c.Issuer)
	default:
		return fmt.Errorf("issuer %q must be an http(s) URL", c.Issuer)
	}
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
