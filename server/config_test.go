package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{Issuer: "https://idp.example.com"}
	cfg.applyDefaults(slog.Default())

	assert.Equal(t, ":8443", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "https issuer",
			cfg:  Config{Issuer: "https://idp.example.com"},
		},
		{
			name:    "missing issuer",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name:    "http issuer on public host",
			cfg:     Config{Issuer: "http://idp.example.com"},
			wantErr: true,
		},
		{
			name: "http issuer on localhost",
			cfg:  Config{Issuer: "http://localhost:8080"},
		},
		{
			name: "http issuer on loopback",
			cfg:  Config{Issuer: "http://127.0.0.1:8080"},
		},
		{
			name: "http issuer explicitly allowed",
			cfg:  Config{Issuer: "http://idp.internal", AllowInsecureHTTP: true},
		},
		{
			name:    "non-http scheme",
			cfg:     Config{Issuer: "ldap://idp.example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
