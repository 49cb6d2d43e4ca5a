// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads and validates the passkey server configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	Storage   StorageConfig   `yaml:"storage"`
	Passkey   PasskeyConfig   `yaml:"passkey"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TLSConfig controls TLS/SSL settings.
//
// Browsers only expose WebAuthn on secure contexts, so production
// deployments either enable TLS here or terminate it at a proxy in front.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is TLS1.2 or TLS1.3. Defaults to TLS1.2.
	MinVersion string `yaml:"min_version"`

	// ClientCAFile enables mTLS verification of client certificates.
	ClientCAFile string `yaml:"client_ca_file"`
}

// RateLimitConfig controls rate limiting on the ceremony endpoints
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health probe endpoints
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StorageConfig selects the challenge and credential store backend
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Required for the sqlite backend.
	Path string `yaml:"path"`
}

// PasskeyConfig controls ceremony policy
type PasskeyConfig struct {
	// RPDisplayName is the human-readable service name shown by
	// authenticators during ceremonies.
	RPDisplayName string `yaml:"rp_display_name"`

	// ChallengeTTL bounds how long an issued challenge stays redeemable.
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`

	// CeremonyTimeout is the client-side ceremony timeout hint.
	CeremonyTimeout time.Duration `yaml:"ceremony_timeout"`

	// UserVerification is "required", "preferred", or "discouraged".
	UserVerification string `yaml:"user_verification"`

	// AttestationPreference is "none", "indirect", or "direct".
	AttestationPreference string `yaml:"attestation_preference"`

	// SweepInterval controls how often consumed and expired challenges
	// are purged from the store.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SessionConfig controls the JWT session cookie issued after a
// successful authentication
type SessionConfig struct {
	// Secret signs session tokens (HS256). Required.
	Secret string `yaml:"secret"`

	// TTL bounds session lifetime. Defaults to 12h.
	TTL time.Duration `yaml:"ttl"`

	// CookieName defaults to "passkey_session".
	CookieName string `yaml:"cookie_name"`

	// Issuer is the JWT iss claim. Defaults to "go-passkey".
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("PASSKEY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Storage
	if backend := os.Getenv("PASSKEY_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dbPath := os.Getenv("PASSKEY_STORAGE_PATH"); dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	// Session secret is the usual secret-via-environment deployment
	if secret := os.Getenv("PASSKEY_SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}
}

// SetDefaults fills in default values for unset fields
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Passkey.RPDisplayName == "" {
		c.Passkey.RPDisplayName = "go-passkey"
	}
	if c.Passkey.SweepInterval == 0 {
		c.Passkey.SweepInterval = 5 * time.Minute
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 12 * time.Hour
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "passkey_session"
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "go-passkey"
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin == 0 {
		c.RateLimit.RequestsPerMin = 60
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s (must be memory or sqlite)", c.Storage.Backend)
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session secret must be configured (session.secret or PASSKEY_SESSION_SECRET)")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes")
	}

	switch c.Passkey.UserVerification {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid user_verification: %s", c.Passkey.UserVerification)
	}

	switch c.Passkey.AttestationPreference {
	case "", "none", "indirect", "direct":
	default:
		return fmt.Errorf("invalid attestation_preference: %s", c.Passkey.AttestationPreference)
	}

	return nil
}
