// Package config provides configuration loading using koanf.
// Precedence: environment variables → compiled defaults.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/authclient/internal/domain"
)

// EnvPrefix is stripped from environment variable names before mapping.
// AUTHCLIENT_API_BASE_URL maps to api.base_url.
const EnvPrefix = "AUTHCLIENT_"

// LocalBaseURL is the upstream used in the local environment when none is set.
const LocalBaseURL = "http://localhost:8000/api"

// Token store backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all client configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	Log    LogConfig    `koanf:"log"`
	API    APIConfig    `koanf:"api"`
	Tokens TokensConfig `koanf:"tokens"`
	Redis  RedisConfig  `koanf:"redis"`
	OTEL   OTELConfig   `koanf:"otel"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// APIConfig describes the upstream server.
type APIConfig struct {
	BaseURL          string        `koanf:"base_url"` // Required outside local
	Timeout          time.Duration `koanf:"timeout"`
	RefreshTimeout   time.Duration `koanf:"refresh_timeout"`
	MaxResponseBytes int64         `koanf:"max_response_bytes"`
}

// TokensConfig selects where the token pair is persisted.
type TokensConfig struct {
	Backend   string `koanf:"backend"` // file, redis, memory
	File      string `koanf:"file"`    // Defaults to <user config dir>/authclient/tokens.yaml
	KeyPrefix string `koanf:"key_prefix"`
}

// RedisConfig holds Redis configuration for the redis token backend.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required when tokens.backend=redis
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			Timeout:          domain.DefaultRequestTimeout,
			RefreshTimeout:   domain.RefreshTimeout,
			MaxResponseBytes: domain.MaxResponseBytes,
		},
		Tokens: TokensConfig{
			Backend: BackendFile,
		},
		Redis: RedisConfig{
			Timeout: domain.RedisTimeout,
		},
		OTEL: OTELConfig{
			ServiceName: "authclient",
		},
	}
}

// envKey maps AUTHCLIENT_API_BASE_URL to api.base_url: the first underscore
// after the prefix separates the section from the field.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
//
// Required keys missing → error wrapping domain.ErrConfigRequired.
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.Tokens.Backend = strings.ToLower(strings.TrimSpace(c.Tokens.Backend))
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" && c.IsLocal() {
		c.API.BaseURL = LocalBaseURL
	}
	if c.Tokens.Backend == BackendFile && c.Tokens.File == "" {
		c.Tokens.File = DefaultTokenFile()
	}
}

// DefaultTokenFile returns the per-user token file path, or a relative path
// when the user config directory is unknown.
func DefaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".authclient", "tokens.yaml")
	}
	return filepath.Join(dir, "authclient", "tokens.yaml")
}

// validate checks that required configuration is present and consistent.
func validate(cfg *Config) error {
	if !cfg.IsLocal() && cfg.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url", domain.ErrConfigRequired)
	}
	if cfg.API.BaseURL != "" &&
		!strings.HasPrefix(cfg.API.BaseURL, "http://") &&
		!strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return fmt.Errorf("%w: api.base_url %q must be an http(s) URL", domain.ErrInvalidConfig, cfg.API.BaseURL)
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("%w: api.timeout must be positive", domain.ErrInvalidConfig)
	}
	if cfg.API.RefreshTimeout <= 0 {
		return fmt.Errorf("%w: api.refresh_timeout must be positive", domain.ErrInvalidConfig)
	}

	switch cfg.Tokens.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
	default:
		return fmt.Errorf("%w: tokens.backend %q", domain.ErrInvalidConfig, cfg.Tokens.Backend)
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
