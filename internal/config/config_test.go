package config_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/authclient/internal/config"
	"github.com/aelexs/authclient/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	assert.Equal(t, config.LocalBaseURL, cfg.API.BaseURL)
	assert.Equal(t, domain.DefaultRequestTimeout, cfg.API.Timeout)
	assert.Equal(t, domain.RefreshTimeout, cfg.API.RefreshTimeout)
	assert.Equal(t, int64(domain.MaxResponseBytes), cfg.API.MaxResponseBytes)

	assert.Equal(t, config.BackendFile, cfg.Tokens.Backend)
	assert.Equal(t, "tokens.yaml", filepath.Base(cfg.Tokens.File))
	assert.Equal(t, domain.RedisTimeout, cfg.Redis.Timeout)
	assert.Equal(t, "authclient", cfg.OTEL.ServiceName)
	assert.Empty(t, cfg.OTEL.Endpoint)
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("AUTHCLIENT_ENVIRONMENT", "prod")
	t.Setenv("AUTHCLIENT_API_BASE_URL", "https://docs.example.com/api/")
	t.Setenv("AUTHCLIENT_API_TIMEOUT", "3s")
	t.Setenv("AUTHCLIENT_API_REFRESH_TIMEOUT", "1500ms")
	t.Setenv("AUTHCLIENT_LOG_LEVEL", "debug")
	t.Setenv("AUTHCLIENT_LOG_FORMAT", "json")
	t.Setenv("AUTHCLIENT_TOKENS_BACKEND", "Redis")
	t.Setenv("AUTHCLIENT_TOKENS_KEY_PREFIX", "svc:")
	t.Setenv("AUTHCLIENT_REDIS_ADDR", "redis:6379")
	t.Setenv("AUTHCLIENT_REDIS_DB", "2")
	t.Setenv("AUTHCLIENT_OTEL_ENDPOINT", "otel:4317")
	t.Setenv("AUTHCLIENT_OTEL_INSECURE", "true")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, "https://docs.example.com/api", cfg.API.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.API.RefreshTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, config.BackendRedis, cfg.Tokens.Backend)
	assert.Equal(t, "svc:", cfg.Tokens.KeyPrefix)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "otel:4317", cfg.OTEL.Endpoint)
	assert.True(t, cfg.OTEL.Insecure)
}

func TestTokenFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	t.Setenv("AUTHCLIENT_TOKENS_FILE", path)

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, path, cfg.Tokens.File)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
		wantKey string
	}{
		{
			name:    "prod requires base url",
			env:     map[string]string{"AUTHCLIENT_ENVIRONMENT": "prod"},
			wantErr: domain.ErrConfigRequired,
			wantKey: "api.base_url",
		},
		{
			name:    "base url must be http",
			env:     map[string]string{"AUTHCLIENT_API_BASE_URL": "ftp://example.com"},
			wantErr: domain.ErrInvalidConfig,
			wantKey: "api.base_url",
		},
		{
			name:    "redis backend requires addr",
			env:     map[string]string{"AUTHCLIENT_TOKENS_BACKEND": "redis"},
			wantErr: domain.ErrConfigRequired,
			wantKey: "redis.addr",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"AUTHCLIENT_TOKENS_BACKEND": "etcd"},
			wantErr: domain.ErrInvalidConfig,
			wantKey: "tokens.backend",
		},
		{
			name:    "non-positive timeout",
			env:     map[string]string{"AUTHCLIENT_API_TIMEOUT": "0s"},
			wantErr: domain.ErrInvalidConfig,
			wantKey: "api.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestMemoryBackendNeedsNoFile(t *testing.T) {
	t.Setenv("AUTHCLIENT_TOKENS_BACKEND", "memory")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Tokens.Backend)
	assert.Empty(t, cfg.Tokens.File)
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"local returns true", "local", true},
		{"prod returns false", "prod", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}
			assert.Equal(t, tt.want, cfg.IsLocal())
		})
	}
}

func TestIsProd(t *testing.T) {
	assert.True(t, (&config.Config{Environment: "prod"}).IsProd())
	assert.False(t, (&config.Config{Environment: "local"}).IsProd())
}
