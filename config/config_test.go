package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, LocalSQLite, cfg.Local.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Backend.MaxAttempts)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  environment: staging
server:
  port: 9090
  api_keys: [from-file]
local:
  backend: redis
redis:
  addr: cache:6379
  snapshot_ttl: 1h
backend:
  url: http://progressd:8080
  timeout: 2s
`), 0o600))

	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("BACKEND_MAX_ATTEMPTS", "5")
	t.Setenv("SERVER_API_KEYS", "a,b")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, []string{"a", "b"}, cfg.Server.APIKeys)
	assert.Equal(t, LocalRedis, cfg.Local.Backend)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.SnapshotTTL)
	assert.Equal(t, "http://progressd:8080", cfg.Backend.URL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 5, cfg.Backend.MaxAttempts)

	// Untouched values keep their defaults.
	assert.Equal(t, "basecamp:", cfg.Redis.Prefix)
	assert.Equal(t, 4*time.Second, cfg.Engine.ResolveTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown environment",
			mutate:  func(c *Config) { c.App.Environment = "qa" },
			wantErr: "APP_ENV",
		},
		{
			name:    "unknown local backend",
			mutate:  func(c *Config) { c.Local.Backend = "etcd" },
			wantErr: "LOCAL_BACKEND",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Local.Path = "" },
			wantErr: "LOCAL_PATH",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Backend.MaxAttempts = 0 },
			wantErr: "BACKEND_MAX_ATTEMPTS",
		},
		{
			name:    "zero deadline",
			mutate:  func(c *Config) { c.Engine.ProbeTimeout = 0 },
			wantErr: "ENGINE_PROBE_TIMEOUT",
		},
		{
			name:    "production without database",
			mutate:  func(c *Config) { c.App.Environment = EnvProduction },
			wantErr: "DATABASE_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireDatabase(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireDatabase())

	cfg.Database.URL = "postgres://localhost/progress"
	assert.NoError(t, cfg.RequireDatabase())
}
