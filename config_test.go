package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s3cret")

	cfg, err := LoadConfig(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost:3000", cfg.ListenAddr())
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 6, cfg.FreeTierLimit)
	assert.Equal(t, int64(5<<20), cfg.MaxImageSize)
	assert.Equal(t, 10, cfg.MaxUploadFiles)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "./public", cfg.PublicDir)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("FREE_TIER_LIMIT", "3")
	t.Setenv("DB_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.ListenAddr())
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 3, cfg.FreeTierLimit)
	assert.Equal(t, DriverMongo, cfg.Database.Driver)
	assert.Equal(t, "mongodb://db:27017", cfg.Database.MongoURI)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s3cret")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MAX_UPLOAD_FILES=4\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("MAX_UPLOAD_FILES") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxUploadFiles)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{}},
		{name: "blank secret", env: map[string]string{"JWT_SECRET_KEY": "   "}},
		{name: "bad ttl", env: map[string]string{"JWT_SECRET_KEY": "s", "TOKEN_TTL": "soon"}},
		{name: "negative ttl", env: map[string]string{"JWT_SECRET_KEY": "s", "TOKEN_TTL": "-1h"}},
		{name: "negative limit", env: map[string]string{"JWT_SECRET_KEY": "s", "FREE_TIER_LIMIT": "-1"}},
		{name: "unknown driver", env: map[string]string{"JWT_SECRET_KEY": "s", "DB_DRIVER": "sqlite"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", "")
			_ = os.Unsetenv("JWT_SECRET_KEY")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(missingEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestConfig_SlogLevelFallback(t *testing.T) {
	cfg := &Config{LogLevel: "loud"}
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}
