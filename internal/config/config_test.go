package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.HTTPPort)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "gemini-2.0-flash-exp", cfg.Gemini.Model)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Zero(t, cfg.Gemini.Timeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SESSION_TTL", "90m")
	t.Setenv("GEMINI_TIMEOUT", "30s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("APP_ENV", "Production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, 7, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.App.CorsAllowedOrigins)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "mysql", URL: "x"},
		Auth:     AuthConfig{JWTSecret: "s"},
		Gemini:   GeminiConfig{APIKey: "k"},
	}
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_DRIVER")
}
