package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	secretsDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secretsDir, "db_password"), []byte("s3cret\n"), 0o600))
	t.Setenv("JWT_SECRET", "jwt-from-env")
	t.Setenv("RESYNC_DEBOUNCE", "150ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.DBPassword)
	assert.Equal(t, "jwt-from-env", cfg.JWTSecret)
	assert.Equal(t, 150*time.Millisecond, cfg.ResyncDebounce)
	assert.Equal(t, 3, cfg.WriteMaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.SessionCodeTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Contains(t, cfg.GetDSN(), ":s3cret@")
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	secretsDir = t.TempDir()
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestLoadConfig_InvalidAttempts(t *testing.T) {
	secretsDir = t.TempDir()
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("WRITE_MAX_ATTEMPTS", "0")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "WRITE_MAX_ATTEMPTS")
}
