package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 480*time.Minute, cfg.AccessTokenTTL())
	assert.Equal(t, "https://sandbox.safaricom.co.ke", cfg.Mpesa.BaseURL)
	assert.Equal(t, 3*time.Minute, cfg.Mpesa.PendingTimeout)
	assert.False(t, cfg.Mpesa.Enabled())
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\nMPESA_SHORTCODE=600000\nREDIS_DB=3\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("REDIS_DB", "5")
	// godotenv.Load only sets unset keys; clear these so the file applies.
	os.Unsetenv("PORT")
	os.Unsetenv("MPESA_SHORTCODE")
	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("MPESA_SHORTCODE")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "600000", cfg.Mpesa.ShortCode)
	assert.Equal(t, 5, cfg.RedisDB)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
