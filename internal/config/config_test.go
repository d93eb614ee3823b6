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
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.NotEmpty(t, cfg.Storage.Dir)
	assert.Equal(t, 10, cfg.Auth.Iterations)
	assert.Equal(t, time.Hour, cfg.Janitor.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Server.TrustedProxies)
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PASSE_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("PASSE_STORAGE_DRIVER", "sqlite")
	t.Setenv("PASSE_STORAGE_DIR", "/var/lib/passe")
	t.Setenv("PASSE_JANITOR_INTERVAL", "15m")
	t.Setenv("PASSE_RATELIMIT_BURST", "3")
	t.Setenv("PASSE_SERVER_TRUSTEDPROXIES", "10.0.0.1,192.168.0.0/16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join("/var/lib/passe", "passe.sqlite"), cfg.Storage.Path)
	assert.Equal(t, 15*time.Minute, cfg.Janitor.Interval)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.Server.TrustedProxies)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	dotenv := "# comment\nPASSE_LOG_LEVEL=debug\nexport PASSE_SERVER_ADDR=\":7000\"\nPASSE_AUTH_ITERATIONS=4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o600))
	t.Setenv("PASSE_AUTH_ITERATIONS", "12")
	// registered with t.Setenv so the values loaded from .env are restored afterwards
	t.Setenv("PASSE_LOG_LEVEL", "")
	os.Unsetenv("PASSE_LOG_LEVEL")
	t.Setenv("PASSE_SERVER_ADDR", "")
	os.Unsetenv("PASSE_SERVER_ADDR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 12, cfg.Auth.Iterations)
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.Storage.Driver = "floppy"
	assert.ErrorContains(t, cfg.Validate(), "unknown storage driver")

	cfg.Storage.Driver = DriverPostgres
	assert.Error(t, cfg.Validate())
	cfg.Storage.DSN = "postgres://localhost/passe"
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Driver = DriverS3
	assert.Error(t, cfg.Validate())
	cfg.Storage.Bucket = "passe"
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Driver = DriverMemory
	assert.NoError(t, cfg.Validate())

	cfg.Server.TrustedProxies = []string{"10.0.0.1", "fd00::/8"}
	assert.NoError(t, cfg.Validate())
	cfg.Server.TrustedProxies = []string{"proxy.local"}
	assert.ErrorContains(t, cfg.Validate(), "invalid trusted proxy")
}
