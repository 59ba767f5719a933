package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadControllerDefaults(t *testing.T) {
	cfg, err := LoadController("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, AuthNone, cfg.AuthMode)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisConfig.Addr())
}

func TestLoadControllerFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\nauth_mode: api_key\n"), 0o600))

	t.Setenv("CONTROLLER_PORT", "9999")

	cfg, err := LoadController(path)
	require.NoError(t, err)
	assert.Equal(t, AuthAPIKey, cfg.AuthMode)
	assert.Equal(t, 9999, cfg.Port, "env var must win over file value")
}

func TestCacheTTLClampedNotRejected(t *testing.T) {
	cfg, err := LoadController("")
	require.NoError(t, err)
	cfg.CacheDefaultTTL = cfg.CacheMaxTTL + 1000
	require.NoError(t, cfg.validate())
	assert.Equal(t, cfg.CacheMaxTTL, cfg.CacheDefaultTTL)
}

func TestLoadWorkerDefaults(t *testing.T) {
	cfg, err := LoadWorker("")
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.WorkerLivenessS)
	assert.Equal(t, 300, cfg.LeaseTTLS)
}

func TestWorkerPluginOptionsFromEnv(t *testing.T) {
	t.Setenv("WORKER_PLUGIN_VAULT_ADDR", "https://vault.internal")
	cfg, err := LoadWorker("")
	require.NoError(t, err)
	assert.Equal(t, "https://vault.internal", cfg.PluginOptions["vault_addr"])
}
