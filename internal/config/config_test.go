package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkeLLLa/chrome-pool/internal/config"
)

func TestInitializeDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, config.Initialize())

	cfg := config.Get()
	assert.Equal(t, 4, cfg.Pool.Capacity)
	assert.Equal(t, 0, cfg.Pool.Endpoint)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8600, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RenderTimeout)
	assert.Equal(t, int64(1048576), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "human", cfg.Log.Format)
}

func TestInitializeWritesDefaultConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, config.Initialize())

	data, err := os.ReadFile(filepath.Join(home, ".chrome-pool", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "capacity: 4")
}

func TestInitializeReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".chrome-pool")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	custom := `pool:
  capacity: 2
server:
  host: 0.0.0.0
  render_timeout: 5s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(custom), 0o644))

	require.NoError(t, config.Initialize())

	cfg := config.Get()
	assert.Equal(t, 2, cfg.Pool.Capacity)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5*time.Second, cfg.Server.RenderTimeout)
	// Keys the file leaves out keep their defaults.
	assert.Equal(t, 8600, cfg.Server.Port)
}

func TestInitializeEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".chrome-pool")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "config.yaml"),
		[]byte("pool:\n  capacity: 2\n"),
		0o644,
	))

	t.Setenv("CHROMEPOOL_POOL_CAPACITY", "9")
	t.Setenv("CHROMEPOOL_LOG_LEVEL", "debug")

	require.NoError(t, config.Initialize())

	cfg := config.Get()
	assert.Equal(t, 9, cfg.Pool.Capacity)
	assert.Equal(t, "debug", cfg.Log.Level)
}
