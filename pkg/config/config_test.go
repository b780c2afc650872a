package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Transfer.QueueDepth)
	assert.Equal(t, 300*time.Second, cfg.Transfer.EventTTL)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
}

func TestLoad_FromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
logging:
  level: DEBUG
  format: json
server:
  port: 9191
transfer:
  queue_depth: 32
  chunk_size: 8Ki
  max_http_upload_size: 2Gi
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Transfer.QueueDepth)
	assert.EqualValues(t, 8*1024, cfg.Transfer.ChunkSize)
	assert.EqualValues(t, 2*1024*1024*1024, cfg.Transfer.MaxHTTPUploadSize)
}

func TestLoad_ExternalEnvVarsBypassPrefix(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://backend:6380/2")
	t.Setenv("SENTRY_DSN", "https://example.invalid/1")
	t.Setenv("DEPLOYMENT_ID", "rev-42")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "redis://backend:6380/2", cfg.Redis.URL)
	assert.Equal(t, "https://example.invalid/1", cfg.Telemetry.SentryDSN)
	assert.Equal(t, "rev-42", cfg.Telemetry.DeploymentID)
}

func TestLoad_PrefixedEnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9191\n"), 0644))
	t.Setenv("TRANSIT_SERVER_PORT", "7000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestMustLoad_WrapsErrorWithHint(t *testing.T) {
	badPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("not: [valid yaml"), 0644))

	_, err := MustLoad(badPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transit init")
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 9999

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
}
