package config

import (
	"cicdcopilot/internal/blob"
	"cicdcopilot/internal/core"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, core.StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Execution.Delay)
	assert.True(t, cfg.Seed.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "copilot.yaml", `
http:
  addr: ":9090"
  shutdown_timeout: 3s
storage:
  driver: memory
blob:
  driver: memory
log:
  level: debug
  format: console
execution:
  delay: 250ms
  success_rate: 0.5
seed:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, Default().HTTP.ReadTimeout, cfg.HTTP.ReadTimeout)
	assert.Equal(t, core.StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, blob.DriverMemory, cfg.Blob.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Execution.Delay)
	assert.InDelta(t, 0.5, cfg.Execution.SuccessRate, 1e-9)
	assert.False(t, cfg.Seed.Enabled)
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	path := writeFile(t, "bad.yaml", "storage:\n  engine: mysql\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyYAMLFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "copilot.yaml", "http:\n  addr: \":9090\"\n")
	t.Setenv("CICDCOPILOT_HTTP_ADDR", ":7070")
	t.Setenv("CICDCOPILOT_STORAGE_DRIVER", "POSTGRES")
	t.Setenv("CICDCOPILOT_POSTGRES_DSN", "postgres://ci@db/copilot")
	t.Setenv("CICDCOPILOT_EXECUTION_QUEUE_SIZE", "4")
	t.Setenv("CICDCOPILOT_SEED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, core.StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://ci@db/copilot", cfg.Storage.PostgresDSN)
	assert.Equal(t, 4, cfg.Execution.QueueSize)
	assert.False(t, cfg.Seed.Enabled)
}

func TestDotenvFilesFeedEnvironment(t *testing.T) {
	// godotenv never overrides variables that are already set, so the
	// variable is registered with t.Setenv first for cleanup and then unset.
	t.Setenv("CICDCOPILOT_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("CICDCOPILOT_LOG_LEVEL"))
	env := writeFile(t, ".env", "CICDCOPILOT_LOG_LEVEL=warn\n")

	cfg, err := Load("", env, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInvalidEnvironmentValues(t *testing.T) {
	t.Setenv("CICDCOPILOT_EXECUTION_DELAY", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "CICDCOPILOT_EXECUTION_DELAY")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Addr = ""
	cfg.Storage.Driver = "mysql"
	cfg.Blob.Driver = blob.DriverS3
	cfg.Log.Format = "xml"
	cfg.Execution.SuccessRate = 2

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"http.addr", "mysql", "bucket", "xml", "success rate"} {
		assert.ErrorContains(t, err, want)
	}
}
