package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/engageai/engage-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 4, cfg.Task.WorkerCount)
	assert.Equal(t, 3, cfg.Task.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Task.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Task.BackoffCap)
	assert.Equal(t, 240*time.Second, cfg.Task.SoftTimeout)
	assert.Equal(t, 300*time.Second, cfg.Task.HardTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Task.Retention)
	assert.Equal(t, 3, cfg.Conversation.DisengagedThreshold)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.ModelName)

	require.NoError(t, config.Validate(cfg))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.Default().Task, cfg.Task)
	assert.Equal(t, config.Default().Server, cfg.Server)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENGAGE_SERVER_PORT", "9999")
	t.Setenv("ENGAGE_SERVER_LOG_LEVEL", "debug")
	t.Setenv("ENGAGE_TASK_WORKER_COUNT", "8")
	t.Setenv("ENGAGE_TASK_MAX_ATTEMPTS", "5")
	t.Setenv("ENGAGE_LLM_MODEL_NAME", "gemini-2.5-pro")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 8, cfg.Task.WorkerCount)
	assert.Equal(t, 5, cfg.Task.MaxAttempts)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.ModelName)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9090\n  log_level: warn\ntask:\n  worker_count: 2\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := config.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, 2, cfg.Task.WorkerCount)
	// Unspecified keys keep their defaults.
	assert.Equal(t, 3, cfg.Task.MaxAttempts)
}

func TestLoadConfigFileEnvWins(t *testing.T) {
	t.Setenv("ENGAGE_SERVER_PORT", "7070")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	cfg, err := config.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	t.Run("invalid log level", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Server.LogLevel = "verbose"
		assert.Error(t, config.Validate(cfg))
	})

	t.Run("zero workers", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Task.WorkerCount = 0
		assert.Error(t, config.Validate(cfg))
	})

	t.Run("hard timeout below soft timeout", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Task.HardTimeout = cfg.Task.SoftTimeout / 2
		assert.Error(t, config.Validate(cfg))
	})

	t.Run("malformed database url", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Database.URL = "not a url"
		assert.Error(t, config.Validate(cfg))
	})
}
