package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "ANTHROPIC_MODEL",
		"HOST", "PORT", "LOG_LEVEL", "LOG_FORMAT", "AUDIT_LOG_PATH", "APP_ENV",
		"ALERT_WEBHOOK_URL", "ALERT_THRESHOLD",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := load("", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, ":5000", cfg.Server.Address())
	assert.Equal(t, DefaultBaseURL, cfg.Anthropic.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Anthropic.Model)
	assert.Equal(t, DefaultMaxTokens, cfg.Anthropic.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Anthropic.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Anthropic.HealthTimeout())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidateRequiresAPIKey(t *testing.T) {
	clearEnv(t)

	cfg, err := load("", t.TempDir())
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 7000
anthropic:
  api_key: from-file
  base_url: http://upstream.local/v1/
  timeout_seconds: 5
log:
  level: debug
  outputs: [stdout]
`), 0o644))
	t.Setenv("PORT", "8081")

	cfg, err := load(path, dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8081", cfg.Server.Address())
	assert.Equal(t, "from-file", cfg.Anthropic.APIKey)
	assert.Equal(t, "http://upstream.local/v1", cfg.Anthropic.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Anthropic.Timeout())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
}

func TestLoadDotEnvFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ANTHROPIC_API_KEY=from-dotenv\nPORT=6000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.staging"), []byte("PORT=6100\n"), 0o644))
	t.Setenv("APP_ENV", "staging")

	cfg, err := load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Anthropic.APIKey)
	assert.Equal(t, 6100, cfg.Server.Port)
}

func TestLoadRejectsBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := load("", t.TempDir())
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir())
	require.Error(t, err)
}

func TestAlertingConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "critical", cfg.Alerting.Threshold)
	assert.Empty(t, cfg.Alerting.WebhookURL)

	t.Setenv("ALERT_WEBHOOK_URL", "https://hooks.example.com/T000")
	t.Setenv("ALERT_THRESHOLD", "Warning")
	cfg, err = load("", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "warning", cfg.Alerting.Threshold)
	assert.Equal(t, "https://hooks.example.com/T000", cfg.Alerting.WebhookURL)

	t.Setenv("ALERT_THRESHOLD", "loud")
	cfg, err = load("", t.TempDir())
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}
