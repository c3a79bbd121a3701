package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "turnstile:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, 30, cfg.Session.LockTTLSeconds)
	assert.Equal(t, 10, cfg.Compressor.MaxHistory)
	assert.Equal(t, 20, cfg.Compressor.SummaryThreshold)
	assert.Equal(t, 5, cfg.Compressor.TailSize)
	assert.Equal(t, 3, cfg.Summarizer.MaxAttempts)
	assert.Equal(t, 20, cfg.Summarizer.MaxEntries)
	assert.Equal(t, int64(100000), cfg.Ledger.DailyTokenLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Summarizer.IsEnabled())
	assert.True(t, cfg.Billing.IsEnabled())
	assert.Empty(t, Validate(&cfg))
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
store: memory
gateway:
  port: 9999
  bind: lan
models:
  primary: claude
  fallbacks: [gpt]
  providers:
    claude:
      api: anthropic
      model: claude-sonnet-4-20250514
      apiKey: ${TEST_TURNSTILE_KEY}
    gpt:
      api: openai
      model: gpt-4o-mini
session:
  lockTTLSeconds: 10
  temperature: 0.3
compressor:
  maxHistory: 12
summarizer:
  enabled: false
ledger:
  dailyTokenLimit: 5000
  pricing:
    claude-sonnet-4-20250514:
      inputPerMillion: 3
      outputPerMillion: 15
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("TEST_TURNSTILE_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "sk-test", cfg.Models.Providers["claude"].APIKey)
	assert.Equal(t, []string{"gpt"}, cfg.Models.Fallbacks)
	assert.Equal(t, "claude", cfg.Session.Model, "session model defaults to the primary provider")
	assert.Equal(t, 10, cfg.Session.LockTTLSeconds)
	require.NotNil(t, cfg.Session.Temperature)
	assert.InDelta(t, 0.3, *cfg.Session.Temperature, 1e-9)
	assert.Equal(t, 12, cfg.Compressor.MaxHistory)
	assert.Equal(t, 20, cfg.Compressor.SummaryThreshold, "unset fields keep defaults")
	assert.False(t, cfg.Summarizer.IsEnabled())
	assert.Equal(t, int64(5000), cfg.Ledger.DailyTokenLimit)
	assert.InDelta(t, 15.0, cfg.Ledger.Pricing["claude-sonnet-4-20250514"].OutputPerMillion, 1e-9)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Empty(t, Validate(&cfg))
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
models:
  providers:
    claude:
      api: anthropic
      model: claude-sonnet-4-20250514
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("TURNSTILE_STORE", "MEMORY")
	t.Setenv("TURNSTILE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TURNSTILE_GATEWAY_PORT", "7777")
	t.Setenv("TURNSTILE_LOG_LEVEL", "WARN")
	t.Setenv("TURNSTILE_MODEL_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "sk-env", cfg.Models.Providers["claude"].APIKey)
}

func TestEnvOverrideInvalidPort(t *testing.T) {
	t.Setenv("TURNSTILE_GATEWAY_PORT", "not-a-number")
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18790, cfg.Gateway.Port)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "30s", cfg.Session.LockTTL().String())
	assert.Equal(t, "1h0m0s", cfg.Session.TTL().String())
	assert.Equal(t, "10m0s", cfg.Session.IdempotencyTTL().String())
	assert.Equal(t, "1s", cfg.Summarizer.Backoff().String())
	assert.Equal(t, "48h0m0s", cfg.Ledger.Retention().String())
	assert.Equal(t, "5m0s", cfg.Compressor.PendingTTL().String())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND", "value")
	assert.Equal(t, "value", expandEnvVars("${TEST_EXPAND}"))
	assert.Equal(t, "pre-value-post", expandEnvVars("pre-${TEST_EXPAND}-post"))
	assert.Equal(t, "${TEST_UNSET_VAR_XYZ}", expandEnvVars("${TEST_UNSET_VAR_XYZ}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	require.NoError(t, SetValueAtPath(raw, []string{"gateway", "port"}, 8080))
	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)
	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 8080, val)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Gateway.Port)
}
