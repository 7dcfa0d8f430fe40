package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://api.x.ai/v1", cfg.BaseURL)
	assert.Equal(t, "grok-4-fast-reasoning", cfg.Model)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 100, cfg.MaxResidentSessions)
	assert.Equal(t, 60*time.Second, cfg.CheckpointInterval)
	assert.Equal(t, 2*time.Hour, cfg.InactivityTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionMaxAge)
	assert.Equal(t, "@hourly", cfg.CleanupSchedule)
	assert.Equal(t, "grok-code-fast", cfg.Repair.DefaultModel)
	assert.Equal(t, []string{"VSO"}, cfg.Repair.LargeContextMarkers)
}

func TestJSONCFile(t *testing.T) {
	dir := t.TempDir()
	content := `{
  // sampling
  "model": "grok-beta",
  "temperature": 0.2,
  "checkpointIntervalSeconds": 15,
  "retentionDays": 7,
  "repair": {
    "largeContextMarkers": ["VSO", "MEGA"],
  },
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "grok-mcp.jsonc"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "grok-beta", cfg.Model)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, 15*time.Second, cfg.CheckpointInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.RetentionMaxAge)
	assert.Equal(t, []string{"VSO", "MEGA"}, cfg.Repair.LargeContextMarkers)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "grok-mcp.json"),
		[]byte(`{"model": "grok-beta", "maxResidentSessions": 5}`), 0644))

	t.Setenv("GROK_MODEL", "grok-4-0709")
	t.Setenv("MAX_ACTIVE_SESSIONS", "42")
	t.Setenv("XAI_API_KEY", "xai-test")
	t.Setenv("SESSION_INACTIVITY_TIMEOUT_HOURS", "0.5")
	t.Setenv("GROK_LARGE_CONTEXT_MARKERS", "VSO, HUGE")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "grok-4-0709", cfg.Model)
	assert.Equal(t, 42, cfg.MaxResidentSessions)
	assert.Equal(t, "xai-test", cfg.APIKey)
	assert.Equal(t, 30*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, []string{"VSO", "HUGE"}, cfg.Repair.LargeContextMarkers)
}

func TestDotEnv(t *testing.T) {
	// godotenv never overrides variables already present in the process
	// environment, so clear them for a deterministic read.
	for _, key := range []string{"XAI_API_KEY", "GROK_STORAGE_PATH"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("XAI_API_KEY=xai-from-dotenv\nGROK_STORAGE_PATH=/tmp/sessions\n"), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "xai-from-dotenv", cfg.APIKey)
	assert.Equal(t, "/tmp/sessions", cfg.StoragePath)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XAI_API_KEY")

	cfg.APIKey = "xai-key"
	assert.NoError(t, cfg.Validate())

	cfg.MaxResidentSessions = 0
	assert.Error(t, cfg.Validate())
}

func TestMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "grok-mcp.jsonc"), []byte("{not json"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}
