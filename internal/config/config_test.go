package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Backoff)
	assert.Empty(t, cfg.NATSURL)
}

func TestParseOverlaysYAML(t *testing.T) {
	cfg := Default()
	err := Parse([]byte(`
grpc_addr: ":6000"
in_memory: true
cache_ttl: 30m
step:
  tick: 10ms
log:
  format: console
`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.GRPCAddr)
	assert.True(t, cfg.InMemory)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10*time.Millisecond, cfg.Step.Tick)
	assert.Equal(t, time.Second, cfg.Step.SimulatedTick, "untouched keys keep defaults")
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("grpc_port: 1\n"), &cfg)
	assert.ErrorIs(t, err, models.ErrArgument)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(nil, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AGING_NATS_URL":        "nats://localhost:4222",
		"AGING_RETRY_ATTEMPTS":  "7",
		"AGING_STEP_PAUSE_WAIT": "250ms",
		"AGING_IN_MEMORY":       "true",
	}
	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 7, cfg.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Step.PauseWait)
	assert.True(t, cfg.InMemory)
}

func TestApplyEnvBadValue(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, func(k string) (string, bool) {
		if k == "AGING_CACHE_TTL" {
			return "forever", true
		}
		return "", false
	})
	assert.ErrorIs(t, err, models.ErrArgument)
	assert.Contains(t, err.Error(), "AGING_CACHE_TTL")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Retry.Attempts = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	assert.ErrorIs(t, err, models.ErrArgument)
	assert.Contains(t, err.Error(), "retry.attempts")
	assert.Contains(t, err.Error(), "xml")
}

func TestLoadFileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agingd.yaml")
	require.NoError(t, os.WriteFile(file, []byte("http_addr: \":8181\"\n"), 0o600))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGING_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("AGING_LOG_LEVEL", "")
	os.Unsetenv("AGING_LOG_LEVEL")

	cfg, err := Load(file, envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8181", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Equal(t, cfg.Step.Tick, cfg.StepOptions().Tick)
	assert.Equal(t, cfg.Retry.Attempts, cfg.RetryPolicy().Attempts)
}
