package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:3000", cfg.Target.URL)
	assert.Equal(t, 100000, cfg.Run.Requests)
	assert.Equal(t, 5000, cfg.Run.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Run.Cooldown)
	assert.Equal(t, []int{64, 128, 256}, cfg.Run.SweepLevels)
}

func TestValidateRejections(t *testing.T) {
	t.Run("relative url", func(t *testing.T) {
		cfg := Default()
		cfg.Target.URL = "localhost:3000/path"
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "url")
	})

	t.Run("unknown auth mode", func(t *testing.T) {
		cfg := Default()
		cfg.Target.Auth.Mode = "basic"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bearer without token", func(t *testing.T) {
		cfg := Default()
		cfg.Target.Auth.Mode = "bearer"
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "token")
	})

	t.Run("jwt without secret", func(t *testing.T) {
		cfg := Default()
		cfg.Target.Auth.Mode = "jwt"
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero requests", func(t *testing.T) {
		cfg := Default()
		cfg.Run.Requests = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative cooldown", func(t *testing.T) {
		cfg := Default()
		cfg.Run.Cooldown = -time.Second
		assert.Error(t, cfg.Validate())
	})

	t.Run("monitor interval out of bounds", func(t *testing.T) {
		cfg := Default()
		cfg.Monitor.Interval = 100 * time.Millisecond
		assert.Error(t, cfg.Validate())

		cfg.Monitor.Interval = time.Minute
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad sweep level", func(t *testing.T) {
		cfg := Default()
		cfg.Run.SweepLevels = []int{64, 0}
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log encoding", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Encoding = "logfmt"
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadFromFilePartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	content := `
target:
  url: http://bench-target:8080
run:
  requests: 500
  concurrency: 16
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://bench-target:8080", cfg.Target.URL)
	assert.Equal(t, 500, cfg.Run.Requests)
	assert.Equal(t, 16, cfg.Run.Concurrency)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5000, cfg.Run.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Monitor.Interval)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run: [not a map"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CRUCIBLE_TARGET_URL", "http://10.0.0.5:3000")
	t.Setenv("CRUCIBLE_REQUESTS", "2500")
	t.Setenv("CRUCIBLE_CONCURRENCY_LEVELS", "8,32,128")
	t.Setenv("CRUCIBLE_COOLDOWN", "5s")
	t.Setenv("CRUCIBLE_WARMUP", "false")
	t.Setenv("CRUCIBLE_METRICS_ADDR", ":9191")
	t.Setenv("CRUCIBLE_REQUESTS_BOGUS", "ignored")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, "http://10.0.0.5:3000", cfg.Target.URL)
	assert.Equal(t, 2500, cfg.Run.Requests)
	assert.Equal(t, []int{8, 32, 128}, cfg.Run.SweepLevels)
	assert.Equal(t, 5*time.Second, cfg.Run.Cooldown)
	assert.False(t, cfg.Run.Warmup)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9191", cfg.Metrics.Addr)
}

func TestLoadFromEnvIgnoresMalformed(t *testing.T) {
	t.Setenv("CRUCIBLE_REQUESTS", "a-lot")
	t.Setenv("CRUCIBLE_COOLDOWN", "soon")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, 100000, cfg.Run.Requests)
	assert.Equal(t, 3*time.Second, cfg.Run.Cooldown)
}

func TestParseIntList(t *testing.T) {
	levels, err := ParseIntList("8, 32,128")
	require.NoError(t, err)
	assert.Equal(t, []int{8, 32, 128}, levels)

	_, err = ParseIntList("8,x")
	assert.Error(t, err)

	_, err = ParseIntList(", ,")
	assert.Error(t, err)
}
