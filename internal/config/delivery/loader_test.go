package delivery_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "delivery-worker", cfg.App.Name)
	assert.Equal(t, 100, cfg.Engine.RateLimitPerMinute)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Engine.BackoffCap)
	assert.Equal(t, 2*time.Minute, cfg.Engine.Lease)
	assert.Equal(t, 10*time.Second, cfg.Engine.SendTimeout)
	assert.Equal(t, time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, "herald.live", cfg.Live.Topic)
	assert.Empty(t, cfg.SMTP.Addr)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  workers: 8
  tick: 250ms
smtp:
  addr: smtp.example.com:587
engine:
  max_attempts: 3
`), 0o600))
	t.Setenv("ENGINE_SEND_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.Tick)
	assert.Equal(t, "smtp.example.com:587", cfg.SMTP.Addr)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Engine.SendTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
