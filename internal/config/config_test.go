package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 4, cfg.SourceWorkers)
	assert.Equal(t, 6, cfg.ItemWorkers)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.55, cfg.ShortConfidenceThreshold)
	assert.Equal(t, int64(10_000_000), cfg.NotifyMinUSD)
	assert.Equal(t, 45, cfg.FingerprintTTLDays)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOURCE_WORKERS", "2")
	t.Setenv("STALE_AFTER_MINUTES", "20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.SourceWorkers)
	assert.Equal(t, 20*time.Minute, cfg.StaleAfter())
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		SourceTimeoutMinutes:  5,
		ItemTimeoutSeconds:    45,
		ItemDelayMillis:       250,
		HeartbeatSeconds:      30,
		ReaperIntervalSeconds: 90,
		StaleAfterMinutes:     10,
	}

	assert.Equal(t, 5*time.Minute, cfg.SourceTimeout())
	assert.Equal(t, 45*time.Second, cfg.ItemTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.ItemDelay())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 90*time.Second, cfg.ReaperInterval())
	assert.Equal(t, 10*time.Minute, cfg.StaleAfter())
}
