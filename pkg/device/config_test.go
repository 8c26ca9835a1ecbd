package device

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/syncconfig"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.GlobalTimestamp)
	assert.Zero(t, cfg.ClockSyncInterval)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative interval", func(c *Config) { c.ClockSyncInterval = -time.Second }},
		{"interval below min", func(c *Config) { c.ClockSyncInterval = 100 * time.Millisecond }},
		{"bad fitter", func(c *Config) { c.Fitter.MinSamples = 1 }},
		{"bad sync config", func(c *Config) {
			c.SyncConfig = &syncconfig.Config{Mode: syncconfig.ModeSoftwareTriggering, FramesPerTrigger: 0}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
model: g330
global_timestamp: false
drop_anomalous_frames: true
state_path: /var/lib/devcore/state.json
fitter:
  interval: 500ms
  window_size: 32
  min_samples: 6
  validity_horizon: 30s
  max_retries: 5
clock_sync:
  min_interval: 2s
  interval: 10m
  on_start: true
sync:
  mode: SOFTWARE_TRIGGERING
  color_delay_us: 150
`))
	require.NoError(t, err)

	assert.Equal(t, "g330", cfg.Model)
	assert.False(t, cfg.GlobalTimestamp)
	assert.True(t, cfg.DropAnomalousFrames)
	assert.Equal(t, "/var/lib/devcore/state.json", cfg.StatePath)

	assert.Equal(t, 500*time.Millisecond, cfg.Fitter.Interval)
	assert.Equal(t, 32, cfg.Fitter.WindowSize)
	assert.Equal(t, 6, cfg.Fitter.MinSamples)
	assert.Equal(t, 30*time.Second, cfg.Fitter.ValidityHorizon)
	assert.Equal(t, 5, cfg.Fitter.Retry.MaxRetries)

	assert.Equal(t, 2*time.Second, cfg.ClockSync.MinInterval)
	assert.Equal(t, 10*time.Minute, cfg.ClockSyncInterval)
	assert.True(t, cfg.SyncClockOnStart)

	require.NotNil(t, cfg.SyncConfig)
	assert.Equal(t, syncconfig.ModeSoftwareTriggering, cfg.SyncConfig.Mode)
	assert.Equal(t, int32(150), cfg.SyncConfig.ColorDelayUsec)
	assert.Equal(t, int32(1), cfg.SyncConfig.FramesPerTrigger)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`model: gemini2`))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Fitter.Interval, cfg.Fitter.Interval)
	assert.Equal(t, def.Fitter.WindowSize, cfg.Fitter.WindowSize)
	assert.True(t, cfg.GlobalTimestamp)
	assert.Nil(t, cfg.SyncConfig)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad duration", "fitter:\n  interval: soon\n"},
		{"bad mode", "sync:\n  mode: WARP\n"},
		{"interval below min", "clock_sync:\n  interval: 10ms\n"},
		{"not yaml", "fitter: [1, 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: g330\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "g330", cfg.Model)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
