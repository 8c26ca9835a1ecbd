package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/clocksync"
	"github.com/depthkit/devcore/pkg/log"
	"github.com/depthkit/devcore/pkg/syncconfig"
	"github.com/depthkit/devcore/pkg/timestamp"
)

// Config configures a Device.
type Config struct {
	// Model names the manifest to use. Empty selects it by PID.
	Model string

	Fitter    timestamp.FitterConfig
	ClockSync clocksync.Config

	// ClockSyncInterval enables periodic clock sync when positive.
	ClockSyncInterval time.Duration

	// SyncClockOnStart runs one clock sync in Start.
	SyncClockOnStart bool

	// GlobalTimestamp enables the global timestamp fitter at start.
	GlobalTimestamp bool

	// DropAnomalousFrames discards frames failing the anomaly check
	// instead of delivering them.
	DropAnomalousFrames bool

	// SyncConfig, if set, is applied during Init.
	SyncConfig *syncconfig.Config

	// StatePath is the device state file. Empty disables SaveState and
	// RestoreState.
	StatePath string

	// Logger for operational messages. Nil disables logging.
	Logger *slog.Logger

	// EventLogger receives device events. Nil discards them.
	EventLogger log.Logger

	// Clock is the host clock. Nil uses the real clock.
	Clock clock.Clock
}

// DefaultConfig returns the default device configuration.
func DefaultConfig() Config {
	return Config{
		Fitter:          timestamp.DefaultFitterConfig(),
		ClockSync:       clocksync.DefaultConfig(),
		GlobalTimestamp: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Fitter.Validate(); err != nil {
		return fmt.Errorf("fitter: %w", err)
	}
	if err := c.ClockSync.Validate(); err != nil {
		return fmt.Errorf("clock sync: %w", err)
	}
	if c.ClockSyncInterval < 0 {
		return errors.New("negative clock sync interval")
	}
	if c.ClockSyncInterval > 0 && c.ClockSyncInterval < c.ClockSync.MinInterval {
		return fmt.Errorf("clock sync interval %v below min interval %v", c.ClockSyncInterval, c.ClockSync.MinInterval)
	}
	if c.SyncConfig != nil {
		if err := c.SyncConfig.Validate(); err != nil {
			return fmt.Errorf("sync config: %w", err)
		}
	}
	return nil
}

// fileConfig is the YAML layout of a device config file. Durations are
// strings such as "500ms".
type fileConfig struct {
	Model               string `yaml:"model"`
	GlobalTimestamp     *bool  `yaml:"global_timestamp"`
	DropAnomalousFrames bool   `yaml:"drop_anomalous_frames"`
	StatePath           string `yaml:"state_path"`

	Fitter struct {
		Interval        string  `yaml:"interval"`
		WindowSize      int     `yaml:"window_size"`
		MinSamples      int     `yaml:"min_samples"`
		OutlierK        float64 `yaml:"outlier_k"`
		ValidityHorizon string  `yaml:"validity_horizon"`
		MaxRetries      *int    `yaml:"max_retries"`
	} `yaml:"fitter"`

	ClockSync struct {
		MinInterval string `yaml:"min_interval"`
		Interval    string `yaml:"interval"`
		OnStart     bool   `yaml:"on_start"`
		MaxRetries  *int   `yaml:"max_retries"`
	} `yaml:"clock_sync"`

	Sync *syncconfig.Config `yaml:"sync"`
}

// LoadConfigFile reads a YAML device config. Unset fields keep their
// DefaultConfig values.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML device config.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Model = fc.Model
	cfg.DropAnomalousFrames = fc.DropAnomalousFrames
	cfg.StatePath = fc.StatePath
	if fc.GlobalTimestamp != nil {
		cfg.GlobalTimestamp = *fc.GlobalTimestamp
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"fitter.interval", fc.Fitter.Interval, &cfg.Fitter.Interval},
		{"fitter.validity_horizon", fc.Fitter.ValidityHorizon, &cfg.Fitter.ValidityHorizon},
		{"clock_sync.min_interval", fc.ClockSync.MinInterval, &cfg.ClockSync.MinInterval},
		{"clock_sync.interval", fc.ClockSync.Interval, &cfg.ClockSyncInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse config: %s: %w", d.field, err)
		}
		*d.dst = v
	}

	if fc.Fitter.WindowSize > 0 {
		cfg.Fitter.WindowSize = fc.Fitter.WindowSize
	}
	if fc.Fitter.MinSamples > 0 {
		cfg.Fitter.MinSamples = fc.Fitter.MinSamples
	}
	if fc.Fitter.OutlierK > 0 {
		cfg.Fitter.OutlierK = fc.Fitter.OutlierK
	}
	if fc.Fitter.MaxRetries != nil {
		cfg.Fitter.Retry.MaxRetries = *fc.Fitter.MaxRetries
	}
	if fc.ClockSync.MaxRetries != nil {
		cfg.ClockSync.Retry.MaxRetries = *fc.ClockSync.MaxRetries
	}
	cfg.SyncClockOnStart = fc.ClockSync.OnStart

	if fc.Sync != nil {
		sc := *fc.Sync
		if sc.FramesPerTrigger == 0 {
			sc.FramesPerTrigger = 1
		}
		cfg.SyncConfig = &sc
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
