package syncconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/log"
)

// ErrNotTriggering is returned by TriggerCapture outside software triggering.
var ErrNotTriggering = fmt.Errorf("%w: capture trigger requires SOFTWARE_TRIGGERING", fault.ErrConfiguration)

// Backend reads and writes the configuration on the device.
type Backend interface {
	ReadSyncConfig(ctx context.Context) (Config, error)
	WriteSyncConfig(ctx context.Context, cfg Config) error

	// TriggerCapture fires one software trigger.
	TriggerCapture(ctx context.Context) error
}

// Configurator holds the active sync configuration of one device.
type Configurator struct {
	backend   Backend
	supported ModeSet

	// mu serializes writes. Readers use current.
	mu      sync.Mutex
	current atomic.Pointer[Config]
	loaded  bool

	logger  *slog.Logger
	emitter *log.Emitter
}

// New creates a Configurator with the given whitelist. The active config
// starts as DefaultConfig until Load or SetSyncConfig runs.
func New(backend Backend, supported ModeSet) *Configurator {
	c := &Configurator{backend: backend, supported: supported}
	def := DefaultConfig()
	c.current.Store(&def)
	return c
}

// SetLogger sets the operational logger.
func (c *Configurator) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// SetEventEmitter sets the device event emitter.
func (c *Configurator) SetEventEmitter(em *log.Emitter) {
	c.emitter = em
}

// SyncConfig returns the active configuration.
func (c *Configurator) SyncConfig() Config {
	return *c.current.Load()
}

// Mode returns the active mode.
func (c *Configurator) Mode() Mode {
	return c.current.Load().Mode
}

// SupportedModes returns the device model's whitelist.
func (c *Configurator) SupportedModes() ModeSet {
	return c.supported
}

// Load reads the configuration from the device. A device reporting a mode
// outside the whitelist is an error and leaves the cached config unchanged.
func (c *Configurator) Load(ctx context.Context) (Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.backend.ReadSyncConfig(ctx)
	if err != nil {
		return Config{}, err
	}
	if !c.supported.Contains(cfg.Mode) {
		return Config{}, fault.New(fault.KindUnsupportedMode, "Load", cfg.Mode.String(), nil)
	}
	c.publish(cfg, "load")
	c.loaded = true
	return cfg, nil
}

// Loaded reports whether the configuration has been read from or written
// to the device.
func (c *Configurator) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// SetSyncConfig validates cfg, writes it to the device and publishes it.
func (c *Configurator) SetSyncConfig(ctx context.Context, cfg Config) error {
	if !c.supported.Contains(cfg.Mode) {
		return fault.New(fault.KindUnsupportedMode, "SetSyncConfig", cfg.Mode.String(), nil)
	}
	if err := cfg.Validate(); err != nil {
		return fault.New(fault.KindConfiguration, "SetSyncConfig", cfg.Mode.String(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backend.WriteSyncConfig(ctx, cfg); err != nil {
		c.warnLog("sync config write failed", "mode", cfg.Mode.String(), "error", err)
		return err
	}
	c.publish(cfg, "set")
	c.loaded = true
	return nil
}

// TriggerCapture fires a software trigger. Only valid in
// ModeSoftwareTriggering.
func (c *Configurator) TriggerCapture(ctx context.Context) error {
	if c.Mode() != ModeSoftwareTriggering {
		return ErrNotTriggering
	}
	return c.backend.TriggerCapture(ctx)
}

func (c *Configurator) publish(cfg Config, reason string) {
	old := c.current.Swap(&cfg)
	if old.Mode != cfg.Mode {
		c.emitter.Emit(log.Event{
			Layer:    log.LayerDevice,
			Category: log.CategoryComponent,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntitySync,
				Name:     "sync_mode",
				OldState: old.Mode.String(),
				NewState: cfg.Mode.String(),
				Reason:   reason,
			},
		})
	}
	if c.logger != nil {
		c.logger.Debug("sync config published", "mode", cfg.Mode.String(), "reason", reason)
	}
}

func (c *Configurator) warnLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

// IsUnsupportedMode reports whether err rejects a mode.
func IsUnsupportedMode(err error) bool {
	return errors.Is(err, fault.ErrUnsupportedMode)
}
