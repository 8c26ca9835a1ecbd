// Package clocksync sets a device's clock to host time.
//
// Synchronize writes the host time through the property layer at the
// internal access level. Calls closer together than MinInterval are refused
// with ErrRateLimited. Transient write failures are retried with backoff;
// when retries run out a ClockSync event is emitted and the returned error
// matches fault.ErrSyncFailed. Streaming is never affected.
//
// Synchronize blocks on device I/O and must not be called from a frame
// delivery goroutine.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/depthkit/devcore/pkg/backoff"
	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/log"
	"github.com/depthkit/devcore/pkg/property"
)

// DefaultMinInterval is the shortest allowed spacing between syncs.
const DefaultMinInterval = time.Second

// Errors.
var (
	ErrRateLimited    = errors.New("clock sync rate limited")
	ErrAlreadyRunning = errors.New("periodic clock sync already running")
)

// TimeWriter sets the device clock.
type TimeWriter interface {
	SetDeviceTime(ctx context.Context, usec uint64) error
}

// PropertyTimeWriter writes DEVICE_TIME through a property server.
type PropertyTimeWriter struct {
	Server *property.Server
}

// SetDeviceTime writes the DEVICE_TIME structure at the internal level.
func (w PropertyTimeWriter) SetDeviceTime(ctx context.Context, usec uint64) error {
	return property.SetStructure(ctx, w.Server, property.DeviceTimeStruct,
		property.DeviceTime{TimeUsec: usec}, property.AccessInternal)
}

// Config configures a Synchronizer.
type Config struct {
	MinInterval time.Duration
	Retry       backoff.Config

	// Logger for operational messages. Nil disables logging.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MinInterval: DefaultMinInterval,
		Retry:       backoff.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinInterval < 0 {
		return errors.New("negative min interval")
	}
	return c.Retry.Validate()
}

// Synchronizer aligns one device's clock with host time.
type Synchronizer struct {
	config  Config
	writer  TimeWriter
	clock   clock.Clock
	emitter *log.Emitter

	// syncMu serializes Synchronize.
	syncMu      sync.Mutex
	lastAttempt time.Time
	lastSync    time.Time
	failures    int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Synchronizer.
func New(writer TimeWriter, clk clock.Clock, cfg Config, em *log.Emitter) (*Synchronizer, error) {
	if writer == nil {
		return nil, fault.Configf("clocksync.New", "", "nil time writer")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fault.New(fault.KindConfiguration, "clocksync.New", "", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Synchronizer{config: cfg, writer: writer, clock: clk, emitter: em}, nil
}

// Synchronize writes the current host time to the device.
func (s *Synchronizer) Synchronize(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	now := s.clock.Now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.config.MinInterval {
		return fmt.Errorf("%w: last attempt %v ago", ErrRateLimited, now.Sub(s.lastAttempt))
	}
	s.lastAttempt = now

	var host uint64
	attempts, err := backoff.Retry(ctx, s.clock, s.config.Retry, func(ctx context.Context) error {
		host = clock.NowUsec(s.clock)
		return s.writer.SetDeviceTime(ctx, host)
	}, nil)

	ev := &log.ClockSyncEvent{HostTimeUsec: host, Attempts: attempts, Success: err == nil}
	if err != nil {
		s.failures++
		ev.Error = err.Error()
		s.emit(ev)
		s.warnLog("device clock sync failed", "attempts", attempts, "error", err)
		return fault.New(fault.KindSyncFailed, "Synchronize", "", err)
	}

	s.failures = 0
	s.lastSync = s.clock.Now()
	s.emit(ev)
	s.debugLog("device clock synchronized", "host_us", host, "attempts", attempts)
	return nil
}

// LastSync returns the time of the last successful sync.
func (s *Synchronizer) LastSync() (time.Time, bool) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.lastSync, !s.lastSync.IsZero()
}

// ConsecutiveFailures returns the number of failed syncs since the last
// success.
func (s *Synchronizer) ConsecutiveFailures() int {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.failures
}

// StartPeriodic synchronizes every interval until ctx is done or Stop is
// called. Failures are logged and the loop continues.
func (s *Synchronizer) StartPeriodic(ctx context.Context, interval time.Duration) error {
	if interval < s.config.MinInterval || interval <= 0 {
		return fault.Configf("StartPeriodic", "", "interval %v below minimum %v", interval, s.config.MinInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(ctx, interval, s.stopCh, s.doneCh)
	return nil
}

func (s *Synchronizer) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C():
			if err := s.Synchronize(ctx); err != nil && !errors.Is(err, ErrRateLimited) && ctx.Err() == nil {
				s.debugLog("periodic clock sync failed", "error", err)
			}
		}
	}
}

// Stop halts the periodic loop and waits for it to exit.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the periodic loop is active.
func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Synchronizer) emit(ev *log.ClockSyncEvent) {
	s.emitter.Emit(log.Event{Layer: log.LayerTiming, Category: log.CategoryClockSync, ClockSync: ev})
}

func (s *Synchronizer) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func (s *Synchronizer) warnLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Warn(msg, args...)
	}
}
