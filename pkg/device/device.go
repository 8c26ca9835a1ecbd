package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/clocksync"
	"github.com/depthkit/devcore/pkg/component"
	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/log"
	"github.com/depthkit/devcore/pkg/persistence"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/syncconfig"
	"github.com/depthkit/devcore/pkg/timestamp"
)

// Component ids.
const (
	VendorAccessorID    component.ID = "vendor_accessor"
	PropertyServerID    component.ID = "property_server"
	SyncConfiguratorID  component.ID = "sync_configurator"
	ClockSynchronizerID component.ID = "clock_synchronizer"
	GlobalFitterID      component.ID = "global_timestamp_fitter"
)

// SensorID returns the component id of sensor t.
func SensorID(t frame.SensorType) component.ID {
	return component.ID("sensor/" + t.String())
}

// ErrAlreadyStarted is returned by Start on a running device.
var ErrAlreadyStarted = errors.New("device already started")

// Device assembles the components of one connected camera. Components are
// created on first use through the registry.
type Device struct {
	info     Info
	manifest *Manifest
	config   Config
	ports    PortProvider

	registry *component.Registry
	clock    clock.Clock
	logger   *slog.Logger
	emitter  *log.Emitter
	sdk      *property.MemoryAccessor
	store    *persistence.Store

	mu            sync.Mutex
	initErrors    map[frame.SensorType]error
	extensionInfo []byte
	started       bool
	cancel        context.CancelFunc
}

// New creates a device and registers its component slots. Nothing is
// constructed until Init or first use.
func New(info Info, ports PortProvider, cfg Config) (*Device, error) {
	if ports == nil {
		return nil, fault.Configf("device.New", info.Serial, "nil port provider")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fault.New(fault.KindConfiguration, "device.New", info.Serial, err)
	}

	var m *Manifest
	var err error
	if cfg.Model != "" {
		m, err = LoadModel(cfg.Model)
	} else {
		m, err = ModelByPID(info.PID)
	}
	if err != nil {
		return nil, fault.New(fault.KindConfiguration, "device.New", info.Serial, err)
	}
	if info.Name == "" {
		info.Name = m.Name
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	d := &Device{
		info:       info,
		manifest:   m,
		config:     cfg,
		ports:      ports,
		registry:   component.NewRegistry(),
		clock:      clk,
		logger:     cfg.Logger,
		emitter:    log.NewEmitter(cfg.EventLogger, info.Serial, clk),
		sdk:        property.NewMemoryAccessor(),
		initErrors: make(map[frame.SensorType]error),
	}
	if cfg.StatePath != "" {
		d.store = persistence.NewStore(cfg.StatePath)
	}
	d.registry.SetLogger(cfg.Logger)
	d.registry.SetEventEmitter(d.emitter)

	slots := []struct {
		id      component.ID
		factory component.Factory
	}{
		{VendorAccessorID, d.newVendorAccessor},
		{PropertyServerID, d.newPropertyServer},
		{SyncConfiguratorID, d.newSyncConfigurator},
		{ClockSynchronizerID, d.newClockSynchronizer},
		{GlobalFitterID, d.newGlobalFitter},
	}
	for _, s := range slots {
		if err := d.registry.Register(s.id, s.factory, false); err != nil {
			return nil, err
		}
	}
	for _, t := range m.SensorTypes() {
		if err := d.registry.Register(SensorID(t), d.sensorFactory(t), false); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Info returns the device identity.
func (d *Device) Info() Info { return d.info }

// Manifest returns the device model manifest.
func (d *Device) Manifest() *Manifest { return d.manifest }

// Registry returns the component registry.
func (d *Device) Registry() *component.Registry { return d.registry }

// SessionID returns the event log session id.
func (d *Device) SessionID() string { return d.emitter.SessionID() }

// Init constructs the device components. A core component failure is
// returned. A failing sensor is recorded in InitErrors and skipped.
func (d *Device) Init(ctx context.Context) error {
	for _, id := range []component.ID{PropertyServerID, SyncConfiguratorID, GlobalFitterID, ClockSynchronizerID} {
		if _, err := d.registry.Component(ctx, id, true); err != nil {
			return err
		}
	}

	for _, t := range d.manifest.SensorTypes() {
		if _, err := d.registry.Component(ctx, SensorID(t), true); err != nil {
			d.mu.Lock()
			d.initErrors[t] = err
			d.mu.Unlock()
			d.warnLog("sensor init failed", "sensor", t, "error", err)
			d.emitter.Error(log.LayerDevice, t.String(), fault.KindOf(err).String(), "sensor init", err)
		}
	}

	if err := d.refreshExtensionInfo(ctx); err != nil {
		d.warnLog("extension info read failed", "error", err)
	}

	sc, err := d.SyncConfigurator()
	if err != nil {
		return err
	}
	if d.config.SyncConfig != nil {
		if err := d.SetSyncConfig(ctx, *d.config.SyncConfig); err != nil {
			return err
		}
	} else if srv, err := d.PropertyServer(); err == nil &&
		srv.IsPropertySupported(property.MultiDeviceSyncConfigStruct, property.OpRead, property.AccessInternal) {
		if _, err := sc.Load(ctx); err != nil {
			d.warnLog("sync config load failed", "error", err)
		}
	}

	d.emitter.Emit(log.Event{
		Layer:    log.LayerDevice,
		Category: log.CategoryComponent,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			Name:     d.info.Serial,
			NewState: "INITIALIZED",
		},
	})
	return nil
}

// InitErrors returns the sensors that failed to initialize.
func (d *Device) InitErrors() map[frame.SensorType]error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[frame.SensorType]error, len(d.initErrors))
	for t, err := range d.initErrors {
		out[t] = err
	}
	return out
}

// PropertyServer returns the property server.
func (d *Device) PropertyServer() (*property.Server, error) {
	return component.Get[*property.Server](context.Background(), d.registry, PropertyServerID)
}

// SyncConfigurator returns the sync configurator.
func (d *Device) SyncConfigurator() (*syncconfig.Configurator, error) {
	return component.Get[*syncconfig.Configurator](context.Background(), d.registry, SyncConfiguratorID)
}

// ClockSynchronizer returns the clock synchronizer.
func (d *Device) ClockSynchronizer() (*clocksync.Synchronizer, error) {
	return component.Get[*clocksync.Synchronizer](context.Background(), d.registry, ClockSynchronizerID)
}

// GlobalFitter returns the global timestamp fitter.
func (d *Device) GlobalFitter() (*timestamp.GlobalFitter, error) {
	return component.Get[*timestamp.GlobalFitter](context.Background(), d.registry, GlobalFitterID)
}

// Sensor returns sensor t.
func (d *Device) Sensor(t frame.SensorType) (*Sensor, error) {
	if _, ok := d.manifest.Sensor(t); !ok {
		return nil, fault.New(fault.KindUnsupportedOperation, "Sensor", t.String(), nil)
	}
	return component.Get[*Sensor](context.Background(), d.registry, SensorID(t))
}

// Sensors returns the constructed sensors in manifest order.
func (d *Device) Sensors() []*Sensor {
	var out []*Sensor
	for _, t := range d.manifest.SensorTypes() {
		if !d.registry.IsConstructed(SensorID(t)) {
			continue
		}
		if s, err := component.Get[*Sensor](context.Background(), d.registry, SensorID(t)); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// streaming returns the first streaming sensor, or nil.
func (d *Device) streaming() *Sensor {
	for _, s := range d.Sensors() {
		if s.IsStreaming() {
			return s
		}
	}
	return nil
}

// SetSyncConfig applies a sync configuration. It is refused with a Busy
// error while any sensor streams.
func (d *Device) SetSyncConfig(ctx context.Context, cfg syncconfig.Config) error {
	if s := d.streaming(); s != nil {
		return fault.New(fault.KindBusy, "SetSyncConfig", cfg.Mode.String(),
			fmt.Errorf("sensor %s is streaming", s.Type()))
	}
	sc, err := d.SyncConfigurator()
	if err != nil {
		return err
	}
	return sc.SetSyncConfig(ctx, cfg)
}

// TriggerCapture fires one software trigger.
func (d *Device) TriggerCapture(ctx context.Context) error {
	sc, err := d.SyncConfigurator()
	if err != nil {
		return err
	}
	return sc.TriggerCapture(ctx)
}

// SyncClock sets the device clock to host time once.
func (d *Device) SyncClock(ctx context.Context) error {
	cs, err := d.ClockSynchronizer()
	if err != nil {
		return err
	}
	return cs.Synchronize(ctx)
}

// Start runs the background timing work: an optional initial clock sync,
// the fitter loop and optional periodic clock sync.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}

	fitter, err := d.GlobalFitter()
	if err != nil {
		return err
	}
	cs, err := d.ClockSynchronizer()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.config.SyncClockOnStart {
		if err := cs.Synchronize(runCtx); err != nil {
			d.warnLog("initial clock sync failed", "error", err)
		}
	}
	if err := fitter.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if d.config.ClockSyncInterval > 0 {
		if err := cs.StartPeriodic(runCtx, d.config.ClockSyncInterval); err != nil {
			fitter.Stop()
			cancel()
			return err
		}
	}

	d.started = true
	d.cancel = cancel
	d.debugLog("device started", "serial", d.info.Serial)
	return nil
}

// Close stops all sensors and background work. Components that were never
// constructed are left alone.
func (d *Device) Close() error {
	var errs []error
	for _, s := range d.Sensors() {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.Type(), err))
		}
	}

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.started = false
	d.mu.Unlock()

	if d.registry.IsConstructed(GlobalFitterID) {
		if f, err := d.GlobalFitter(); err == nil {
			f.Stop()
		}
	}
	if d.registry.IsConstructed(ClockSynchronizerID) {
		if cs, err := d.ClockSynchronizer(); err == nil {
			cs.Stop()
		}
	}
	if cancel != nil {
		cancel()
	}

	d.emitter.Emit(log.Event{
		Layer:    log.LayerDevice,
		Category: log.CategoryComponent,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			Name:     d.info.Serial,
			NewState: "CLOSED",
		},
	})
	return errors.Join(errs...)
}

// ExtensionInfo returns the last DEVICE_EXTENSION_INFORMATION read.
func (d *Device) ExtensionInfo() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.extensionInfo...)
}

func (d *Device) refreshExtensionInfo(ctx context.Context) error {
	srv, err := d.PropertyServer()
	if err != nil {
		return err
	}
	if !srv.IsPropertySupported(property.DeviceExtensionInformationRaw, property.OpRead, property.AccessInternal) {
		return nil
	}
	data, err := srv.ReadRawData(ctx, property.DeviceExtensionInformationRaw, property.AccessInternal)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.extensionInfo = data
	d.mu.Unlock()
	d.debugLog("extension info refreshed", "bytes", len(data))
	return nil
}

// Component factories.

func (d *Device) newVendorAccessor(context.Context, component.Resolver) (any, error) {
	port, err := d.ports.VendorPort()
	if err != nil {
		return nil, fault.New(fault.KindFatalInit, "VendorPort", d.info.Serial, err)
	}
	if port == nil {
		return nil, fault.New(fault.KindFatalInit, "VendorPort", d.info.Serial, errors.New("no vendor port"))
	}
	return property.NewVendorAccessor(port, d.info.MaxChunkSize()), nil
}

func (d *Device) newPropertyServer(_ context.Context, r component.Resolver) (any, error) {
	srv := property.NewServer()
	srv.SetLogger(d.logger)
	srv.SetEventEmitter(d.emitter)
	if err := d.registerProperties(srv, r); err != nil {
		return nil, err
	}
	return srv, nil
}

func (d *Device) newSyncConfigurator(ctx context.Context, r component.Resolver) (any, error) {
	srv, err := component.Get[*property.Server](ctx, r, PropertyServerID)
	if err != nil {
		return nil, err
	}
	modes, err := d.manifest.SupportedModes()
	if err != nil {
		return nil, fault.New(fault.KindConfiguration, "SyncConfigurator", d.manifest.Name, err)
	}
	sc := syncconfig.New(syncBackend{server: srv}, modes)
	sc.SetLogger(d.logger)
	sc.SetEventEmitter(d.emitter)
	return sc, nil
}

func (d *Device) newClockSynchronizer(ctx context.Context, r component.Resolver) (any, error) {
	srv, err := component.Get[*property.Server](ctx, r, PropertyServerID)
	if err != nil {
		return nil, err
	}
	cfg := d.config.ClockSync
	cfg.Logger = d.logger
	return clocksync.New(clocksync.PropertyTimeWriter{Server: srv}, d.clock, cfg, d.emitter)
}

func (d *Device) newGlobalFitter(ctx context.Context, r component.Resolver) (any, error) {
	srv, err := component.Get[*property.Server](ctx, r, PropertyServerID)
	if err != nil {
		return nil, err
	}
	cfg := d.config.Fitter
	cfg.Logger = d.logger
	f, err := timestamp.NewGlobalFitter(timestamp.PropertyDeviceClock{Server: srv}, d.clock, cfg, d.emitter)
	if err != nil {
		return nil, err
	}
	if !d.config.GlobalTimestamp {
		f.Pause()
	}
	return f, nil
}

func (d *Device) sensorFactory(t frame.SensorType) component.Factory {
	return func(ctx context.Context, r component.Resolver) (any, error) {
		spec, _ := d.manifest.Sensor(t)
		port, err := d.ports.StreamPort(t)
		if err != nil {
			return nil, fault.New(fault.KindFatalInit, "StreamPort", t.String(), err)
		}
		if port == nil {
			return nil, fault.New(fault.KindFatalInit, "StreamPort", t.String(), errors.New("no stream port"))
		}
		sc, err := component.Get[*syncconfig.Configurator](ctx, r, SyncConfiguratorID)
		if err != nil {
			return nil, err
		}
		fitter, err := component.Get[*timestamp.GlobalFitter](ctx, r, GlobalFitterID)
		if err != nil {
			return nil, err
		}

		s := &Sensor{
			typ:           t,
			spec:          spec,
			port:          port,
			clockHz:       d.manifest.FrameClockHz,
			calc:          timestamp.NewMetadataCalculator(d.manifest.TimestampFieldFor(d.info.PID), d.manifest.CounterBits),
			global:        timestamp.NewGlobalCalculator(fitter),
			fitter:        fitter,
			dropAnomalous: d.config.DropAnomalousFrames,
			logger:        d.logger,
			emitter:       d.emitter,
		}
		if spec.DetectsAnomalies() {
			s.detector = timestamp.NewAnomalyDetector(sc)
			s.detector.SetCurrentFps(spec.DefaultFps)
		}
		return s, nil
	}
}

func (d *Device) debugLog(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Device) warnLog(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}
