package timestamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/depthkit/devcore/pkg/backoff"
	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/log"
	"github.com/depthkit/devcore/pkg/property"
)

// madScale converts a median absolute deviation to a normal-consistent
// standard deviation estimate.
const madScale = 1.4826

// Fitter defaults.
const (
	DefaultFitInterval       = time.Second
	DefaultWindowSize        = 16
	DefaultMinSamples        = 4
	DefaultOutlierK          = 3.0
	DefaultMinOutlierUsec    = 500.0
	DefaultRTTRejectFactor   = 3.0
	DefaultValidityHorizon   = 10 * time.Second
	DefaultMaxSlopeDeviation = 0.01
)

// ErrFitterRunning is returned by Start on a running fitter.
var ErrFitterRunning = errors.New("global fitter already running")

// DeviceClock reads the device's current clock.
type DeviceClock interface {
	DeviceTime(ctx context.Context) (property.DeviceTime, error)
}

// PropertyDeviceClock reads DEVICE_TIME through a property server at the
// internal access level.
type PropertyDeviceClock struct {
	Server *property.Server
}

// DeviceTime reads the DEVICE_TIME structure.
func (c PropertyDeviceClock) DeviceTime(ctx context.Context) (property.DeviceTime, error) {
	return property.GetStructure[property.DeviceTime](ctx, c.Server, property.DeviceTimeStruct, property.AccessInternal)
}

// FitterConfig configures a GlobalFitter.
type FitterConfig struct {
	// Interval between samples.
	Interval time.Duration

	// WindowSize is the number of samples kept for fitting.
	WindowSize int

	// MinSamples is the number of inliers required to publish a model.
	MinSamples int

	// OutlierK scales the robust residual threshold.
	OutlierK float64

	// MinOutlierUsec is the floor of the residual threshold, and of the
	// round-trip rejection limit.
	MinOutlierUsec float64

	// RTTRejectFactor rejects samples whose round trip exceeds this
	// multiple of the window's fastest round trip.
	RTTRejectFactor float64

	// ValidityHorizon is copied into published models.
	ValidityHorizon time.Duration

	// MaxSlopeDeviation discards fits whose slope differs from 1 by more.
	MaxSlopeDeviation float64

	// Retry governs retries of failed samples.
	Retry backoff.Config

	// Logger for operational messages. Nil disables logging.
	Logger *slog.Logger
}

// DefaultFitterConfig returns the default configuration.
func DefaultFitterConfig() FitterConfig {
	return FitterConfig{
		Interval:          DefaultFitInterval,
		WindowSize:        DefaultWindowSize,
		MinSamples:        DefaultMinSamples,
		OutlierK:          DefaultOutlierK,
		MinOutlierUsec:    DefaultMinOutlierUsec,
		RTTRejectFactor:   DefaultRTTRejectFactor,
		ValidityHorizon:   DefaultValidityHorizon,
		MaxSlopeDeviation: DefaultMaxSlopeDeviation,
		Retry:             backoff.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c FitterConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("fitter interval must be positive")
	}
	if c.MinSamples < 2 {
		return errors.New("fitter needs at least 2 samples")
	}
	if c.WindowSize < c.MinSamples {
		return fmt.Errorf("window size %d below min samples %d", c.WindowSize, c.MinSamples)
	}
	if c.OutlierK <= 0 {
		return errors.New("outlier k must be positive")
	}
	if c.MaxSlopeDeviation <= 0 || c.MaxSlopeDeviation >= 1 {
		return errors.New("max slope deviation must be within (0, 1)")
	}
	return c.Retry.Validate()
}

// Sample is one (device, host) clock pair.
type Sample struct {
	DeviceUsec uint64
	HostUsec   uint64
	RTTUsec    uint64
}

// FitterStats summarizes fitter activity.
type FitterStats struct {
	Samples   uint64
	Failures  uint64
	Fits      uint64
	Discarded uint64
	Resets    uint64
	Window    int
	LastError string
}

// GlobalFitter maintains a Model translating device time to host time.
type GlobalFitter struct {
	config  FitterConfig
	device  DeviceClock
	clock   clock.Clock
	emitter *log.Emitter

	model   atomic.Pointer[Model]
	enabled atomic.Bool

	mu      sync.Mutex
	window  []Sample
	gen     uint64 // bumped on every window change
	stats   FitterStats
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	refitCh chan struct{}
}

// NewGlobalFitter creates a fitter. The fitter starts enabled and idle.
func NewGlobalFitter(device DeviceClock, clk clock.Clock, cfg FitterConfig, em *log.Emitter) (*GlobalFitter, error) {
	if device == nil {
		return nil, fault.Configf("NewGlobalFitter", "", "nil device clock")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fault.New(fault.KindConfiguration, "NewGlobalFitter", "", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	f := &GlobalFitter{
		config:  cfg,
		device:  device,
		clock:   clk,
		emitter: em,
		refitCh: make(chan struct{}, 1),
	}
	f.enabled.Store(true)
	return f, nil
}

// Model returns the latest published model, or nil.
func (f *GlobalFitter) Model() *Model {
	return f.model.Load()
}

// Enabled reports whether periodic sampling is active.
func (f *GlobalFitter) Enabled() bool {
	return f.enabled.Load()
}

// Pause suspends periodic sampling. The published model is kept.
func (f *GlobalFitter) Pause() {
	f.enabled.Store(false)
}

// Resume re-enables periodic sampling and requests an immediate sample.
func (f *GlobalFitter) Resume() {
	f.enabled.Store(true)
	f.RequestRefit()
}

// SetEnabled calls Pause or Resume.
func (f *GlobalFitter) SetEnabled(on bool) error {
	if on {
		f.Resume()
	} else {
		f.Pause()
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (f *GlobalFitter) Stats() FitterStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Window = len(f.window)
	return s
}

// Window returns a copy of the sample window.
func (f *GlobalFitter) Window() []Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.window)
}

// Start launches the sampling loop. It samples immediately, then every
// Interval, until ctx is done or Stop is called.
func (f *GlobalFitter) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return ErrFitterRunning
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	go f.loop(ctx, f.stopCh, f.doneCh)
	return nil
}

// Stop halts the sampling loop and waits for it to exit.
func (f *GlobalFitter) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	stop, done := f.stopCh, f.doneCh
	f.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the loop is active.
func (f *GlobalFitter) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// RequestRefit asks the loop to sample now. It never blocks.
func (f *GlobalFitter) RequestRefit() {
	select {
	case f.refitCh <- struct{}{}:
	default:
	}
}

func (f *GlobalFitter) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := f.clock.NewTicker(f.config.Interval)
	defer ticker.Stop()

	f.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.running = false
			f.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C():
			f.tick(ctx)
		case <-f.refitCh:
			f.tick(ctx)
		}
	}
}

func (f *GlobalFitter) tick(ctx context.Context) {
	if !f.Enabled() {
		return
	}
	if err := f.SampleNow(ctx); err != nil && ctx.Err() == nil {
		f.warnLog("clock sample failed", "error", err)
	}
}

// SampleNow takes one sample, retrying transient failures, and refits.
func (f *GlobalFitter) SampleNow(ctx context.Context) error {
	var s Sample
	attempts, err := backoff.Retry(ctx, f.clock, f.config.Retry, func(ctx context.Context) error {
		var err error
		s, err = f.sample(ctx)
		return err
	}, nil)
	if err != nil {
		f.mu.Lock()
		f.stats.Failures++
		f.stats.LastError = err.Error()
		f.mu.Unlock()
		f.emitter.Error(log.LayerTiming, "", fault.KindOf(err).String(),
			fmt.Sprintf("clock sample after %d attempts", attempts), err)
		return err
	}
	f.Add(s)
	return nil
}

func (f *GlobalFitter) sample(ctx context.Context) (Sample, error) {
	before := f.clock.Now()
	dt, err := f.device.DeviceTime(ctx)
	if err != nil {
		return Sample{}, err
	}
	rtt := f.clock.Since(before)
	if dt.TimeUsec == 0 {
		return Sample{}, fault.Transient("DeviceTime", errors.New("device reported zero time"))
	}
	host := uint64(before.Add(rtt / 2).UnixMicro())
	rttUsec := uint64(max(rtt, 0) / time.Microsecond)
	return Sample{DeviceUsec: dt.TimeUsec, HostUsec: host, RTTUsec: rttUsec}, nil
}

// Add appends a sample to the window and refits. A device time earlier
// than the newest sample means the device clock was reset, so the window
// is discarded first. A sample repeating the newest device time carries no
// new information and is ignored.
func (f *GlobalFitter) Add(s Sample) {
	f.mu.Lock()
	f.stats.Samples++
	reset := false
	if n := len(f.window); n > 0 {
		last := f.window[n-1].DeviceUsec
		if s.DeviceUsec == last {
			f.mu.Unlock()
			f.debugLog("clock sample ignored", "reason", "device time unchanged", "device_usec", s.DeviceUsec)
			return
		}
		if s.DeviceUsec < last {
			f.window = f.window[:0]
			f.stats.Resets++
			f.model.Store(nil)
			reset = true
		}
	}
	f.window = append(f.window, s)
	if len(f.window) > f.config.WindowSize {
		f.window = slices.Delete(f.window, 0, len(f.window)-f.config.WindowSize)
	}
	f.gen++
	gen := f.gen
	window := slices.Clone(f.window)
	f.mu.Unlock()

	if reset {
		f.emitFit(nil, true, "device clock went backwards")
	}
	f.refit(window, gen)
}

// Reset drops the window and the published model.
func (f *GlobalFitter) Reset() {
	f.mu.Lock()
	f.window = nil
	f.gen++
	f.stats.Resets++
	f.model.Store(nil)
	f.mu.Unlock()

	f.emitFit(nil, true, "reset")
	f.debugLog("clock fit reset")
}

// refit fits window and publishes the result unless the window changed
// since generation gen was taken.
func (f *GlobalFitter) refit(window []Sample, gen uint64) {
	if len(window) < f.config.MinSamples {
		return
	}
	m, reason := f.fit(window)

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		f.debugLog("clock fit superseded", "samples", len(window))
		return
	}
	if m == nil {
		f.stats.Discarded++
		f.mu.Unlock()
		f.emitFit(nil, false, reason)
		f.debugLog("clock fit discarded", "reason", reason)
		return
	}
	f.model.Store(m)
	f.stats.Fits++
	f.mu.Unlock()

	f.emitFit(m, false, "")
	f.debugLog("clock fit published",
		"slope", m.Slope, "drift_ppm", m.DriftPPM(), "samples", m.Samples, "rejected", m.Rejected)
}

// fit runs a weighted least-squares fit over window with round-trip and
// residual outlier rejection. It returns nil and a reason when no model
// can be produced.
func (f *GlobalFitter) fit(window []Sample) (*Model, string) {
	ref := window[0]
	minRTT := window[0].RTTUsec
	for _, s := range window[1:] {
		minRTT = min(minRTT, s.RTTUsec)
	}

	rttLimit := float64(minRTT) * f.config.RTTRejectFactor
	if rttLimit < f.config.MinOutlierUsec {
		rttLimit = f.config.MinOutlierUsec
	}

	var xs, ys, ws []float64
	var newest uint64
	rejected := 0
	for _, s := range window {
		if float64(s.RTTUsec) > rttLimit {
			rejected++
			continue
		}
		xs = append(xs, float64(s.DeviceUsec-ref.DeviceUsec))
		ys = append(ys, float64(int64(s.HostUsec-ref.HostUsec)))
		// Slower round trips carry more host-time uncertainty.
		ws = append(ws, 1/(1+float64(s.RTTUsec-minRTT)/float64(max(minRTT, 1))))
		newest = max(newest, s.HostUsec)
	}
	if len(xs) < f.config.MinSamples {
		return nil, fmt.Sprintf("%d samples after round-trip rejection", len(xs))
	}

	alpha, beta := stat.LinearRegression(xs, ys, ws, false)

	residuals := make([]float64, len(xs))
	for i := range xs {
		residuals[i] = ys[i] - (alpha + beta*xs[i])
	}
	center, spread := medianAndMAD(residuals)
	limit := math.Max(f.config.MinOutlierUsec, f.config.OutlierK*madScale*spread)

	kx, ky, kw := xs[:0:0], ys[:0:0], ws[:0:0]
	for i := range xs {
		if math.Abs(residuals[i]-center) > limit {
			rejected++
			continue
		}
		kx = append(kx, xs[i])
		ky = append(ky, ys[i])
		kw = append(kw, ws[i])
	}
	if len(kx) < f.config.MinSamples {
		return nil, fmt.Sprintf("%d samples after residual rejection", len(kx))
	}
	if len(kx) < len(xs) {
		alpha, beta = stat.LinearRegression(kx, ky, kw, false)
	}

	m := &Model{
		Slope:               beta,
		InterceptUsec:       float64(ref.HostUsec) + alpha,
		DeviceRefUsec:       ref.DeviceUsec,
		FittedAtHostUsec:    newest,
		ValidityHorizonUsec: uint64(f.config.ValidityHorizon / time.Microsecond),
		Samples:             len(kx),
		Rejected:            rejected,
	}
	if !m.Valid() {
		return nil, "non-finite fit"
	}
	if math.Abs(m.Slope-1) > f.config.MaxSlopeDeviation {
		return nil, fmt.Sprintf("slope %.6f out of range", m.Slope)
	}
	return m, ""
}

// medianAndMAD returns the median of xs and the median absolute deviation
// from it.
func medianAndMAD(xs []float64) (median, mad float64) {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	for i, x := range sorted {
		sorted[i] = math.Abs(x - median)
	}
	slices.Sort(sorted)
	return median, stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func (f *GlobalFitter) emitFit(m *Model, reset bool, reason string) {
	ev := &log.ClockFitEvent{Reset: reset, Reason: reason}
	if m != nil {
		ev.Slope = m.Slope
		ev.InterceptUsec = m.InterceptUsec
		ev.FittedAtHostUsec = m.FittedAtHostUsec
		ev.Samples = m.Samples
		ev.Rejected = m.Rejected
	}
	f.emitter.Emit(log.Event{Layer: log.LayerTiming, Category: log.CategoryClockFit, ClockFit: ev})
}

func (f *GlobalFitter) debugLog(msg string, args ...any) {
	if f.config.Logger != nil {
		f.config.Logger.Debug(msg, args...)
	}
}

func (f *GlobalFitter) warnLog(msg string, args ...any) {
	if f.config.Logger != nil {
		f.config.Logger.Warn(msg, args...)
	}
}

var _ ModelSource = (*GlobalFitter)(nil)
