package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/log"
	"github.com/depthkit/devcore/pkg/timestamp"
)

// FrameHandler receives frames that passed the timestamp pipeline.
type FrameHandler func(*frame.VideoFrame)

// SensorStats summarizes the frames seen by a sensor since it was created.
type SensorStats struct {
	Frames            uint64
	Delivered         uint64
	Anomalies         uint64
	Dropped           uint64
	MissingTimestamps uint64
	LowConfidence     uint64

	LastTimestampUsec       uint64
	LastGlobalTimestampUsec uint64

	Fps       uint32
	Streaming bool
}

// Sensor is one stream of a device with its timestamp pipeline.
type Sensor struct {
	typ     frame.SensorType
	spec    SensorSpec
	port    StreamPort
	clockHz uint64

	calc     *timestamp.MetadataCalculator
	detector *timestamp.AnomalyDetector
	global   *timestamp.GlobalCalculator
	fitter   *timestamp.GlobalFitter

	dropAnomalous bool
	logger        *slog.Logger
	emitter       *log.Emitter

	// opMu serializes Start and Stop. mu guards the fields below it and
	// is never held across port calls.
	opMu      sync.Mutex
	mu        sync.Mutex
	streaming bool
	fps       uint32
	handler   atomic.Pointer[FrameHandler]

	frames    atomic.Uint64
	delivered atomic.Uint64
	anomalies atomic.Uint64
	dropped   atomic.Uint64
	missing   atomic.Uint64
	lowConf   atomic.Uint64
	lastTs    atomic.Uint64
	lastGlob  atomic.Uint64
}

// Type returns the sensor type.
func (s *Sensor) Type() frame.SensorType { return s.typ }

// DefaultFps returns the model's default frame rate for the sensor.
func (s *Sensor) DefaultFps() uint32 { return s.spec.DefaultFps }

// Detector returns the anomaly detector, nil when disabled for the sensor.
func (s *Sensor) Detector() *timestamp.AnomalyDetector { return s.detector }

// IsStreaming reports whether the sensor is streaming.
func (s *Sensor) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Start begins streaming at fps, or the default rate when fps is zero.
// handler receives each frame that passes the pipeline.
func (s *Sensor) Start(ctx context.Context, fps uint32, handler FrameHandler) error {
	if fps == 0 {
		fps = s.spec.DefaultFps
	}
	if fps == 0 {
		return fault.Configf("Start", s.typ.String(), "no frame rate")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.IsStreaming() {
		return fault.New(fault.KindBusy, "Start", s.typ.String(), errors.New("already streaming"))
	}

	s.calc.Clear()
	if s.detector != nil {
		s.detector.Clear()
		s.detector.SetCurrentFps(fps)
	}
	if handler != nil {
		s.handler.Store(&handler)
	}

	if err := s.port.StartStream(ctx, fps, s.OnFrame); err != nil {
		s.handler.Store(nil)
		return err
	}
	s.mu.Lock()
	s.streaming, s.fps = true, fps
	s.mu.Unlock()

	s.emitStream("start", fps, "")
	if s.logger != nil {
		s.logger.Info("sensor started", "sensor", s.typ, "fps", fps)
	}
	return nil
}

// Stop ends streaming. The per-stream timestamp state is cleared before
// Stop returns.
func (s *Sensor) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.IsStreaming() {
		return nil
	}

	err := s.port.StopStream()
	s.handler.Store(nil)
	s.calc.Clear()
	if s.detector != nil {
		s.detector.Clear()
	}

	s.mu.Lock()
	s.streaming = false
	fps := s.fps
	s.mu.Unlock()

	s.emitStream("stop", fps, "")
	if s.logger != nil {
		s.logger.Info("sensor stopped", "sensor", s.typ)
	}
	return err
}

// OnFrame runs the timestamp pipeline on f and hands it to the frame
// handler. It is called by the stream port.
func (s *Sensor) OnFrame(f *frame.VideoFrame) {
	s.frames.Add(1)

	if err := s.calc.Apply(f, s.clockHz); err != nil {
		if errors.Is(err, fault.ErrMissingMetadata) {
			s.missing.Add(1)
			s.emitter.Emit(log.Event{
				Layer:    log.LayerTiming,
				Category: log.CategoryMissingTimestamp,
				Sensor:   s.typ.String(),
				Stream:   &log.StreamEvent{Action: "frame", FrameNumber: f.Number(), Reason: s.calc.Field().String()},
			})
		} else {
			s.emitter.Error(log.LayerTiming, s.typ.String(), fault.KindOf(err).String(), "frame timestamp", err)
		}
	} else if s.detector != nil {
		if err := s.detector.Calculate(f); err != nil {
			if s.anomaly(f, err) {
				return
			}
		}
	}

	if s.fitter == nil || s.fitter.Enabled() {
		res := s.global.Apply(f)
		if res.LowConfidence {
			s.lowConf.Add(1)
		}
	}

	s.lastTs.Store(f.TimestampUsec())
	s.lastGlob.Store(f.GlobalTimestampUsec())

	if h := s.handler.Load(); h != nil {
		(*h)(f)
	}
	s.delivered.Add(1)
}

// anomaly records a rejected timestamp. It reports whether the frame is
// dropped.
func (s *Sensor) anomaly(f *frame.VideoFrame, err error) bool {
	var ae *timestamp.AnomalyError
	if !errors.As(err, &ae) {
		return false
	}
	s.anomalies.Add(1)
	if s.logger != nil {
		s.logger.Warn("frame timestamp anomaly", "sensor", s.typ, "frame", f.Number(),
			"timestamp_us", ae.Timestamp, "previous_us", ae.Previous, "threshold_us", ae.Threshold)
	}
	s.emitter.Emit(log.Event{
		Layer:    log.LayerTiming,
		Category: log.CategoryTimestampAnomaly,
		Sensor:   s.typ.String(),
		Anomaly: &log.AnomalyEvent{
			TimestampUsec: ae.Timestamp,
			PreviousUsec:  ae.Previous,
			DiffUsec:      ae.Diff,
			ThresholdUsec: ae.Threshold,
			Dropped:       s.dropAnomalous,
		},
	})
	if s.dropAnomalous {
		s.dropped.Add(1)
		return true
	}
	return false
}

// Stats returns a snapshot of the sensor counters.
func (s *Sensor) Stats() SensorStats {
	s.mu.Lock()
	fps, streaming := s.fps, s.streaming
	s.mu.Unlock()
	return SensorStats{
		Frames:                  s.frames.Load(),
		Delivered:               s.delivered.Load(),
		Anomalies:               s.anomalies.Load(),
		Dropped:                 s.dropped.Load(),
		MissingTimestamps:       s.missing.Load(),
		LowConfidence:           s.lowConf.Load(),
		LastTimestampUsec:       s.lastTs.Load(),
		LastGlobalTimestampUsec: s.lastGlob.Load(),
		Fps:                     fps,
		Streaming:               streaming,
	}
}

func (s *Sensor) emitStream(action string, fps uint32, reason string) {
	s.emitter.Emit(log.Event{
		Layer:    log.LayerDevice,
		Category: log.CategoryStream,
		Sensor:   s.typ.String(),
		Stream:   &log.StreamEvent{Action: action, Fps: fps, Reason: reason},
	})
}
