package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/depthkit/devcore/pkg/device"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/simdevice"
)

// simulation drives the sensors of a simulated device.
type simulation struct {
	dev    *device.Device
	sim    *simdevice.Provider
	logger *slog.Logger

	mu       sync.Mutex
	received map[frame.SensorType]*atomic.Uint64
}

func newSimulation(dev *device.Device, sim *simdevice.Provider, logger *slog.Logger) *simulation {
	return &simulation{
		dev:      dev,
		sim:      sim,
		logger:   logger,
		received: make(map[frame.SensorType]*atomic.Uint64),
	}
}

func (s *simulation) counter(t frame.SensorType) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.received[t]
	if !ok {
		c = &atomic.Uint64{}
		s.received[t] = c
	}
	return c
}

// StartSensor streams sensor t at its default frame rate.
func (s *simulation) StartSensor(ctx context.Context, t frame.SensorType) error {
	sensor, err := s.dev.Sensor(t)
	if err != nil {
		return err
	}
	c := s.counter(t)
	return sensor.Start(ctx, 0, func(*frame.VideoFrame) { c.Add(1) })
}

// StopSensor stops sensor t.
func (s *simulation) StopSensor(t frame.SensorType) error {
	sensor, err := s.dev.Sensor(t)
	if err != nil {
		return err
	}
	return sensor.Stop()
}

func (s *simulation) startAll(ctx context.Context) error {
	for _, sensor := range s.dev.Sensors() {
		if err := s.StartSensor(ctx, sensor.Type()); err != nil {
			return fmt.Errorf("start %s: %w", sensor.Type(), err)
		}
	}
	return nil
}

func (s *simulation) stopAll() {
	for _, sensor := range s.dev.Sensors() {
		if err := sensor.Stop(); err != nil {
			s.logger.Warn("stop sensor", "sensor", sensor.Type(), "error", err)
		}
	}
}

// injectJumps shifts the depth timestamps by ten seconds every interval,
// alternating direction so the stream returns to the device clock.
func (s *simulation) injectJumps(ctx context.Context, every time.Duration) {
	src := s.sim.Source(frame.SensorDepth)
	if src == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	jump := int64(10 * time.Second / time.Microsecond)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			src.InjectJump(jump)
			s.logger.Info("injected depth timestamp jump", "usec", jump)
			jump = -jump
		}
	}
}

// WriteReport prints per-sensor statistics and the clock state.
func (s *simulation) WriteReport(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tFPS\tFRAMES\tDELIVERED\tRECEIVED\tANOMALIES\tDROPPED\tMISSING\tLOW CONF\tLAST GLOBAL US")
	for _, sensor := range s.dev.Sensors() {
		st := sensor.Stats()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			sensor.Type(), st.Fps, st.Frames, st.Delivered, s.counter(sensor.Type()).Load(),
			st.Anomalies, st.Dropped, st.MissingTimestamps, st.LowConfidence, st.LastGlobalTimestampUsec)
	}
	tw.Flush()

	if fitter, err := s.dev.GlobalFitter(); err == nil {
		st := fitter.Stats()
		fmt.Fprintf(w, "\nclock fit: enabled=%t samples=%d fits=%d failures=%d resets=%d window=%d\n",
			fitter.Enabled(), st.Samples, st.Fits, st.Failures, st.Resets, st.Window)
		if m := fitter.Model(); m != nil {
			fmt.Fprintf(w, "  slope=%.9f drift=%.2fppm samples=%d rejected=%d\n",
				m.Slope, m.DriftPPM(), m.Samples, m.Rejected)
		} else {
			fmt.Fprintln(w, "  no model")
		}
	}
	if cs, err := s.dev.ClockSynchronizer(); err == nil {
		if at, ok := cs.LastSync(); ok {
			fmt.Fprintf(w, "clock sync: last=%s failures=%d\n", at.Format(time.RFC3339), cs.ConsecutiveFailures())
		} else {
			fmt.Fprintf(w, "clock sync: never failures=%d\n", cs.ConsecutiveFailures())
		}
	}
}

func (s *simulation) printReport(w io.Writer) {
	fmt.Fprintln(w)
	s.WriteReport(w)
}
