package timestamp

import (
	"fmt"
	"sync"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/syncconfig"
)

// MinValidDiffUsec is the lower bound on the anomaly threshold.
const MinValidDiffUsec uint64 = 5_000_000

// toleratedFrames is the number of frame intervals a timestamp may jump.
const toleratedFrames = 10

// ModeSource reports the active sync mode.
type ModeSource interface {
	Mode() syncconfig.Mode
}

// ThresholdForFps returns the largest accepted timestamp delta for fps.
func ThresholdForFps(fps uint32) uint64 {
	if fps == 0 {
		return MinValidDiffUsec
	}
	return max(MinValidDiffUsec, uint64(1_000_000/fps)*toleratedFrames)
}

// AnomalyError describes a rejected timestamp.
type AnomalyError struct {
	Timestamp uint64
	Previous  uint64
	Diff      uint64
	Threshold uint64
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("timestamp anomaly: timestamp %d, previous %d, diff %d exceeds %d",
		e.Timestamp, e.Previous, e.Diff, e.Threshold)
}

// Unwrap lets errors.Is match fault.ErrTimestampAnomaly.
func (e *AnomalyError) Unwrap() error { return fault.ErrTimestampAnomaly }

// AnomalyDetector flags frame timestamps that jump further than the
// fps-derived threshold from the previous one. One detector serves one
// sensor.
type AnomalyDetector struct {
	modes ModeSource

	mu        sync.Mutex
	cached    uint64
	threshold uint64
	fps       uint32
}

// NewAnomalyDetector creates a detector. A nil modes never suppresses checks.
func NewAnomalyDetector(modes ModeSource) *AnomalyDetector {
	return &AnomalyDetector{modes: modes}
}

// SetCurrentFps recomputes the threshold for fps.
func (d *AnomalyDetector) SetCurrentFps(fps uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setFps(fps)
}

func (d *AnomalyDetector) setFps(fps uint32) {
	d.threshold = ThresholdForFps(fps)
	d.fps = fps
}

// Threshold returns the current threshold, 0 after Clear.
func (d *AnomalyDetector) Threshold() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Fps returns the fps the threshold was derived from.
func (d *AnomalyDetector) Fps() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fps
}

// Baseline returns the last accepted timestamp, 0 when unseeded.
func (d *AnomalyDetector) Baseline() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached
}

// Calculate checks the frame's timestamp. The frame's actual-frame-rate
// metadata, when present, adapts the threshold. It returns an
// *AnomalyError for a rejected timestamp.
func (d *AnomalyDetector) Calculate(f frame.Frame) error {
	var actualFps uint32
	if f.HasMetadata(frame.MetadataActualFrameRate) {
		if v := f.MetadataValue(frame.MetadataActualFrameRate); v > 0 {
			actualFps = uint32(v)
		}
	}
	return d.Observe(f.TimestampUsec(), actualFps)
}

// Observe checks ts. actualFps is the measured frame rate, or 0 if unknown.
// The baseline always advances to ts, so a sustained jump is reported once.
func (d *AnomalyDetector) Observe(ts uint64, actualFps uint32) error {
	if d.modes != nil && d.modes.Mode().IsTriggered() {
		return nil
	}
	if ts == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached == 0 {
		d.cached = ts
		return nil
	}
	if actualFps > 0 && actualFps != d.fps {
		d.setFps(actualFps)
	}
	if d.threshold == 0 {
		d.setFps(d.fps)
	}

	prev := d.cached
	d.cached = ts

	diff := ts - prev
	if ts < prev {
		diff = prev - ts
	}
	if diff > d.threshold {
		return &AnomalyError{Timestamp: ts, Previous: prev, Diff: diff, Threshold: d.threshold}
	}
	return nil
}

// Clear returns the detector to the unseeded state. The fps is kept so the
// threshold is rebuilt on the next comparison.
func (d *AnomalyDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = 0
	d.threshold = 0
}
