package timestamp

import (
	"math"

	"github.com/depthkit/devcore/pkg/frame"
)

// ModelSource publishes the current clock model, nil when none exists.
type ModelSource interface {
	Model() *Model
}

// Result is a translated timestamp.
type Result struct {
	Usec uint64

	// Fitted is false when no model was available and Usec is the input.
	Fitted bool

	// LowConfidence marks extrapolation beyond the model's validity
	// horizon.
	LowConfidence bool
}

// GlobalCalculator translates device timestamps with the latest model.
// It never blocks on the fitter.
type GlobalCalculator struct {
	src ModelSource
}

// NewGlobalCalculator creates a calculator reading models from src.
func NewGlobalCalculator(src ModelSource) *GlobalCalculator {
	return &GlobalCalculator{src: src}
}

// Translate maps dev to host time. Without a model, or for a zero input,
// dev is returned unchanged.
func (c *GlobalCalculator) Translate(dev uint64) Result {
	if dev == 0 || c.src == nil {
		return Result{Usec: dev}
	}
	m := c.src.Model()
	if m == nil {
		return Result{Usec: dev}
	}

	host := m.Translate(dev)
	if host < 1 || host >= 1<<64 {
		return Result{Usec: dev, LowConfidence: true}
	}
	usec := uint64(math.Round(host))

	res := Result{Usec: usec, Fitted: true}
	if m.ValidityHorizonUsec > 0 {
		dist := usec - m.FittedAtHostUsec
		if usec < m.FittedAtHostUsec {
			dist = m.FittedAtHostUsec - usec
		}
		res.LowConfidence = dist > m.ValidityHorizonUsec
	}
	return res
}

// Apply translates the frame's device timestamp and stores it as the
// frame's global timestamp. Frames without a timestamp are left alone.
func (c *GlobalCalculator) Apply(f frame.Frame) Result {
	ts := f.TimestampUsec()
	if ts == 0 {
		return Result{}
	}
	res := c.Translate(ts)
	f.SetGlobalTimestampUsec(res.Usec)
	return res
}
