package timestamp

import (
	"sync"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/frame"
)

// FrameCalculator converts a frame's raw timing data into a device-domain
// timestamp in microseconds.
type FrameCalculator interface {
	ComputeTimestamp(f frame.Frame, clockFreqHz uint64) (uint64, error)

	// Clear drops state carried between frames.
	Clear()
}

// MetadataCalculator reads a metadata field holding device clock ticks.
// For counters narrower than 64 bits, wraps are unwrapped into a monotonic
// tick count.
type MetadataCalculator struct {
	field       frame.MetadataType
	counterBits uint

	mu      sync.Mutex
	last    uint64
	epoch   uint64
	started bool
}

// NewMetadataCalculator creates a calculator reading field. counterBits is
// the width of the device counter; 0 or 64 disables unwrapping.
func NewMetadataCalculator(field frame.MetadataType, counterBits uint) *MetadataCalculator {
	if counterBits >= 64 {
		counterBits = 0
	}
	return &MetadataCalculator{field: field, counterBits: counterBits}
}

// Field returns the metadata field read by the calculator.
func (c *MetadataCalculator) Field() frame.MetadataType { return c.field }

// ComputeTimestamp returns the frame's device timestamp in microseconds.
// A frame without the field yields a MissingMetadata error.
func (c *MetadataCalculator) ComputeTimestamp(f frame.Frame, clockFreqHz uint64) (uint64, error) {
	if clockFreqHz == 0 {
		return 0, fault.Configf("ComputeTimestamp", c.field.String(), "clock frequency is zero")
	}
	if !f.HasMetadata(c.field) {
		return 0, fault.New(fault.KindMissingMetadata, "ComputeTimestamp", c.field.String(), nil)
	}
	ticks := c.unwrap(uint64(f.MetadataValue(c.field)))
	return TicksToUsec(ticks, clockFreqHz), nil
}

// Apply computes the timestamp and stores it on the frame.
func (c *MetadataCalculator) Apply(f frame.Frame, clockFreqHz uint64) error {
	ts, err := c.ComputeTimestamp(f, clockFreqHz)
	if err != nil {
		return err
	}
	f.SetTimestampUsec(ts)
	return nil
}

func (c *MetadataCalculator) unwrap(raw uint64) uint64 {
	if c.counterBits == 0 {
		return raw
	}
	span := uint64(1) << c.counterBits
	raw &= span - 1

	c.mu.Lock()
	defer c.mu.Unlock()

	// A backwards step of more than half the range is a wrap, anything
	// smaller is reordering within the same epoch.
	if c.started && raw < c.last && c.last-raw > span/2 {
		c.epoch += span
	}
	c.last = raw
	c.started = true
	return c.epoch + raw
}

// Clear resets the unwrap state.
func (c *MetadataCalculator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last, c.epoch, c.started = 0, 0, false
}

// TicksToUsec converts ticks of a freqHz clock to microseconds without
// intermediate overflow.
func TicksToUsec(ticks, freqHz uint64) uint64 {
	if freqHz == 1_000_000 {
		return ticks
	}
	whole := ticks / freqHz
	rem := ticks % freqHz
	return whole*1_000_000 + rem*1_000_000/freqHz
}

var _ FrameCalculator = (*MetadataCalculator)(nil)
