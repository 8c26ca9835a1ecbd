package timestamp

import "math"

// Model maps device microseconds to host microseconds:
//
//	host = InterceptUsec + Slope * (device - DeviceRefUsec)
//
// InterceptUsec is the host time at DeviceRefUsec. A Model is immutable
// once published.
type Model struct {
	Slope         float64
	InterceptUsec float64
	DeviceRefUsec uint64

	// FittedAtHostUsec is the host time of the newest sample in the fit.
	FittedAtHostUsec uint64

	// ValidityHorizonUsec bounds the distance from FittedAtHostUsec within
	// which translations are trusted.
	ValidityHorizonUsec uint64

	Samples  int
	Rejected int
}

// Translate returns the host time for device time dev.
func (m *Model) Translate(dev uint64) float64 {
	var delta float64
	if dev >= m.DeviceRefUsec {
		delta = float64(dev - m.DeviceRefUsec)
	} else {
		delta = -float64(m.DeviceRefUsec - dev)
	}
	return m.InterceptUsec + m.Slope*delta
}

// DriftPPM returns how much faster host time advances than device time, in
// parts per million. A device clock running fast gives a negative value.
func (m *Model) DriftPPM() float64 {
	return (m.Slope - 1) * 1e6
}

// Valid reports whether the coefficients are finite.
func (m *Model) Valid() bool {
	return !math.IsNaN(m.Slope) && !math.IsInf(m.Slope, 0) &&
		!math.IsNaN(m.InterceptUsec) && !math.IsInf(m.InterceptUsec, 0)
}
