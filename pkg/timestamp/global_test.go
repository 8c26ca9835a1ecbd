package timestamp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/depthkit/devcore/pkg/frame"
)

type staticModel struct{ m *Model }

func (s staticModel) Model() *Model { return s.m }

func TestGlobalCalculator(t *testing.T) {
	t.Run("IdentityWithoutModel", func(t *testing.T) {
		c := NewGlobalCalculator(staticModel{})
		for _, ts := range []uint64{1, 1000, 1 << 50} {
			assert.Equal(t, Result{Usec: ts}, c.Translate(ts))
		}
		assert.Equal(t, Result{Usec: 42}, NewGlobalCalculator(nil).Translate(42))
	})

	t.Run("AppliesModel", func(t *testing.T) {
		m := &Model{
			Slope:               1.0001,
			InterceptUsec:       1_700_000_000_000_000,
			DeviceRefUsec:       1_000_000,
			FittedAtHostUsec:    1_700_000_000_000_000,
			ValidityHorizonUsec: 10_000_000,
		}
		c := NewGlobalCalculator(staticModel{m})

		res := c.Translate(2_000_000)
		assert.True(t, res.Fitted)
		assert.False(t, res.LowConfidence)
		assert.Equal(t, uint64(1_700_000_001_000_100), res.Usec)

		res = c.Translate(500_000)
		assert.Equal(t, uint64(1_699_999_999_499_950), res.Usec)
	})

	t.Run("LowConfidenceBeyondHorizon", func(t *testing.T) {
		m := &Model{Slope: 1, InterceptUsec: 50_000_000, DeviceRefUsec: 0, FittedAtHostUsec: 50_000_000, ValidityHorizonUsec: 1_000_000}
		c := NewGlobalCalculator(staticModel{m})

		res := c.Translate(900_000)
		assert.True(t, res.Fitted)
		assert.False(t, res.LowConfidence)

		res = c.Translate(5_000_000)
		assert.True(t, res.Fitted)
		assert.True(t, res.LowConfidence)
		assert.Equal(t, uint64(55_000_000), res.Usec)
	})

	t.Run("NegativeResultFallsBack", func(t *testing.T) {
		m := &Model{Slope: 1, InterceptUsec: 10, DeviceRefUsec: 1_000_000}
		res := NewGlobalCalculator(staticModel{m}).Translate(10)
		assert.Equal(t, Result{Usec: 10, LowConfidence: true}, res)
	})

	t.Run("Apply", func(t *testing.T) {
		m := &Model{Slope: 1, InterceptUsec: 2_000, DeviceRefUsec: 1_000}
		c := NewGlobalCalculator(staticModel{m})

		f := frame.NewVideoFrame(frame.SensorDepth, 1, 0)
		assert.Equal(t, Result{}, c.Apply(f))
		assert.Equal(t, uint64(0), f.GlobalTimestampUsec())

		f.SetTimestampUsec(1_500)
		res := c.Apply(f)
		assert.True(t, res.Fitted)
		assert.Equal(t, uint64(2_500), f.GlobalTimestampUsec())
	})
}

func TestModel(t *testing.T) {
	m := &Model{Slope: 1.00002, InterceptUsec: 0}
	assert.InDelta(t, 20.0, m.DriftPPM(), 1e-6)
	assert.True(t, m.Valid())
}
