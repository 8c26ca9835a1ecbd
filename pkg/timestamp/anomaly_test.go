package timestamp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/syncconfig"
)

type fixedMode syncconfig.Mode

func (m fixedMode) Mode() syncconfig.Mode { return syncconfig.Mode(m) }

func TestThresholdForFps(t *testing.T) {
	tests := []struct {
		fps  uint32
		want uint64
	}{
		{0, 5_000_000},
		{1, 10_000_000},
		{2, 5_000_000},
		{3, 5_000_000},
		{30, 5_000_000},
		{1000, 5_000_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ThresholdForFps(tt.fps), "fps %d", tt.fps)
	}

	for fps := uint32(1); fps < 500; fps++ {
		want := max(uint64(5_000_000), uint64(1_000_000/fps)*10)
		require.Equal(t, want, ThresholdForFps(fps))
	}
}

func TestAnomalyDetector(t *testing.T) {
	t.Run("FirstSampleSeeds", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)
		assert.NoError(t, d.Observe(123_456_789, 0))
		assert.Equal(t, uint64(123_456_789), d.Baseline())
	})

	t.Run("ZeroIgnored", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		assert.NoError(t, d.Observe(0, 0))
		assert.Equal(t, uint64(0), d.Baseline())

		require.NoError(t, d.Observe(1000, 0))
		assert.NoError(t, d.Observe(0, 0))
		assert.Equal(t, uint64(1000), d.Baseline())
	})

	t.Run("AnomalyAdvancesBaseline", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)
		require.NoError(t, d.Observe(100_000, 0))

		err := d.Observe(100_000+5_000_001, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fault.ErrTimestampAnomaly))

		var ae *AnomalyError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, uint64(5_100_001), ae.Timestamp)
		assert.Equal(t, uint64(100_000), ae.Previous)
		assert.Equal(t, uint64(5_000_001), ae.Diff)
		assert.Equal(t, uint64(5_000_000), ae.Threshold)
		assert.Equal(t, uint64(5_100_001), d.Baseline())

		assert.NoError(t, d.Observe(5_133_334, 0))
	})

	t.Run("ExactThresholdAccepted", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)
		require.NoError(t, d.Observe(100_000, 0))
		assert.NoError(t, d.Observe(5_100_000, 0))
	})

	t.Run("BackwardsJump", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)
		require.NoError(t, d.Observe(20_000_000, 0))
		assert.ErrorIs(t, d.Observe(1000, 0), fault.ErrTimestampAnomaly)
		assert.Equal(t, uint64(1000), d.Baseline())
	})

	t.Run("TriggeredModesSkipCheck", func(t *testing.T) {
		for _, mode := range []syncconfig.Mode{syncconfig.ModeSoftwareTriggering, syncconfig.ModeHardwareTriggering} {
			d := NewAnomalyDetector(fixedMode(mode))
			d.SetCurrentFps(30)
			for _, ts := range []uint64{1000, 900_000_000, 5, 1 << 60} {
				assert.NoError(t, d.Observe(ts, 0), mode.String())
			}
		}
	})

	t.Run("FreeRunChecks", func(t *testing.T) {
		d := NewAnomalyDetector(fixedMode(syncconfig.ModeFreeRun))
		d.SetCurrentFps(30)
		require.NoError(t, d.Observe(1000, 0))
		assert.Error(t, d.Observe(900_000_000, 0))
	})

	t.Run("ActualFpsAdaptsThreshold", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)
		require.NoError(t, d.Observe(1000, 0))

		// 1 fps tolerates 10s.
		assert.NoError(t, d.Observe(9_000_000, 1))
		assert.Equal(t, uint32(1), d.Fps())
		assert.Equal(t, uint64(10_000_000), d.Threshold())
	})

	t.Run("ActualFpsIgnoredBeforeSeed", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)
		require.NoError(t, d.Observe(1000, 1))
		assert.Equal(t, uint32(30), d.Fps())
	})

	t.Run("ClearUnseeds", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)
		require.NoError(t, d.Observe(1000, 0))
		d.Clear()
		assert.Equal(t, uint64(0), d.Baseline())
		assert.Equal(t, uint64(0), d.Threshold())

		assert.NoError(t, d.Observe(900_000_000, 0))
		assert.Error(t, d.Observe(1_000, 0))
		assert.Equal(t, uint64(5_000_000), d.Threshold())
	})

	t.Run("Calculate", func(t *testing.T) {
		d := NewAnomalyDetector(nil)
		d.SetCurrentFps(30)

		f1 := frame.NewVideoFrame(frame.SensorDepth, 1, 0)
		f1.SetTimestampUsec(1000)
		require.NoError(t, d.Calculate(f1))

		f2 := frame.NewVideoFrame(frame.SensorDepth, 2, 0)
		f2.SetTimestampUsec(8_000_000)
		f2.SetMetadata(frame.MetadataActualFrameRate, 1)
		assert.NoError(t, d.Calculate(f2))

		f3 := frame.NewVideoFrame(frame.SensorDepth, 3, 0)
		f3.SetTimestampUsec(30_000_000)
		f3.SetMetadata(frame.MetadataActualFrameRate, 0)
		assert.ErrorIs(t, d.Calculate(f3), fault.ErrTimestampAnomaly)
	})
}
