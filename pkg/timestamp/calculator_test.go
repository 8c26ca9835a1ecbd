package timestamp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/frame"
)

func framWith(field frame.MetadataType, v int64) *frame.VideoFrame {
	f := frame.NewVideoFrame(frame.SensorColor, 1, 0)
	f.SetMetadata(field, v)
	return f
}

func TestTicksToUsec(t *testing.T) {
	assert.Equal(t, uint64(1234), TicksToUsec(1234, 1_000_000))
	assert.Equal(t, uint64(1_000_000), TicksToUsec(90_000, 90_000))
	assert.Equal(t, uint64(500), TicksToUsec(45, 90_000))
	// Large tick counts do not overflow.
	assert.Equal(t, uint64(1<<62)/1000, TicksToUsec(1<<62, 1_000_000_000))
}

func TestMetadataCalculator(t *testing.T) {
	t.Run("Converts", func(t *testing.T) {
		c := NewMetadataCalculator(frame.MetadataSensorTimestamp, 0)
		f := framWith(frame.MetadataSensorTimestamp, 900_000)

		require.NoError(t, c.Apply(f, 90_000))
		assert.Equal(t, uint64(10_000_000), f.TimestampUsec())
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		c := NewMetadataCalculator(frame.MetadataTimestamp, 0)
		f := framWith(frame.MetadataSensorTimestamp, 1)

		_, err := c.ComputeTimestamp(f, 1_000_000)
		assert.ErrorIs(t, err, fault.ErrMissingMetadata)
		assert.Contains(t, err.Error(), "TIMESTAMP")
		assert.Error(t, c.Apply(f, 1_000_000))
		assert.Equal(t, uint64(0), f.TimestampUsec())
	})

	t.Run("ZeroFrequency", func(t *testing.T) {
		c := NewMetadataCalculator(frame.MetadataTimestamp, 0)
		_, err := c.ComputeTimestamp(framWith(frame.MetadataTimestamp, 1), 0)
		assert.ErrorIs(t, err, fault.ErrConfiguration)
	})

	t.Run("UnwrapsCounter", func(t *testing.T) {
		c := NewMetadataCalculator(frame.MetadataSensorTimestamp, 32)
		max32 := int64(1<<32 - 1)

		ts, err := c.ComputeTimestamp(framWith(frame.MetadataSensorTimestamp, max32-10), 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(max32-10), ts)

		ts, err = c.ComputeTimestamp(framWith(frame.MetadataSensorTimestamp, 5), 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1<<32)+5, ts)

		// Small reordering stays in the same epoch.
		ts, err = c.ComputeTimestamp(framWith(frame.MetadataSensorTimestamp, 3), 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1<<32)+3, ts)

		c.Clear()
		ts, err = c.ComputeTimestamp(framWith(frame.MetadataSensorTimestamp, 5), 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), ts)
	})

	t.Run("Field", func(t *testing.T) {
		c := NewMetadataCalculator(frame.MetadataTimestamp, 64)
		assert.Equal(t, frame.MetadataTimestamp, c.Field())
		assert.Equal(t, uint64(1<<40), mustCompute(t, c, 1<<40))
	})
}

func mustCompute(t *testing.T, c *MetadataCalculator, v int64) uint64 {
	t.Helper()
	ts, err := c.ComputeTimestamp(framWith(c.Field(), v), 1_000_000)
	require.NoError(t, err)
	return ts
}
