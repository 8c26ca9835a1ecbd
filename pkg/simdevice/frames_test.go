package simdevice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/device"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/version"
)

type frameSink struct {
	mu     sync.Mutex
	frames []*frame.VideoFrame
}

func (s *frameSink) deliver(f *frame.VideoFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *frameSink) all() []*frame.VideoFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*frame.VideoFrame(nil), s.frames...)
}

func TestFrameSourceEmit(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	port := NewPort(clk)
	src := NewFrameSource(frame.SensorDepth, port, clk, frame.MetadataSensorTimestamp, 0)
	sink := &frameSink{}

	src.Emit()
	assert.Empty(t, sink.all(), "emit before start is a no-op")

	require.NoError(t, src.StartStream(context.Background(), 30, sink.deliver))
	defer src.StopStream()

	port.SetDeviceClock(1_000_000)
	src.Emit()

	src.DropMetadata(1)
	src.Emit()

	src.InjectJump(9_000_000)
	src.Emit()

	frames := sink.all()
	require.Len(t, frames, 3)

	assert.Equal(t, uint64(1), frames[0].Number())
	assert.Equal(t, int64(1_000_000), frames[0].MetadataValue(frame.MetadataSensorTimestamp))
	assert.False(t, frames[1].HasMetadata(frame.MetadataSensorTimestamp))
	assert.Equal(t, int64(10_000_000), frames[2].MetadataValue(frame.MetadataSensorTimestamp))
	assert.Equal(t, uint64(3), src.Generated())
}

func TestFrameSourceCounterWrap(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	port := NewPort(clk)
	src := NewFrameSource(frame.SensorColor, port, clk, frame.MetadataTimestamp, 32)
	sink := &frameSink{}
	require.NoError(t, src.StartStream(context.Background(), 30, sink.deliver))
	defer src.StopStream()

	port.SetDeviceClock(1<<32 + 5)
	src.Emit()
	require.Len(t, sink.all(), 1)
	assert.Equal(t, int64(5), sink.all()[0].MetadataValue(frame.MetadataTimestamp))
}

func TestFrameSourceLifecycle(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	src := NewFrameSource(frame.SensorDepth, NewPort(clk), clk, frame.MetadataTimestamp, 0)
	sink := &frameSink{}
	ctx := context.Background()

	t.Run("zero fps", func(t *testing.T) {
		assert.Error(t, src.StartStream(ctx, 0, sink.deliver))
		assert.False(t, src.Streaming())
	})

	t.Run("injected start failure", func(t *testing.T) {
		src.FailStart(assert.AnError)
		assert.ErrorIs(t, src.StartStream(ctx, 30, sink.deliver), assert.AnError)
		assert.False(t, src.Streaming())
	})

	t.Run("double start", func(t *testing.T) {
		require.NoError(t, src.StartStream(ctx, 30, sink.deliver))
		assert.ErrorIs(t, src.StartStream(ctx, 30, sink.deliver), ErrStreaming)
		require.NoError(t, src.StopStream())
		assert.False(t, src.Streaming())
		require.NoError(t, src.StopStream())
	})

	t.Run("ticker driven", func(t *testing.T) {
		require.NoError(t, src.StartStream(ctx, 10, sink.deliver))
		defer src.StopStream()
		for i := 0; i < 3; i++ {
			clk.Advance(100 * time.Millisecond)
			n := i + 1
			require.Eventually(t, func() bool { return len(sink.all()) == n },
				time.Second, time.Millisecond)
		}
	})
}

func TestProvider(t *testing.T) {
	m, err := device.LoadModel("gemini2")
	require.NoError(t, err)
	clk := clock.NewMockClock(epoch)
	p := New(m, "GM2-001", version.MustParse("1.3.0"), clk)

	assert.Equal(t, "gemini2", p.Info.Name)
	assert.Equal(t, uint16(0x0670), p.Info.PID)

	t.Run("vendor port", func(t *testing.T) {
		vp, err := p.VendorPort()
		require.NoError(t, err)
		assert.Same(t, p.Port(), vp)

		p.FailVendorPort(assert.AnError)
		_, err = p.VendorPort()
		assert.ErrorIs(t, err, assert.AnError)
		p.FailVendorPort(nil)
	})

	t.Run("stream ports", func(t *testing.T) {
		sp, err := p.StreamPort(frame.SensorDepth)
		require.NoError(t, err)
		assert.Same(t, p.Source(frame.SensorDepth), sp)

		_, err = p.StreamPort(frame.SensorIRLeft)
		assert.ErrorIs(t, err, ErrNotPresent)

		p.FailSensor(frame.SensorColor, assert.AnError)
		_, err = p.StreamPort(frame.SensorColor)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("seeded properties", func(t *testing.T) {
		n, err := p.Port().RawDataSize(context.Background(), property.DeviceExtensionInformationRaw)
		require.NoError(t, err)
		assert.Equal(t, ExtensionInfoSize, n)

		_, ok := p.Port().Value(property.DepthGainInt)
		assert.True(t, ok)
	})
}
