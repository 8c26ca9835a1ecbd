package simdevice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/syncconfig"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func readDeviceTime(t *testing.T, p *Port) property.DeviceTime {
	t.Helper()
	data, err := p.GetStructure(context.Background(), property.DeviceTimeStruct)
	require.NoError(t, err)
	var dt property.DeviceTime
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, &dt))
	return dt
}

func TestPortScalars(t *testing.T) {
	ctx := context.Background()
	p := NewPort(clock.NewMockClock(epoch))
	p.Define(property.DepthGainInt, property.Range{
		Min: property.IntValue(16), Max: property.IntValue(248), Step: property.IntValue(1), Default: property.IntValue(16),
	})

	t.Run("default", func(t *testing.T) {
		v, err := p.GetProperty(ctx, property.DepthGainInt)
		require.NoError(t, err)
		assert.Equal(t, int64(16), v.Int)
	})

	t.Run("set in range", func(t *testing.T) {
		require.NoError(t, p.SetProperty(ctx, property.DepthGainInt, property.IntValue(64)))
		r, err := p.GetPropertyRange(ctx, property.DepthGainInt)
		require.NoError(t, err)
		assert.Equal(t, int64(64), r.Current.Int)
	})

	t.Run("set out of range", func(t *testing.T) {
		err := p.SetProperty(ctx, property.DepthGainInt, property.IntValue(1000))
		assert.ErrorIs(t, err, fault.ErrConfiguration)
		v, _ := p.Value(property.DepthGainInt)
		assert.Equal(t, int64(64), v.Int)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := p.GetProperty(ctx, property.ColorGainInt)
		assert.ErrorIs(t, err, fault.ErrUnsupportedProperty)
	})

	assert.Equal(t, 2, p.CountCalls("SetProperty", property.DepthGainInt))
}

func TestPortTrigger(t *testing.T) {
	ctx := context.Background()
	p := NewPort(nil)
	p.Define(property.CaptureImageSignalBool, property.BoolRange(false))

	require.NoError(t, p.SetProperty(ctx, property.CaptureImageSignalBool, property.BoolValue(true)))
	require.NoError(t, p.SetProperty(ctx, property.CaptureImageSignalBool, property.BoolValue(false)))
	require.NoError(t, p.SetProperty(ctx, property.CaptureImageSignalBool, property.BoolValue(true)))
	assert.Equal(t, 2, p.Triggers())
}

func TestPortDeviceClock(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	p := NewPort(clk)

	t.Run("runs with host", func(t *testing.T) {
		clk.Advance(2 * time.Second)
		assert.Equal(t, uint64(2_000_000), readDeviceTime(t, p).TimeUsec)
	})

	t.Run("drift", func(t *testing.T) {
		p.SetDrift(100)
		clk.Advance(10 * time.Second)
		assert.Equal(t, uint64(2_000_000+10_001_000), p.DeviceTimeUsec())
	})

	t.Run("write sets clock", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, property.DeviceTime{TimeUsec: 50_000_000}))
		require.NoError(t, p.SetStructure(context.Background(), property.DeviceTimeStruct, buf.Bytes()))
		assert.Equal(t, uint64(50_000_000), p.DeviceTimeUsec())

		clk.Advance(time.Second)
		assert.Equal(t, uint64(51_000_100), p.DeviceTimeUsec())
	})
}

func TestPortLatency(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	p := NewPort(clk)
	p.SetLatency(3 * time.Millisecond)

	dt := readDeviceTime(t, p)
	assert.Equal(t, uint64(3000), dt.RTTUsec)
	assert.Equal(t, []time.Duration{3 * time.Millisecond}, clk.Sleeps())
}

func TestPortFailures(t *testing.T) {
	ctx := context.Background()
	p := NewPort(nil)
	p.Define(property.LaserControlInt, property.Range{})
	boom := errors.New("usb stall")

	t.Run("counted", func(t *testing.T) {
		p.Fail(property.LaserControlInt, boom, 2)
		_, err := p.GetProperty(ctx, property.LaserControlInt)
		assert.ErrorIs(t, err, boom)
		_, err = p.GetProperty(ctx, property.LaserControlInt)
		assert.ErrorIs(t, err, boom)
		_, err = p.GetProperty(ctx, property.LaserControlInt)
		assert.NoError(t, err)
	})

	t.Run("until recover", func(t *testing.T) {
		p.Fail(property.LaserControlInt, boom, -1)
		for i := 0; i < 5; i++ {
			_, err := p.GetProperty(ctx, property.LaserControlInt)
			assert.ErrorIs(t, err, boom)
		}
		p.Recover(property.LaserControlInt)
		_, err := p.GetProperty(ctx, property.LaserControlInt)
		assert.NoError(t, err)
	})
}

func TestPortStructures(t *testing.T) {
	ctx := context.Background()
	p := NewPort(nil)

	t.Run("sync config default", func(t *testing.T) {
		data, err := p.GetStructure(ctx, property.MultiDeviceSyncConfigStruct)
		require.NoError(t, err)
		var cfg syncconfig.Config
		require.NoError(t, cfg.UnmarshalBinary(data))
		assert.Equal(t, syncconfig.DefaultConfig(), cfg)
	})

	t.Run("unknown structure", func(t *testing.T) {
		err := p.SetStructure(ctx, property.DepthHDRConfigStruct, []byte{1})
		assert.ErrorIs(t, err, fault.ErrUnsupportedProperty)
	})
}

func TestPortRawData(t *testing.T) {
	ctx := context.Background()
	p := NewPort(nil)
	blob := make([]byte, 600)
	for i := range blob {
		blob[i] = byte(i)
	}
	p.StoreRaw(property.DepthCalibParamRaw, blob)

	n, err := p.RawDataSize(ctx, property.DepthCalibParamRaw)
	require.NoError(t, err)
	assert.Equal(t, 600, n)

	chunk, err := p.ReadRawData(ctx, property.DepthCalibParamRaw, 500, 232)
	require.NoError(t, err)
	assert.Equal(t, blob[500:], chunk)

	_, err = p.ReadRawData(ctx, property.DepthCalibParamRaw, 601, 10)
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}
