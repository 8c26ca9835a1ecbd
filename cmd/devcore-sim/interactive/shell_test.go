package interactive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/device"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/simdevice"
	"github.com/depthkit/devcore/pkg/syncconfig"
	"github.com/depthkit/devcore/pkg/version"
)

type fakeController struct {
	started []frame.SensorType
	stopped []frame.SensorType
}

func (c *fakeController) StartSensor(_ context.Context, t frame.SensorType) error {
	c.started = append(c.started, t)
	return nil
}

func (c *fakeController) StopSensor(t frame.SensorType) error {
	c.stopped = append(c.stopped, t)
	return nil
}

func (c *fakeController) WriteReport(w io.Writer) {
	fmt.Fprintln(w, "report")
}

type harness struct {
	shell *Shell
	out   *bytes.Buffer
	ctrl  *fakeController
	sim   *simdevice.Provider
	dev   *device.Device
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m, err := device.LoadModel("g330")
	require.NoError(t, err)
	clk := clock.NewMockClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	sim := simdevice.New(m, "SN-CONSOLE", version.MustParse("1.5.40"), clk)
	sim.Port().SetDeviceClock(1_000_000)

	cfg := device.DefaultConfig()
	cfg.Clock = clk
	dev, err := device.New(sim.Info, sim, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.Init(context.Background()))
	t.Cleanup(func() { dev.Close() })

	out := &bytes.Buffer{}
	ctrl := &fakeController{}
	return &harness{shell: NewShell(dev, ctrl, out), out: out, ctrl: ctrl, sim: sim, dev: dev}
}

func (h *harness) run(t *testing.T, line string) string {
	t.Helper()
	h.out.Reset()
	assert.False(t, h.shell.Execute(context.Background(), line))
	return h.out.String()
}

func TestShellProperties(t *testing.T) {
	h := newHarness(t)

	t.Run("props", func(t *testing.T) {
		out := h.run(t, "props")
		assert.Contains(t, out, "DEPTH_GAIN_INT")
		assert.Contains(t, out, "IR_GAIN_INT")
		assert.NotContains(t, out, "DEVICE_TIME")

		out = h.run(t, "props internal")
		assert.Contains(t, out, "DEVICE_TIME")
	})

	t.Run("set and get", func(t *testing.T) {
		out := h.run(t, "set DEPTH_GAIN_INT 42")
		assert.Contains(t, out, "DEPTH_GAIN_INT <- 42")
		v, ok := h.sim.Port().Value(property.DepthGainInt)
		require.True(t, ok)
		assert.Equal(t, int64(42), v.Int)

		out = h.run(t, "get ir_gain_int")
		assert.Contains(t, out, "IR_GAIN_INT = 42")

		out = h.run(t, "set DEPTH_MIRROR_BOOL true")
		assert.Contains(t, out, "DEPTH_MIRROR_BOOL <- true")
	})

	t.Run("structures", func(t *testing.T) {
		out := h.run(t, "get DEVICE_TIME internal")
		assert.Contains(t, out, "time_us=1000000")

		out = h.run(t, "get DEVICE_TIME")
		assert.Contains(t, out, "Error:")

		out = h.run(t, "get DEVICE_EXTENSION_INFORMATION internal")
		assert.Contains(t, out, fmt.Sprintf("%d bytes", simdevice.ExtensionInfoSize))
	})

	t.Run("range", func(t *testing.T) {
		out := h.run(t, "range DEPTH_ROTATE_INT")
		assert.Contains(t, out, "max=270")
		assert.Contains(t, out, "step=90")
	})

	t.Run("bad input", func(t *testing.T) {
		assert.Contains(t, h.run(t, "set DEPTH_GAIN_INT high"), "invalid integer")
		assert.Contains(t, h.run(t, "get NOPE"), "Error:")
		assert.Contains(t, h.run(t, "set DEVICE_TIME 1 internal"), "cannot be set")
		assert.Contains(t, h.run(t, "frobnicate"), "Unknown command")
	})
}

func TestShellSync(t *testing.T) {
	h := newHarness(t)

	out := h.run(t, "sync")
	assert.Contains(t, out, "mode=FREE_RUN")
	assert.Contains(t, out, "supported:")

	out = h.run(t, "trigger")
	assert.Contains(t, out, "Error:")

	out = h.run(t, "sync software_triggering frames=3 color_delay=100 trigger_out=true")
	assert.Contains(t, out, "mode=SOFTWARE_TRIGGERING")
	assert.Contains(t, out, "frames=3")

	sc, err := h.dev.SyncConfigurator()
	require.NoError(t, err)
	assert.Equal(t, syncconfig.ModeSoftwareTriggering, sc.Mode())
	assert.Equal(t, int32(100), sc.SyncConfig().ColorDelayUsec)
	assert.True(t, sc.SyncConfig().TriggerOutEnable)

	out = h.run(t, "trigger")
	assert.Contains(t, out, "trigger sent")
	assert.Equal(t, 1, h.sim.Port().Triggers())

	assert.Contains(t, h.run(t, "sync PRIMARY bogus=1"), "unknown sync option")
	assert.Contains(t, h.run(t, "sync WARP"), "Error:")
}

func TestShellStreamsAndClock(t *testing.T) {
	h := newHarness(t)

	h.run(t, "start depth color")
	assert.Equal(t, []frame.SensorType{frame.SensorDepth, frame.SensorColor}, h.ctrl.started)

	h.run(t, "stop")
	assert.Len(t, h.ctrl.stopped, len(h.dev.Sensors()))

	assert.Contains(t, h.run(t, "start sonar"), "unknown sensor")
	assert.Contains(t, h.run(t, "stats"), "report")

	out := h.run(t, "fit")
	assert.Contains(t, out, "enabled=true")
	assert.Contains(t, out, "model: none")

	out = h.run(t, "fit off")
	assert.Contains(t, out, "enabled=false")

	out = h.run(t, "clocksync")
	assert.Contains(t, out, "device clock synchronized")

	assert.Contains(t, h.run(t, "save"), "Error:")
}

func TestShellQuit(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.shell.Execute(context.Background(), "quit"))
	assert.False(t, h.shell.Execute(context.Background(), "   "))
}
