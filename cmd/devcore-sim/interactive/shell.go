package interactive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/depthkit/devcore/pkg/device"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/syncconfig"
)

// Controller starts and stops sensor streams and reports on them.
type Controller interface {
	StartSensor(ctx context.Context, t frame.SensorType) error
	StopSensor(t frame.SensorType) error
	WriteReport(w io.Writer)
}

// Shell executes console commands against a device.
type Shell struct {
	dev  *device.Device
	ctrl Controller
	out  io.Writer
}

// NewShell creates a shell writing its output to out.
func NewShell(dev *device.Device, ctrl Controller, out io.Writer) *Shell {
	return &Shell{dev: dev, ctrl: ctrl, out: out}
}

// Execute runs one command line. It reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "props", "p":
		err = s.cmdProps(args)
	case "get", "g":
		err = s.cmdGet(ctx, args)
	case "set":
		err = s.cmdSet(ctx, args)
	case "range":
		err = s.cmdRange(ctx, args)
	case "sync":
		err = s.cmdSync(ctx, args)
	case "trigger":
		err = s.dev.TriggerCapture(ctx)
		if err == nil {
			fmt.Fprintln(s.out, "trigger sent")
		}
	case "start":
		err = s.forSensors(args, func(t frame.SensorType) error { return s.ctrl.StartSensor(ctx, t) })
	case "stop":
		err = s.forSensors(args, s.ctrl.StopSensor)
	case "fit":
		err = s.cmdFit(args)
	case "clocksync":
		err = s.dev.SyncClock(ctx)
		if err == nil {
			fmt.Fprintln(s.out, "device clock synchronized")
		}
	case "stats":
		s.ctrl.WriteReport(s.out)
	case "save":
		err = s.dev.SaveState()
		if err == nil {
			fmt.Fprintln(s.out, "state saved")
		}
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Device Commands:
  Properties:
    props [internal]            - List accessible properties
    get <PROP> [internal]       - Read a property
    set <PROP> <val> [internal] - Write a scalar property
    range <PROP>                - Show a scalar property's range

  Synchronization:
    sync                        - Show the sync configuration
    sync <MODE> [key=val ...]   - Apply a sync mode (keys: depth_delay,
                                  color_delay, trigger_delay, trigger_out,
                                  trigger_out_delay, frames)
    trigger                     - Fire a software trigger

  Streams and clocks:
    start [sensor|all]          - Start streaming
    stop [sensor|all]           - Stop streaming
    fit [reset|on|off]          - Show or control the clock fit
    clocksync                   - Set the device clock to host time
    stats                       - Show stream and clock statistics

  General:
    save                        - Save device state
    help                        - Show this help
    quit                        - Exit`)
}

// level returns the access level selected by a trailing "internal" arg.
func level(args []string) ([]string, property.AccessLevel) {
	if n := len(args); n > 0 && strings.EqualFold(args[n-1], "internal") {
		return args[:n-1], property.AccessInternal
	}
	return args, property.AccessUser
}

func (s *Shell) server() (*property.Server, error) {
	return s.dev.PropertyServer()
}

func (s *Shell) cmdProps(args []string) error {
	_, lvl := level(args)
	srv, err := s.server()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROPERTY\tTYPE\tACCESS\tALIAS OF")
	for _, info := range srv.Properties(lvl) {
		alias := ""
		if info.AliasOf != 0 {
			alias = info.AliasOf.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.ID, info.Type, info.Permission, alias)
	}
	return tw.Flush()
}

func parseID(args []string, usage string) (property.ID, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	return property.ParseID(strings.ToUpper(args[0]))
}

func (s *Shell) cmdGet(ctx context.Context, args []string) error {
	args, lvl := level(args)
	id, err := parseID(args, "get <PROP> [internal]")
	if err != nil {
		return err
	}
	srv, err := s.server()
	if err != nil {
		return err
	}

	switch t := id.Type(); t {
	case property.TypeStruct:
		return s.printStructure(ctx, srv, id, lvl)
	case property.TypeRaw:
		data, err := srv.ReadRawData(ctx, id, lvl)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s = %d bytes\n", id, len(data))
		if len(data) > 0 {
			fmt.Fprint(s.out, hex.Dump(data[:min(len(data), 64)]))
		}
	default:
		v, err := srv.GetPropertyValue(ctx, id, lvl)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s = %s\n", id, formatValue(t, v))
	}
	return nil
}

func (s *Shell) printStructure(ctx context.Context, srv *property.Server, id property.ID, lvl property.AccessLevel) error {
	switch id {
	case property.DeviceTimeStruct:
		dt, err := property.GetStructure[property.DeviceTime](ctx, srv, id, lvl)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s = time_us=%d rtt_us=%d\n", id, dt.TimeUsec, dt.RTTUsec)
	case property.CurrentDepthAlgModeStruct:
		m, err := property.GetStructure[property.DepthAlgMode](ctx, srv, id, lvl)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s = name=%q option=%d\n", id, m.ModeName(), m.OptionCode)
	case property.MultiDeviceSyncConfigStruct:
		data, err := srv.GetStructureData(ctx, id, lvl)
		if err != nil {
			return err
		}
		var cfg syncconfig.Config
		if err := cfg.UnmarshalBinary(data); err != nil {
			return err
		}
		printSyncConfig(s.out, cfg)
	default:
		data, err := srv.GetStructureData(ctx, id, lvl)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s = %d bytes\n", id, len(data))
		fmt.Fprint(s.out, hex.Dump(data))
	}
	return nil
}

func (s *Shell) cmdSet(ctx context.Context, args []string) error {
	args, lvl := level(args)
	if len(args) < 2 {
		return fmt.Errorf("usage: set <PROP> <value> [internal]")
	}
	id, err := parseID(args, "")
	if err != nil {
		return err
	}
	v, err := parseValue(id.Type(), args[1])
	if err != nil {
		return err
	}
	srv, err := s.server()
	if err != nil {
		return err
	}
	if err := srv.SetPropertyValue(ctx, id, v, lvl); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s <- %s\n", id, formatValue(id.Type(), v))
	return nil
}

func (s *Shell) cmdRange(ctx context.Context, args []string) error {
	args, lvl := level(args)
	id, err := parseID(args, "range <PROP>")
	if err != nil {
		return err
	}
	srv, err := s.server()
	if err != nil {
		return err
	}
	r, err := srv.GetPropertyRange(ctx, id, lvl)
	if err != nil {
		return err
	}
	t := id.Type()
	fmt.Fprintf(s.out, "%s: min=%s max=%s step=%s default=%s current=%s\n", id,
		formatValue(t, r.Min), formatValue(t, r.Max), formatValue(t, r.Step),
		formatValue(t, r.Default), formatValue(t, r.Current))
	return nil
}

func (s *Shell) cmdSync(ctx context.Context, args []string) error {
	sc, err := s.dev.SyncConfigurator()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		if !sc.Loaded() {
			if _, err := sc.Load(ctx); err != nil {
				return err
			}
		}
		printSyncConfig(s.out, sc.SyncConfig())
		fmt.Fprintf(s.out, "supported: %s\n", sc.SupportedModes())
		return nil
	}

	mode, err := syncconfig.ParseMode(strings.ToUpper(args[0]))
	if err != nil {
		return err
	}
	cfg := syncconfig.Config{Mode: mode, FramesPerTrigger: 1}
	for _, kv := range args[1:] {
		if err := applySyncOption(&cfg, kv); err != nil {
			return err
		}
	}
	if err := s.dev.SetSyncConfig(ctx, cfg); err != nil {
		return err
	}
	printSyncConfig(s.out, cfg)
	return nil
}

func applySyncOption(cfg *syncconfig.Config, kv string) error {
	key, val, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", kv)
	}
	if key == "trigger_out" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.TriggerOutEnable = b
		return nil
	}

	n, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	switch key {
	case "depth_delay":
		cfg.DepthDelayUsec = int32(n)
	case "color_delay":
		cfg.ColorDelayUsec = int32(n)
	case "trigger_delay":
		cfg.TriggerToImageDelayUsec = int32(n)
	case "trigger_out_delay":
		cfg.TriggerOutDelayUsec = int32(n)
	case "frames":
		cfg.FramesPerTrigger = int32(n)
	default:
		return fmt.Errorf("unknown sync option %q", key)
	}
	return nil
}

func printSyncConfig(w io.Writer, cfg syncconfig.Config) {
	fmt.Fprintf(w, "mode=%s depth_delay=%dus color_delay=%dus trigger_delay=%dus trigger_out=%t trigger_out_delay=%dus frames=%d\n",
		cfg.Mode, cfg.DepthDelayUsec, cfg.ColorDelayUsec, cfg.TriggerToImageDelayUsec,
		cfg.TriggerOutEnable, cfg.TriggerOutDelayUsec, cfg.FramesPerTrigger)
}

func (s *Shell) forSensors(args []string, fn func(frame.SensorType) error) error {
	var types []frame.SensorType
	if len(args) == 0 || args[0] == "all" {
		for _, sensor := range s.dev.Sensors() {
			types = append(types, sensor.Type())
		}
	} else {
		for _, a := range args {
			t, ok := frame.ParseSensorType(strings.ToLower(a))
			if !ok {
				return fmt.Errorf("unknown sensor %q", a)
			}
			types = append(types, t)
		}
	}
	for _, t := range types {
		if err := fn(t); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		fmt.Fprintf(s.out, "%s ok\n", t)
	}
	return nil
}

func (s *Shell) cmdFit(args []string) error {
	fitter, err := s.dev.GlobalFitter()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "reset":
			fitter.Reset()
			fitter.RequestRefit()
		case "on":
			err = fitter.SetEnabled(true)
		case "off":
			err = fitter.SetEnabled(false)
		default:
			return fmt.Errorf("usage: fit [reset|on|off]")
		}
		if err != nil {
			return err
		}
	}

	st := fitter.Stats()
	fmt.Fprintf(s.out, "enabled=%t running=%t samples=%d fits=%d discarded=%d failures=%d resets=%d window=%d\n",
		fitter.Enabled(), fitter.Running(), st.Samples, st.Fits, st.Discarded, st.Failures, st.Resets, st.Window)
	if st.LastError != "" {
		fmt.Fprintf(s.out, "last error: %s\n", st.LastError)
	}
	if m := fitter.Model(); m != nil {
		fmt.Fprintf(s.out, "model: slope=%.9f drift=%.2fppm intercept=%.1fus samples=%d rejected=%d\n",
			m.Slope, m.DriftPPM(), m.InterceptUsec, m.Samples, m.Rejected)
	} else {
		fmt.Fprintln(s.out, "model: none")
	}
	return nil
}

func parseValue(t property.Type, s string) (property.Value, error) {
	switch t {
	case property.TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return property.Value{}, fmt.Errorf("invalid bool %q", s)
		}
		return property.BoolValue(b), nil
	case property.TypeInt:
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return property.Value{}, fmt.Errorf("invalid integer %q", s)
		}
		return property.IntValue(n), nil
	case property.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return property.Value{}, fmt.Errorf("invalid number %q", s)
		}
		return property.FloatValue(f), nil
	default:
		return property.Value{}, fmt.Errorf("%s properties cannot be set from the console", t)
	}
}

func formatValue(t property.Type, v property.Value) string {
	switch t {
	case property.TypeBool:
		return strconv.FormatBool(v.Bool())
	case property.TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return strconv.FormatInt(v.Int, 10)
	}
}
