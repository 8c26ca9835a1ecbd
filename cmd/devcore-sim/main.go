// Command devcore-sim runs the device core against a simulated camera.
//
// It builds a device from a model manifest, streams every sensor through
// the timestamp pipeline, keeps the host/device clock fit running and
// prints per-sensor statistics on exit.
//
// Usage:
//
//	devcore-sim [flags]
//
// Flags:
//
//	-model string      Model manifest: g330, gemini2 (default "g330")
//	-config string     Device config file (YAML)
//	-fw string         Simulated firmware version (default "1.5.40")
//	-serial string     Simulated serial number
//	-drift float       Simulated device clock drift in ppm (default 35)
//	-jump-every dur    Inject a depth timestamp jump at this interval (0 disables)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-event-log string  Write device events to this CBOR file
//	-diag-db string    Store device events in this SQLite database
//	-duration dur      Run time; 0 runs until interrupted (default 10s)
//	-interactive       Start the interactive console
//	-replay string     Print the events of a device event log and exit
//	-replay-category   Only replay events of this category, e.g. timestamp_anomaly
//	-replay-sensor     Only replay events of this sensor
//	-replay-session    Only replay events of this session id
//
// Examples:
//
//	# Stream a G330 for 30 seconds with diagnostics
//	devcore-sim -model g330 -duration 30s -diag-db /tmp/devcore.db
//
//	# Explore a Gemini 2 interactively
//	devcore-sim -model gemini2 -fw 1.3.0 -interactive
//
//	# Show the depth anomalies recorded in an event log
//	devcore-sim -replay run.dlog -replay-category timestamp_anomaly -replay-sensor depth
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/depthkit/devcore/cmd/devcore-sim/interactive"
	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/device"
	"github.com/depthkit/devcore/pkg/diag"
	"github.com/depthkit/devcore/pkg/log"
	"github.com/depthkit/devcore/pkg/simdevice"
	"github.com/depthkit/devcore/pkg/version"
)

// Config holds the command line settings.
type Config struct {
	Model       string
	ConfigFile  string
	Firmware    string
	Serial      string
	DriftPPM    float64
	JumpEvery   time.Duration
	LogLevel    string
	EventLog    string
	DiagDB      string
	Duration    time.Duration
	Interactive bool

	Replay         string
	ReplayCategory string
	ReplaySensor   string
	ReplaySession  string
}

var config Config

func init() {
	flag.StringVar(&config.Model, "model", "g330", "Model manifest: g330, gemini2")
	flag.StringVar(&config.ConfigFile, "config", "", "Device config file (YAML)")
	flag.StringVar(&config.Firmware, "fw", "1.5.40", "Simulated firmware version")
	flag.StringVar(&config.Serial, "serial", "", "Simulated serial number (auto-generated if empty)")
	flag.Float64Var(&config.DriftPPM, "drift", 35, "Simulated device clock drift in ppm")
	flag.DurationVar(&config.JumpEvery, "jump-every", 0, "Inject a depth timestamp jump at this interval (0 disables)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.EventLog, "event-log", "", "Write device events to this CBOR file")
	flag.StringVar(&config.DiagDB, "diag-db", "", "Store device events in this SQLite database")
	flag.DurationVar(&config.Duration, "duration", 10*time.Second, "Run time; 0 runs until interrupted")
	flag.BoolVar(&config.Interactive, "interactive", false, "Start the interactive console")
	flag.StringVar(&config.Replay, "replay", "", "Print the events of a device event log and exit")
	flag.StringVar(&config.ReplayCategory, "replay-category", "", "Only replay events of this category")
	flag.StringVar(&config.ReplaySensor, "replay-sensor", "", "Only replay events of this sensor")
	flag.StringVar(&config.ReplaySession, "replay-session", "", "Only replay events of this session id")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "devcore-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := validateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if config.Replay != "" {
		filter, err := replayFilter(config.ReplayCategory, config.ReplaySensor, config.ReplaySession)
		if err != nil {
			return err
		}
		_, err = runReplay(config.Replay, filter, os.Stdout)
		return err
	}
	applyDefaults()

	var console *interactive.Console
	var out io.Writer = os.Stdout
	if config.Interactive {
		var err error
		console, err = interactive.NewConsole()
		if err != nil {
			return err
		}
		out = console.Stdout()
	}
	logger := setupLogging(config.LogLevel, out)

	m, err := device.LoadModel(config.Model)
	if err != nil {
		return err
	}
	fw, err := version.Parse(config.Firmware)
	if err != nil {
		return err
	}

	devCfg := device.DefaultConfig()
	if config.ConfigFile != "" {
		if devCfg, err = device.LoadConfigFile(config.ConfigFile); err != nil {
			return err
		}
	}
	devCfg.Model = m.Name
	devCfg.Logger = logger

	eventLogger, closeEvents, err := setupEventLog(logger)
	if err != nil {
		return err
	}
	defer closeEvents()
	devCfg.EventLogger = eventLogger

	sim := simdevice.New(m, config.Serial, fw, clock.RealClock{})
	sim.Port().SetDeviceClock(uint64(time.Now().UnixMicro()) - 3_600_000_000)
	sim.Port().SetDrift(config.DriftPPM)

	dev, err := device.New(sim.Info, sim, devCfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Init(ctx); err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	for t, err := range dev.InitErrors() {
		logger.Warn("sensor unavailable", "sensor", t, "error", err)
	}
	if devCfg.StatePath != "" {
		if err := dev.RestoreState(ctx); err != nil {
			logger.Warn("restore state failed", "error", err)
		}
	}
	if err := dev.Start(ctx); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	logger.Info("device ready",
		"model", m.Name, "serial", sim.Info.Serial, "firmware", fw.String(), "session", dev.SessionID())

	runner := newSimulation(dev, sim, logger)
	if err := runner.startAll(ctx); err != nil {
		return err
	}
	if config.JumpEvery > 0 {
		go runner.injectJumps(ctx, config.JumpEvery)
	}

	if console != nil {
		console.Attach(dev, runner)
		console.Run(ctx, cancel)
	} else {
		waitForShutdown(ctx, config.Duration, logger)
	}

	runner.stopAll()
	runner.printReport(out)

	if devCfg.StatePath != "" {
		if err := dev.SaveState(); err != nil {
			logger.Warn("save state failed", "error", err)
		}
	}
	return nil
}

func validateConfig() error {
	if config.Duration < 0 {
		return fmt.Errorf("negative duration %v", config.Duration)
	}
	if config.JumpEvery < 0 {
		return fmt.Errorf("negative jump interval %v", config.JumpEvery)
	}
	if _, err := parseLevel(config.LogLevel); err != nil {
		return err
	}
	return nil
}

func applyDefaults() {
	if config.Serial == "" {
		config.Serial = fmt.Sprintf("SIM-%s-%04d", config.Model, time.Now().Unix()%10000)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

func setupLogging(level string, w io.Writer) *slog.Logger {
	lvl, _ := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}
	return slog.New(slog.NewTextHandler(w, opts))
}

// setupEventLog builds the event logger from the -event-log and -diag-db
// flags. The returned func closes whatever was opened.
func setupEventLog(logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	var closers []func() error

	if config.EventLog != "" {
		fl, err := log.NewFileLogger(config.EventLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open event log: %w", err)
		}
		loggers = append(loggers, fl)
		closers = append(closers, fl.Close)
		logger.Info("event log", "path", config.EventLog)
	}
	if config.DiagDB != "" {
		store, err := diag.NewStore(config.DiagDB)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("open diagnostics database: %w", err)
		}
		loggers = append(loggers, store)
		closers = append(closers, store.Close)
		logger.Info("diagnostics database", "path", config.DiagDB)
	}
	if config.LogLevel == "debug" {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	closeAll := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := errors.Join(errs...); err != nil {
			logger.Warn("closing event logs", "error", err)
		}
	}
	if len(loggers) == 0 {
		return nil, closeAll, nil
	}
	return log.NewMultiLogger(loggers...), closeAll, nil
}

func waitForShutdown(ctx context.Context, d time.Duration, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-timeout:
		logger.Info("run time elapsed", "duration", d)
	case <-ctx.Done():
	}
}
