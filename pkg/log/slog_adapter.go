package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes device events to an slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event at Debug level, or Warn for anomalies and errors.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.DeviceSerial != "" {
		attrs = append(attrs, slog.String("serial", event.DeviceSerial))
	}
	if event.Sensor != "" {
		attrs = append(attrs, slog.String("sensor", event.Sensor))
	}

	level := slog.LevelDebug
	switch {
	case event.Stream != nil:
		attrs = append(attrs, slog.String("action", event.Stream.Action))
		if event.Stream.Fps != 0 {
			attrs = append(attrs, slog.Uint64("fps", uint64(event.Stream.Fps)))
		}
		if event.Stream.FrameNumber != 0 {
			attrs = append(attrs, slog.Uint64("frame", event.Stream.FrameNumber))
		}
		if event.Stream.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Stream.Reason))
		}
	case event.Anomaly != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.Uint64("timestamp_us", event.Anomaly.TimestampUsec),
			slog.Uint64("previous_us", event.Anomaly.PreviousUsec),
			slog.Uint64("diff_us", event.Anomaly.DiffUsec),
			slog.Uint64("threshold_us", event.Anomaly.ThresholdUsec),
			slog.Bool("dropped", event.Anomaly.Dropped),
		)
	case event.ClockFit != nil:
		attrs = append(attrs,
			slog.Float64("slope", event.ClockFit.Slope),
			slog.Float64("intercept_us", event.ClockFit.InterceptUsec),
			slog.Int("samples", event.ClockFit.Samples),
			slog.Int("rejected", event.ClockFit.Rejected),
		)
		if event.ClockFit.Reset {
			attrs = append(attrs, slog.Bool("reset", true), slog.String("reason", event.ClockFit.Reason))
		}
	case event.ClockSync != nil:
		attrs = append(attrs,
			slog.Uint64("host_time_us", event.ClockSync.HostTimeUsec),
			slog.Int("attempts", event.ClockSync.Attempts),
			slog.Bool("success", event.ClockSync.Success),
		)
		if !event.ClockSync.Success {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", event.ClockSync.Error))
		}
	case event.Property != nil:
		attrs = append(attrs,
			slog.Uint64("property", uint64(event.Property.PropertyID)),
			slog.String("op", event.Property.Op),
		)
		if event.Property.Name != "" {
			attrs = append(attrs, slog.String("name", event.Property.Name))
		}
		if event.Property.Value != nil {
			attrs = append(attrs, slog.Float64("value", *event.Property.Value))
		}
		if event.Property.Error != "" {
			attrs = append(attrs, slog.String("error", event.Property.Error))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("name", event.StateChange.Name),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Kind != "" {
			attrs = append(attrs, slog.String("error_kind", event.Error.Kind))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "device event", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
