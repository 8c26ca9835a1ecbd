package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/depthkit/devcore/pkg/log"
)

// replayFilter builds the event filter from the -replay-* flags.
func replayFilter(category, sensor, session string) (log.Filter, error) {
	f := log.Filter{Sensor: sensor, SessionID: session}
	if category != "" {
		c, ok := log.ParseCategory(strings.ToUpper(category))
		if !ok {
			return log.Filter{}, fmt.Errorf("unknown event category %q", category)
		}
		f.Category = &c
	}
	return f, nil
}

// runReplay prints the events of a device event log matching filter and
// returns the number printed.
func runReplay(path string, filter log.Filter, w io.Writer) (int, error) {
	r, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read %s: %w", path, err)
		}
		formatEvent(w, ev)
		n++
	}
	fmt.Fprintf(w, "%d events\n", n)
	return n, nil
}

// formatEvent writes one event as a header line plus payload details.
func formatEvent(w io.Writer, ev log.Event) {
	ts := ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	session := ev.SessionID
	if len(session) > 8 {
		session = session[:8]
	}
	fmt.Fprintf(w, "%s [%s] %s %s", ts, session, ev.Layer, ev.Category)
	if ev.Sensor != "" {
		fmt.Fprintf(w, " %s", ev.Sensor)
	}
	fmt.Fprintln(w)

	switch {
	case ev.Anomaly != nil:
		a := ev.Anomaly
		fmt.Fprintf(w, "  ts=%d prev=%d diff=%d threshold=%d", a.TimestampUsec, a.PreviousUsec, a.DiffUsec, a.ThresholdUsec)
		if a.Dropped {
			fmt.Fprint(w, " dropped")
		}
		fmt.Fprintln(w)
	case ev.ClockFit != nil:
		c := ev.ClockFit
		switch {
		case c.Reset:
			fmt.Fprintf(w, "  reset: %s\n", c.Reason)
		case c.Reason != "":
			fmt.Fprintf(w, "  discarded: %s\n", c.Reason)
		default:
			fmt.Fprintf(w, "  slope=%.9f drift=%.2fppm samples=%d rejected=%d\n",
				c.Slope, (c.Slope-1)*1e6, c.Samples, c.Rejected)
		}
	case ev.ClockSync != nil:
		c := ev.ClockSync
		if c.Success {
			fmt.Fprintf(w, "  synced host=%d attempts=%d\n", c.HostTimeUsec, c.Attempts)
		} else {
			fmt.Fprintf(w, "  failed after %d attempts: %s\n", c.Attempts, c.Error)
		}
	case ev.Stream != nil:
		s := ev.Stream
		fmt.Fprintf(w, "  %s", s.Action)
		if s.Fps > 0 {
			fmt.Fprintf(w, " fps=%d", s.Fps)
		}
		if s.FrameNumber > 0 {
			fmt.Fprintf(w, " frame=%d", s.FrameNumber)
		}
		if s.Reason != "" {
			fmt.Fprintf(w, " (%s)", s.Reason)
		}
		fmt.Fprintln(w)
	case ev.Property != nil:
		p := ev.Property
		fmt.Fprintf(w, "  %s %s", p.Op, p.Name)
		if p.Value != nil {
			fmt.Fprintf(w, " = %g", *p.Value)
		}
		if p.Size > 0 {
			fmt.Fprintf(w, " (%d bytes)", p.Size)
		}
		fmt.Fprintln(w)
	case ev.StateChange != nil:
		sc := ev.StateChange
		fmt.Fprintf(w, "  %s %s: ", sc.Entity, sc.Name)
		if sc.OldState != "" {
			fmt.Fprintf(w, "%s -> ", sc.OldState)
		}
		fmt.Fprint(w, sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(w, " (%s)", sc.Reason)
		}
		fmt.Fprintln(w)
	case ev.Error != nil:
		fmt.Fprintf(w, "  %s %s: %s\n", ev.Error.Kind, ev.Error.Context, ev.Error.Message)
	}
}
