package log

import (
	"testing"
	"time"
)

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{Timestamp: time.Now(), Category: CategoryClockSync})
	m.Log(Event{Timestamp: time.Now(), Category: CategoryClockFit})

	if len(a.Events()) != 2 || len(b.Events()) != 2 {
		t.Errorf("a=%d b=%d events, want 2 each", len(a.Events()), len(b.Events()))
	}
	if a.Count(CategoryClockSync) != 1 {
		t.Errorf("Count(ClockSync) = %d, want 1", a.Count(CategoryClockSync))
	}
	a.Reset()
	if len(a.Events()) != 0 {
		t.Error("Reset did not clear events")
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Log(Event{})
}
