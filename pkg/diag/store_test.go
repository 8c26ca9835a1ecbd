package diag

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/log"
)

var base = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func anomaly(session, sensor string, at time.Time) log.Event {
	return log.Event{
		Timestamp: at,
		SessionID: session,
		Layer:     log.LayerTiming,
		Category:  log.CategoryTimestampAnomaly,
		Sensor:    sensor,
		Anomaly: &log.AnomalyEvent{
			TimestampUsec: 9_000_000,
			PreviousUsec:  3000,
			DiffUsec:      8_997_000,
			ThresholdUsec: 5_000_000,
		},
	}
}

func syncEvent(at time.Time, ok bool, msg string) log.Event {
	return log.Event{
		Timestamp:    at,
		SessionID:    "s1",
		DeviceSerial: "SN1",
		Layer:        log.LayerTiming,
		Category:     log.CategoryClockSync,
		ClockSync:    &log.ClockSyncEvent{HostTimeUsec: uint64(at.UnixMicro()), Attempts: 3, Success: ok, Error: msg},
	}
}

func TestStoreAnomalyCounts(t *testing.T) {
	s := newStore(t)

	s.Log(anomaly("s1", "depth", base))
	s.Log(anomaly("s1", "depth", base.Add(time.Second)))
	s.Log(anomaly("s1", "color", base.Add(2*time.Second)))
	s.Log(anomaly("s2", "depth", base.Add(3*time.Second)))
	s.Log(log.Event{Timestamp: base, SessionID: "s1", Category: log.CategoryStream, Sensor: "depth",
		Stream: &log.StreamEvent{Action: "start", Fps: 30}})
	s.Flush()

	all, err := s.AnomalyCounts("")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"depth": 3, "color": 1}, all)

	s1, err := s.AnomalyCounts("s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"depth": 2, "color": 1}, s1)

	n, err := s.Count(log.CategoryTimestampAnomaly)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = s.Count(log.CategoryStream)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreClockFits(t *testing.T) {
	s := newStore(t)

	s.Log(log.Event{Timestamp: base, SessionID: "s1", Category: log.CategoryClockFit,
		ClockFit: &log.ClockFitEvent{Slope: 1.00005, InterceptUsec: 12.5, FittedAtHostUsec: 42, Samples: 8, Rejected: 1}})
	s.Log(log.Event{Timestamp: base.Add(time.Second), SessionID: "s1", Category: log.CategoryClockFit,
		ClockFit: &log.ClockFitEvent{Reset: true, Reason: "reset"}})
	s.Flush()

	fits, err := s.ClockFits(0)
	require.NoError(t, err)
	require.Len(t, fits, 2)

	assert.True(t, fits[0].Reset)
	assert.Equal(t, "reset", fits[0].Reason)
	assert.False(t, fits[0].Published())

	assert.InDelta(t, 1.00005, fits[1].Slope, 1e-12)
	assert.Equal(t, uint64(42), fits[1].FittedAtHostUsec)
	assert.Equal(t, 8, fits[1].Samples)
	assert.Equal(t, 1, fits[1].Rejected)
	assert.True(t, fits[1].Published())
	assert.True(t, fits[1].At.Equal(base))

	latest, err := s.ClockFits(1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestStoreSyncFailures(t *testing.T) {
	s := newStore(t)

	s.Log(syncEvent(base, false, "timeout"))
	s.Log(syncEvent(base.Add(time.Minute), true, ""))
	s.Log(syncEvent(base.Add(2*time.Minute), false, "busy"))
	s.Flush()

	failures, err := s.SyncFailures(time.Time{})
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "timeout", failures[0].Error)
	assert.Equal(t, "SN1", failures[0].Serial)
	assert.Equal(t, 3, failures[0].Attempts)
	assert.False(t, failures[0].Success)

	recent, err := s.SyncFailures(base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "busy", recent[0].Error)
}

func TestStoreEventsRoundTrip(t *testing.T) {
	s := newStore(t)
	in := anomaly("s1", "ir_left", base)
	in.Anomaly.Dropped = true
	s.Log(in)
	s.Flush()

	events, err := s.Events(log.CategoryTimestampAnomaly, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ir_left", events[0].Sensor)
	require.NotNil(t, events[0].Anomaly)
	assert.True(t, events[0].Anomaly.Dropped)
	assert.Equal(t, uint64(5_000_000), events[0].Anomaly.ThresholdUsec)
}

func TestStoreQueueFull(t *testing.T) {
	s, err := NewStoreSize(":memory:", 1)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 200; i++ {
		s.Log(anomaly("s1", "depth", base.Add(time.Duration(i)*time.Millisecond)))
	}
	s.Flush()

	n, err := s.Count(log.CategoryTimestampAnomaly)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), uint64(n)+s.Dropped())
	assert.Zero(t, s.Failed())

	_, err = NewStoreSize(":memory:", 0)
	assert.Error(t, err)
}

func TestStoreClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.db")
	s, err := NewStore(path)
	require.NoError(t, err)

	s.Log(anomaly("s1", "depth", base))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s.Log(anomaly("s1", "depth", base))
	s.Flush()
	_, err = s.Count(log.CategoryTimestampAnomaly)
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count(log.CategoryTimestampAnomaly)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "close drains queued events")
}

func TestStoreAsEventLogger(t *testing.T) {
	s := newStore(t)
	em := log.NewEmitter(log.NewMultiLogger(&log.Recorder{}, s), "SN9", nil)
	em.Error(log.LayerDevice, "color", "FATAL_INIT", "sensor init", assert.AnError)
	s.Flush()

	events, err := s.Events(log.CategoryError, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "SN9", events[0].DeviceSerial)
	assert.Equal(t, em.SessionID(), events[0].SessionID)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, "FATAL_INIT", events[0].Error.Kind)
}
