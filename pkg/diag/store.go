package diag

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/depthkit/devcore/pkg/log"
)

// DefaultQueueSize is the number of events buffered between Log and the
// database writer.
const DefaultQueueSize = 1024

// ErrClosed is returned by queries on a closed store.
var ErrClosed = errors.New("diagnostics store closed")

// Store persists device events to SQLite. It implements log.Logger; Log
// queues the event and a background writer inserts it, so frame delivery
// never waits on the database. Events that do not fit the queue are
// counted as dropped.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	queue   chan item
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type item struct {
	event log.Event
	flush chan struct{}
}

// NewStore opens the database at dbPath and starts the writer.
// Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	return NewStoreSize(dbPath, DefaultQueueSize)
}

// NewStoreSize is NewStore with an explicit queue size.
func NewStoreSize(dbPath string, queueSize int) (*Store, error) {
	if queueSize < 1 {
		return nil, fmt.Errorf("invalid queue size %d", queueSize)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{
		db:    db,
		queue: make(chan item, queueSize),
		done:  make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	go s.writer()
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at DATETIME NOT NULL,
		session_id TEXT NOT NULL,
		serial TEXT,
		layer TEXT NOT NULL,
		category TEXT NOT NULL,
		sensor TEXT,
		payload BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS anomalies (
		event_id INTEGER PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
		sensor TEXT NOT NULL,
		timestamp_us INTEGER NOT NULL,
		previous_us INTEGER NOT NULL,
		diff_us INTEGER NOT NULL,
		threshold_us INTEGER NOT NULL,
		dropped INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS clock_fits (
		event_id INTEGER PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
		slope REAL,
		intercept_us REAL,
		fitted_at_host_us INTEGER,
		samples INTEGER,
		rejected INTEGER,
		reset INTEGER NOT NULL DEFAULT 0,
		reason TEXT
	);

	CREATE TABLE IF NOT EXISTS clock_syncs (
		event_id INTEGER PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
		host_time_us INTEGER,
		attempts INTEGER,
		success INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_anomalies_sensor ON anomalies(sensor);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Log queues an event for insertion. It never blocks.
func (s *Store) Log(event log.Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- item{event: event}:
	default:
		s.dropped.Add(1)
	}
}

// Flush waits until every event queued before the call is written.
func (s *Store) Flush() {
	if s.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case s.queue <- item{flush: done}:
	case <-s.done:
		return
	}
	select {
	case <-done:
	case <-s.done:
	}
}

// Dropped returns the number of events discarded because the queue was
// full.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Failed returns the number of events the database rejected.
func (s *Store) Failed() uint64 { return s.failed.Load() }

// Close drains the queue, stops the writer and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.Flush()
		s.closed.Store(true)
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		err = s.db.Close()
	})
	return err
}

func (s *Store) writer() {
	for {
		select {
		case <-s.done:
			return
		case it := <-s.queue:
			if it.flush != nil {
				close(it.flush)
				continue
			}
			if err := s.insert(it.event); err != nil {
				s.failed.Add(1)
			}
		}
	}
}

func (s *Store) insert(ev log.Event) error {
	payload, err := log.EncodeEvent(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO events (at, session_id, serial, layer, category, sensor, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Timestamp.UTC(), ev.SessionID, ev.DeviceSerial, ev.Layer.String(), ev.Category.String(), ev.Sensor, payload)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	switch {
	case ev.Anomaly != nil:
		a := ev.Anomaly
		_, err = tx.Exec(`
			INSERT INTO anomalies (event_id, sensor, timestamp_us, previous_us, diff_us, threshold_us, dropped)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, ev.Sensor, int64(a.TimestampUsec), int64(a.PreviousUsec), int64(a.DiffUsec), int64(a.ThresholdUsec), a.Dropped)
	case ev.ClockFit != nil:
		f := ev.ClockFit
		_, err = tx.Exec(`
			INSERT INTO clock_fits (event_id, slope, intercept_us, fitted_at_host_us, samples, rejected, reset, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, f.Slope, f.InterceptUsec, int64(f.FittedAtHostUsec), f.Samples, f.Rejected, f.Reset, f.Reason)
	case ev.ClockSync != nil:
		c := ev.ClockSync
		_, err = tx.Exec(`
			INSERT INTO clock_syncs (event_id, host_time_us, attempts, success, error)
			VALUES (?, ?, ?, ?, ?)
		`, id, int64(c.HostTimeUsec), c.Attempts, c.Success, c.Error)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

var _ log.Logger = (*Store)(nil)

// ensureOpen must be called with s.mu held.
func (s *Store) ensureOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// sinceArg converts a zero time to the epoch so it matches every row.
func sinceArg(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}
