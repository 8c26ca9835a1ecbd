package diag

import (
	"database/sql"
	"time"

	"github.com/depthkit/devcore/pkg/log"
)

// ClockFit is one published, discarded or reset clock model.
type ClockFit struct {
	At               time.Time
	SessionID        string
	Slope            float64
	InterceptUsec    float64
	FittedAtHostUsec uint64
	Samples          int
	Rejected         int
	Reset            bool
	Reason           string
}

// Published reports whether the row describes a usable model.
func (f ClockFit) Published() bool {
	return !f.Reset && f.Reason == "" && f.Samples > 0
}

// SyncAttempt is one device clock set attempt.
type SyncAttempt struct {
	At           time.Time
	SessionID    string
	Serial       string
	HostTimeUsec uint64
	Attempts     int
	Success      bool
	Error        string
}

// Count returns the number of stored events in category c.
func (s *Store) Count(c log.Category) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE category = ?`, c.String()).Scan(&n)
	return n, err
}

// AnomalyCounts returns the number of timestamp anomalies per sensor.
// An empty session counts every session.
func (s *Store) AnomalyCounts(session string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT a.sensor, COUNT(*)
		FROM anomalies a JOIN events e ON e.id = a.event_id
		WHERE ? = '' OR e.session_id = ?
		GROUP BY a.sensor
	`, session, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var sensor string
		var n int
		if err := rows.Scan(&sensor, &n); err != nil {
			return nil, err
		}
		out[sensor] = n
	}
	return out, rows.Err()
}

// ClockFits returns up to limit clock fit rows, most recent first.
func (s *Store) ClockFits(limit int) ([]ClockFit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT e.at, e.session_id, f.slope, f.intercept_us, f.fitted_at_host_us,
		       f.samples, f.rejected, f.reset, f.reason
		FROM clock_fits f JOIN events e ON e.id = f.event_id
		ORDER BY e.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fits []ClockFit
	for rows.Next() {
		var f ClockFit
		var fittedAt int64
		var reason sql.NullString
		if err := rows.Scan(&f.At, &f.SessionID, &f.Slope, &f.InterceptUsec, &fittedAt,
			&f.Samples, &f.Rejected, &f.Reset, &reason); err != nil {
			return nil, err
		}
		f.FittedAtHostUsec = uint64(fittedAt)
		f.Reason = reason.String
		fits = append(fits, f)
	}
	return fits, rows.Err()
}

// SyncFailures returns failed clock sync attempts at or after since,
// oldest first. A zero since returns all of them.
func (s *Store) SyncFailures(since time.Time) ([]SyncAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT e.at, e.session_id, e.serial, c.host_time_us, c.attempts, c.success, c.error
		FROM clock_syncs c JOIN events e ON e.id = c.event_id
		WHERE c.success = 0 AND e.at >= ?
		ORDER BY e.id ASC
	`, sinceArg(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncAttempt
	for rows.Next() {
		var a SyncAttempt
		var serial, errMsg sql.NullString
		var host int64
		if err := rows.Scan(&a.At, &a.SessionID, &serial, &host, &a.Attempts, &a.Success, &errMsg); err != nil {
			return nil, err
		}
		a.Serial = serial.String
		a.HostTimeUsec = uint64(host)
		a.Error = errMsg.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Events returns the stored events of category c, oldest first, decoded
// from their CBOR payload. limit <= 0 returns all of them.
func (s *Store) Events(c log.Category, limit int) ([]log.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT payload FROM events WHERE category = ? ORDER BY id ASC LIMIT ?
	`, c.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []log.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		ev, err := log.DecodeEvent(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
