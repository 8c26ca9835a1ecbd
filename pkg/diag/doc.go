// Package diag stores device events in SQLite for later inspection.
//
// A Store is a log.Logger, so it can sit next to a FileLogger behind a
// log.MultiLogger:
//
//	store, err := diag.NewStore("devcore.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//	cfg.EventLogger = log.NewMultiLogger(fileLogger, store)
//
// Timestamp anomalies, clock fits and clock syncs are additionally
// written to typed tables backing AnomalyCounts, ClockFits and
// SyncFailures.
package diag
