// Package log provides the structured device event log.
//
// It is separate from operational logging (slog): the event log is a
// machine-readable trace of what a device session did to its timestamps,
// clocks, and properties, intended for offline analysis of timing problems.
//
// # Basic Usage
//
// Components emit events through an Emitter, which stamps each event with the
// session ID and device serial:
//
//	// For development: log to console via slog
//	sink := log.NewSlogAdapter(slog.Default())
//
//	// For capture: write to a binary file
//	sink, _ := log.NewFileLogger("/var/log/devcore/session.dlog")
//
//	// Both: use MultiLogger
//	sink := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fileLogger)
//
//	em := log.NewEmitter(sink, "CP1234567", nil)
//
// # Event Types
//
//   - Stream: sensor stream start/stop (StreamEvent)
//   - TimestampAnomaly: rejected frame timestamp deltas (AnomalyEvent)
//   - MissingTimestamp: frames lacking the timestamp metadata field (StreamEvent)
//   - ClockFit: published or reset device-to-host clock models (ClockFitEvent)
//   - ClockSync: device clock set attempts (ClockSyncEvent)
//   - Property: property reads and writes (PropertyEvent)
//   - Component: registry and sensor lifecycle (StateChangeEvent)
//   - Error: failures at any layer (ErrorEventData)
//
// # File Format
//
// Log files hold a sequence of CBOR-encoded events with integer keys and use
// the .dlog extension. Reader streams them back with optional filtering.
package log
