// Package timestamp turns per-frame device timestamps into validated,
// globally comparable host-domain timestamps.
//
// Each sensor runs three stages on its delivery goroutine:
//
//	MetadataCalculator  frame metadata ticks -> device microseconds
//	AnomalyDetector     rejects jumps larger than ~10 frame intervals
//	GlobalCalculator    device microseconds -> host microseconds
//
// The stages keep only per-sensor state and perform no I/O. The device-wide
// GlobalFitter samples (device, host) clock pairs on its own goroutine and
// publishes a Model atomically; GlobalCalculator reads the latest Model
// snapshot and falls back to the device timestamp while none exists.
//
// All timestamps are microseconds. Zero means unknown.
package timestamp
