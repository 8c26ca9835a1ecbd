// Package persistence saves device runtime state that should survive an SDK
// restart: the multi-device sync configuration and the values of SDK-side
// properties.
//
// State is stored as JSON and replaced atomically on save. Calibration and
// firmware-held values are never persisted here; they live on the device.
package persistence
