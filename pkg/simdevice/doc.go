// Package simdevice provides a simulated camera for tests and the
// devcore-sim tool.
//
// A Provider implements device.PortProvider. Its Port holds a property
// table seeded from a model manifest and a device clock that drifts
// against the host clock. Its FrameSources stamp frames from that device
// clock. Failures, latency, clock jumps and missing metadata can be
// injected.
package simdevice
