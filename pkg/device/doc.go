// Package device assembles the components of one connected camera.
//
// A Device owns a component registry. New registers lazy slots for the
// vendor accessor, the property server, the sync configurator, the clock
// synchronizer, the global timestamp fitter and one slot per sensor of the
// model. Factories reach each other through the registry, so a component
// is built the first time anything asks for it:
//
//	dev, err := device.New(info, ports, device.DefaultConfig())
//	if err != nil { ... }
//	if err := dev.Init(ctx); err != nil { ... }
//	depth, err := dev.Sensor(frame.SensorDepth)
//	depth.Start(ctx, 30, func(f *frame.VideoFrame) { ... })
//
// The property table of a model comes from an embedded YAML manifest
// (models/*.yaml). Rows are gated on firmware version; a later row for the
// same property replaces an earlier one. Manifests also declare aliases
// and access callbacks.
//
// Transport is outside the package: a PortProvider supplies the vendor
// command port and one StreamPort per sensor.
package device
