// Package property implements the permissioned property layer of a device.
//
// All device configuration and calibration flows through a Server. Each
// property is registered with an accessor and two permission strings, one
// for the user access level (the application) and one for the internal
// access level (SDK components acting on the device's behalf):
//
//	srv.RegisterProperty(property.DepthGainInt, "rw", "rw", vendor)
//	srv.RegisterProperty(property.DeviceTimeStruct, "", "rw", vendor)
//	srv.AliasProperty(property.IRGainInt, property.DepthGainInt)
//
// Accessors implement any subset of the capability interfaces (ValueGetter,
// ValueSetter, RangeGetter, StructureGetter, StructureSetter,
// RawDataGetter). An operation whose capability is missing fails with
// fault.ErrUnsupportedOperation.
//
// # Concurrency
//
// Each property has its own RWMutex: reads of a property run concurrently,
// writes are serialized. Access callbacks run on the calling goroutine after
// the lock is released. A callback may access the property it is notified
// for; the nested notification is suppressed when the callback passes its
// context through.
package property
