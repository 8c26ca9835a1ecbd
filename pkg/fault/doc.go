// Package fault defines the error taxonomy shared by the device core.
//
// Every failure surfaced by the registry, the property layer and the timing
// components belongs to one Kind. Callers test for a kind with errors.Is
// against the matching sentinel:
//
//	if errors.Is(err, fault.ErrPermissionDenied) {
//	    // access level too low
//	}
//
// # Kinds
//
//   - Configuration: unknown or duplicate ids, type mismatches, unsupported
//     sync modes. Not retried.
//   - PermissionDenied: property access below the required level.
//   - UnsupportedProperty / UnsupportedOperation: unknown property id, or an
//     accessor lacking the requested capability.
//   - TransientIO: accessor-level I/O failure. Retried with backoff by the
//     component that owns the operation.
//   - TimestampAnomaly: per-frame, recoverable by design.
//   - MissingMetadata: a frame lacks the metadata field a calculator needs.
//   - FatalInit: a required component failed to construct.
//   - SyncFailed: clock synchronization exhausted its retries.
//   - Busy: the operation conflicts with an active stream.
package fault
