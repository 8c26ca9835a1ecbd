package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindPermissionDenied
	KindUnsupportedProperty
	KindUnsupportedOperation
	KindTransientIO
	KindTimestampAnomaly
	KindMissingMetadata
	KindFatalInit
	KindUnsupportedMode
	KindSyncFailed
	KindBusy
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "CONFIGURATION"
	case KindPermissionDenied:
		return "PERMISSION_DENIED"
	case KindUnsupportedProperty:
		return "UNSUPPORTED_PROPERTY"
	case KindUnsupportedOperation:
		return "UNSUPPORTED_OPERATION"
	case KindTransientIO:
		return "TRANSIENT_IO"
	case KindTimestampAnomaly:
		return "TIMESTAMP_ANOMALY"
	case KindMissingMetadata:
		return "MISSING_METADATA"
	case KindFatalInit:
		return "FATAL_INIT"
	case KindUnsupportedMode:
		return "UNSUPPORTED_MODE"
	case KindSyncFailed:
		return "SYNC_FAILED"
	case KindBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// Sentinels, one per kind.
var (
	ErrConfiguration        = &kindError{KindConfiguration, "configuration error"}
	ErrPermissionDenied     = &kindError{KindPermissionDenied, "permission denied"}
	ErrUnsupportedProperty  = &kindError{KindUnsupportedProperty, "unsupported property"}
	ErrUnsupportedOperation = &kindError{KindUnsupportedOperation, "unsupported operation"}
	ErrTransientIO          = &kindError{KindTransientIO, "transient I/O error"}
	ErrTimestampAnomaly     = &kindError{KindTimestampAnomaly, "timestamp anomaly"}
	ErrMissingMetadata      = &kindError{KindMissingMetadata, "missing metadata"}
	ErrFatalInit            = &kindError{KindFatalInit, "fatal initialization error"}
	ErrSyncFailed           = &kindError{KindSyncFailed, "clock synchronization failed"}
	ErrBusy                 = &kindError{KindBusy, "busy"}

	// ErrUnsupportedMode is a configuration error; it matches both its own
	// sentinel and ErrConfiguration.
	ErrUnsupportedMode = &kindError{KindUnsupportedMode, "unsupported sync mode"}
)

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool {
	if e.kind == KindUnsupportedMode && target == ErrConfiguration {
		return true
	}
	return false
}

// Error is an error carrying a Kind, the failing operation and its subject.
type Error struct {
	Kind Kind

	// Op is the operation that failed, e.g. "GetPropertyValue".
	Op string

	// Subject names what the operation acted on (property, component, sensor).
	Subject string

	// Err is the underlying cause, may be nil.
	Err error
}

// New creates an *Error.
func New(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s := sentinel(e.Kind); s != nil {
		msg = s.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e.Kind.
func (e *Error) Is(target error) bool {
	s := sentinel(e.Kind)
	if s == nil {
		return false
	}
	return target == s || s.Is(target)
}

func sentinel(k Kind) *kindError {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindUnsupportedProperty:
		return ErrUnsupportedProperty
	case KindUnsupportedOperation:
		return ErrUnsupportedOperation
	case KindTransientIO:
		return ErrTransientIO
	case KindTimestampAnomaly:
		return ErrTimestampAnomaly
	case KindMissingMetadata:
		return ErrMissingMetadata
	case KindFatalInit:
		return ErrFatalInit
	case KindUnsupportedMode:
		return ErrUnsupportedMode
	case KindSyncFailed:
		return ErrSyncFailed
	case KindBusy:
		return ErrBusy
	default:
		return nil
	}
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Transient wraps err as a TransientIO error.
func Transient(op string, err error) error {
	return New(KindTransientIO, op, "", err)
}

// Configf returns a Configuration error with a formatted cause.
func Configf(op, subject, format string, args ...any) error {
	return New(KindConfiguration, op, subject, fmt.Errorf(format, args...))
}
