package log

import "time"

// Event represents a device log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp is the host time at which the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the device session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// DeviceSerial is the serial number of the device, if known.
	DeviceSerial string `cbor:"5,keyasint,omitempty"`

	// Sensor names the sensor the event belongs to, if any.
	Sensor string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Stream      *StreamEvent      `cbor:"10,keyasint,omitempty"`
	Anomaly     *AnomalyEvent     `cbor:"11,keyasint,omitempty"`
	ClockFit    *ClockFitEvent    `cbor:"12,keyasint,omitempty"`
	ClockSync   *ClockSyncEvent   `cbor:"13,keyasint,omitempty"`
	Property    *PropertyEvent    `cbor:"14,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"15,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"16,keyasint,omitempty"`
}

// Layer indicates which part of the device stack captured the event.
type Layer uint8

const (
	// LayerTransport is the vendor port layer.
	LayerTransport Layer = 0
	// LayerProperty is the property server and its accessors.
	LayerProperty Layer = 1
	// LayerTiming is the timestamp pipeline and clock components.
	LayerTiming Layer = 2
	// LayerDevice is device assembly and sensor lifecycle.
	LayerDevice Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProperty:
		return "PROPERTY"
	case LayerTiming:
		return "TIMING"
	case LayerDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryStream           Category = 0
	CategoryTimestampAnomaly Category = 1
	CategoryMissingTimestamp Category = 2
	CategoryClockFit         Category = 3
	CategoryClockSync        Category = 4
	CategoryProperty         Category = 5
	CategoryComponent        Category = 6
	CategoryError            Category = 7
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryStream:
		return "STREAM"
	case CategoryTimestampAnomaly:
		return "TIMESTAMP_ANOMALY"
	case CategoryMissingTimestamp:
		return "MISSING_TIMESTAMP"
	case CategoryClockFit:
		return "CLOCK_FIT"
	case CategoryClockSync:
		return "CLOCK_SYNC"
	case CategoryProperty:
		return "PROPERTY"
	case CategoryComponent:
		return "COMPONENT"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name as returned by String.
func ParseCategory(s string) (Category, bool) {
	for c := CategoryStream; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// StreamEvent captures sensor stream lifecycle and per-frame conditions.
type StreamEvent struct {
	// Action is "start", "stop" or "frame".
	Action string `cbor:"1,keyasint"`

	// Fps is the configured frame rate.
	Fps uint32 `cbor:"2,keyasint,omitempty"`

	// FrameNumber is the frame the event refers to.
	FrameNumber uint64 `cbor:"3,keyasint,omitempty"`

	// Reason carries additional detail, e.g. the missing metadata field.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// AnomalyEvent captures a rejected frame timestamp delta.
type AnomalyEvent struct {
	TimestampUsec uint64 `cbor:"1,keyasint"`
	PreviousUsec  uint64 `cbor:"2,keyasint"`
	DiffUsec      uint64 `cbor:"3,keyasint"`
	ThresholdUsec uint64 `cbor:"4,keyasint"`

	// Dropped indicates the frame was discarded.
	Dropped bool `cbor:"5,keyasint,omitempty"`
}

// ClockFitEvent captures a published or discarded clock model.
type ClockFitEvent struct {
	Slope            float64 `cbor:"1,keyasint"`
	InterceptUsec    float64 `cbor:"2,keyasint"`
	FittedAtHostUsec uint64  `cbor:"3,keyasint"`

	// Samples is the number of samples used in the fit.
	Samples int `cbor:"4,keyasint"`

	// Rejected is the number of samples discarded as outliers.
	Rejected int `cbor:"5,keyasint,omitempty"`

	// Reset indicates the sample window was discarded.
	Reset bool `cbor:"6,keyasint,omitempty"`

	Reason string `cbor:"7,keyasint,omitempty"`
}

// ClockSyncEvent captures a device clock set attempt.
type ClockSyncEvent struct {
	HostTimeUsec uint64 `cbor:"1,keyasint"`
	Attempts     int    `cbor:"2,keyasint"`
	Success      bool   `cbor:"3,keyasint"`
	Error        string `cbor:"4,keyasint,omitempty"`
}

// PropertyEvent captures a property operation.
type PropertyEvent struct {
	PropertyID uint32 `cbor:"1,keyasint"`
	Name       string `cbor:"2,keyasint,omitempty"`

	// Op is "read" or "write".
	Op string `cbor:"3,keyasint"`

	// Level is the access level of the caller.
	Level string `cbor:"4,keyasint,omitempty"`

	// Value is the scalar value read or written, when applicable.
	Value *float64 `cbor:"5,keyasint,omitempty"`

	// Size is the structure or raw data length in bytes.
	Size int `cbor:"6,keyasint,omitempty"`

	Error string `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures component and sensor lifecycle changes.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// Name identifies the entity, e.g. a component id.
	Name string `cbor:"2,keyasint,omitempty"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"3,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"4,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityComponent indicates a registry slot change.
	StateEntityComponent StateEntity = 0
	// StateEntitySensor indicates a sensor stream change.
	StateEntitySensor StateEntity = 1
	// StateEntityDevice indicates a device lifecycle change.
	StateEntityDevice StateEntity = 2
	// StateEntitySync indicates a sync configuration change.
	StateEntitySync StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityComponent:
		return "COMPONENT"
	case StateEntitySensor:
		return "SENSOR"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntitySync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the error kind name, e.g. "TRANSIENT_IO".
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
