package log

import (
	"github.com/google/uuid"

	"github.com/depthkit/devcore/pkg/clock"
)

// Emitter stamps events with the session ID, device serial, and host time
// before passing them to a Logger. A nil *Emitter discards events.
type Emitter struct {
	logger    Logger
	sessionID string
	serial    string
	clock     clock.Clock
}

// NewEmitter creates an Emitter with a fresh session ID. A nil logger
// yields an Emitter that discards events; a nil clk uses the real clock.
func NewEmitter(logger Logger, serial string, clk clock.Clock) *Emitter {
	if logger == nil {
		logger = NoopLogger{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Emitter{
		logger:    logger,
		sessionID: uuid.NewString(),
		serial:    serial,
		clock:     clk,
	}
}

// SessionID returns the session ID stamped on events.
func (e *Emitter) SessionID() string {
	if e == nil {
		return ""
	}
	return e.sessionID
}

// Emit fills in the common fields and logs the event.
func (e *Emitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock.Now()
	}
	event.SessionID = e.sessionID
	if event.DeviceSerial == "" {
		event.DeviceSerial = e.serial
	}
	e.logger.Log(event)
}

// Error emits an Error event.
func (e *Emitter) Error(layer Layer, sensor, kind, context string, err error) {
	if e == nil || err == nil {
		return
	}
	e.Emit(Event{
		Layer:    layer,
		Category: CategoryError,
		Sensor:   sensor,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Kind:    kind,
			Context: context,
		},
	})
}
