package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxEventSize bounds a single encoded event. Raw property payloads are not
// logged, so real events stay far below it.
const MaxEventSize = 64 << 10

// Device events use integer keys and canonical ordering so identical events
// encode to identical bytes, which keeps .dlog files diffable.
var (
	eventEnc = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
	})
	eventDec = mustDecMode(cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  8,
		MaxArrayElements: 1024,
		MaxMapPairs:      64,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("device event encoder: %v", err))
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("device event decoder: %v", err))
	}
	return m
}

// EncodeEvent returns the CBOR form of ev.
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := eventEnc.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Category, err)
	}
	if len(data) > MaxEventSize {
		return nil, fmt.Errorf("encode %s event: %d bytes exceeds limit", ev.Category, len(data))
	}
	return data, nil
}

// DecodeEvent parses one CBOR-encoded event.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) > MaxEventSize {
		return Event{}, fmt.Errorf("decode event: %d bytes exceeds limit", len(data))
	}
	var ev Event
	if err := eventDec.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// NewEncoder returns a stream encoder for events written to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return eventEnc.NewEncoder(w)
}

// NewDecoder returns a stream decoder for events read from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return eventDec.NewDecoder(r)
}
