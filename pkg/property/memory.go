package property

import (
	"context"
	"fmt"
	"sync"

	"github.com/depthkit/devcore/pkg/fault"
)

// ErrOutOfRange is returned when a written value lies outside its range.
var ErrOutOfRange = fmt.Errorf("%w: value out of range", fault.ErrConfiguration)

// MemoryAccessor holds SDK-side scalar properties in memory, validating
// writes against each property's range.
type MemoryAccessor struct {
	mu     sync.RWMutex
	ranges map[ID]Range
	values map[ID]Value

	// onChange is called after a successful write, outside the lock.
	onChange func(id ID, v Value)
}

// NewMemoryAccessor creates an empty MemoryAccessor.
func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{
		ranges: make(map[ID]Range),
		values: make(map[ID]Value),
	}
}

// Define adds id with range r and sets it to r.Default.
func (a *MemoryAccessor) Define(id ID, r Range) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ranges[id] = r
	a.values[id] = r.Default
}

// OnChange sets a function called after each successful write.
func (a *MemoryAccessor) OnChange(fn func(id ID, v Value)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Snapshot returns the current values.
func (a *MemoryAccessor) Snapshot() map[ID]Value {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[ID]Value, len(a.values))
	for id, v := range a.values {
		out[id] = v
	}
	return out
}

func (a *MemoryAccessor) GetValue(_ context.Context, id ID) (Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[id]
	if !ok {
		return Value{}, fault.New(fault.KindUnsupportedProperty, "GetValue", id.String(), nil)
	}
	return v, nil
}

func (a *MemoryAccessor) SetValue(_ context.Context, id ID, v Value) error {
	a.mu.Lock()
	r, ok := a.ranges[id]
	if !ok {
		a.mu.Unlock()
		return fault.New(fault.KindUnsupportedProperty, "SetValue", id.String(), nil)
	}
	t := id.Type()
	v = normalize(t, v)
	if !r.Contains(t, v) {
		a.mu.Unlock()
		return fault.New(fault.KindConfiguration, "SetValue", id.String(),
			fmt.Errorf("%w: %v not within [%v, %v]", ErrOutOfRange, v.Number(t), r.Min.Number(t), r.Max.Number(t)))
	}
	a.values[id] = v
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn(id, v)
	}
	return nil
}

func (a *MemoryAccessor) GetRange(_ context.Context, id ID) (Range, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.ranges[id]
	if !ok {
		return Range{}, fault.New(fault.KindUnsupportedProperty, "GetRange", id.String(), nil)
	}
	r.Current = a.values[id]
	return r, nil
}

// BoolRange is the range of a boolean property with the given default.
func BoolRange(def bool) Range {
	return Range{Min: IntValue(0), Max: IntValue(1), Step: IntValue(1), Default: BoolValue(def)}
}

// FilterStateAccessor exposes a boolean SDK state through get and set
// functions, e.g. whether a frame processing stage is enabled.
type FilterStateAccessor struct {
	get func() bool
	set func(bool) error
}

// NewFilterStateAccessor creates an accessor backed by get and set. A nil
// set makes the property read-only at the accessor level.
func NewFilterStateAccessor(get func() bool, set func(bool) error) *FilterStateAccessor {
	return &FilterStateAccessor{get: get, set: set}
}

func (a *FilterStateAccessor) GetValue(context.Context, ID) (Value, error) {
	return BoolValue(a.get()), nil
}

func (a *FilterStateAccessor) SetValue(_ context.Context, id ID, v Value) error {
	if a.set == nil {
		return unsupported("SetValue", id)
	}
	return a.set(v.Int != 0)
}

func (a *FilterStateAccessor) GetRange(context.Context, ID) (Range, error) {
	r := BoolRange(false)
	r.Current = BoolValue(a.get())
	return r, nil
}

// StructAccessor holds structure and raw data blobs in memory.
type StructAccessor struct {
	mu        sync.RWMutex
	blobs     map[ID][]byte
	sizes     map[ID]int
	chunkSize int
}

// NewStructAccessor creates an empty StructAccessor. Raw data is delivered
// in chunks of chunkSize bytes; zero selects DefaultMaxChunkSize.
func NewStructAccessor(chunkSize int) *StructAccessor {
	if chunkSize <= 0 {
		chunkSize = DefaultMaxChunkSize
	}
	return &StructAccessor{
		blobs:     make(map[ID][]byte),
		sizes:     make(map[ID]int),
		chunkSize: chunkSize,
	}
}

// Store sets the blob for id. For structure ids the blob length becomes the
// required size of later writes.
func (a *StructAccessor) Store(id ID, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blobs[id] = append([]byte(nil), data...)
	if id.Type() == TypeStruct {
		a.sizes[id] = len(data)
	}
}

func (a *StructAccessor) GetStructure(_ context.Context, id ID) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.blobs[id]
	if !ok {
		return nil, fault.New(fault.KindUnsupportedProperty, "GetStructure", id.String(), nil)
	}
	return append([]byte(nil), b...), nil
}

func (a *StructAccessor) SetStructure(_ context.Context, id ID, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size, ok := a.sizes[id]; ok && size != len(data) {
		return fault.Configf("SetStructure", id.String(), "structure is %d bytes, want %d", len(data), size)
	}
	a.blobs[id] = append([]byte(nil), data...)
	return nil
}

func (a *StructAccessor) GetRawData(ctx context.Context, id ID, sink ChunkSink) error {
	a.mu.RLock()
	b, ok := a.blobs[id]
	a.mu.RUnlock()
	if !ok {
		return fault.New(fault.KindUnsupportedProperty, "GetRawData", id.String(), nil)
	}
	for off := 0; off < len(b); off += a.chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+a.chunkSize, len(b))
		if err := sink(Chunk{Data: b[off:end], Offset: off, Total: len(b)}); err != nil {
			return err
		}
	}
	return nil
}
