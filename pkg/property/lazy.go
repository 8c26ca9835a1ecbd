package property

import (
	"context"
	"sync"

	"github.com/depthkit/devcore/pkg/fault"
)

// CapabilityReporter is implemented by accessors whose capabilities are not
// fixed by their Go type.
type CapabilityReporter interface {
	Supports(t Type, op Op) bool
}

// LazyAccessor defers resolving its underlying accessor until first use and
// forwards all operations unchanged. A failed resolution is retried on the
// next operation.
type LazyAccessor struct {
	mu       sync.Mutex
	resolver func(ctx context.Context) (Accessor, error)
	resolved Accessor
}

// NewLazyAccessor creates an accessor resolved by resolver on first use.
// resolver receives the context of the operation that triggered it.
func NewLazyAccessor(resolver func(ctx context.Context) (Accessor, error)) *LazyAccessor {
	return &LazyAccessor{resolver: resolver}
}

// Resolved reports whether the underlying accessor has been resolved.
func (a *LazyAccessor) Resolved() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolved != nil
}

func (a *LazyAccessor) get(ctx context.Context) (Accessor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolved != nil {
		return a.resolved, nil
	}
	acc, err := a.resolver(ctx)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fault.New(fault.KindFatalInit, "ResolveAccessor", "", nil)
	}
	a.resolved = acc
	return acc, nil
}

// Supports reports the capabilities of the resolved accessor. Before
// resolution every capability is assumed.
func (a *LazyAccessor) Supports(t Type, op Op) bool {
	a.mu.Lock()
	acc := a.resolved
	a.mu.Unlock()
	if acc == nil {
		return true
	}
	return supports(acc, t, op)
}

// GetValue resolves the accessor and reads a scalar through it.
func (a *LazyAccessor) GetValue(ctx context.Context, id ID) (Value, error) {
	acc, err := a.get(ctx)
	if err != nil {
		return Value{}, err
	}
	g, ok := acc.(ValueGetter)
	if !ok {
		return Value{}, unsupported("GetValue", id)
	}
	return g.GetValue(ctx, id)
}

// SetValue resolves the accessor and writes a scalar through it.
func (a *LazyAccessor) SetValue(ctx context.Context, id ID, v Value) error {
	acc, err := a.get(ctx)
	if err != nil {
		return err
	}
	s, ok := acc.(ValueSetter)
	if !ok {
		return unsupported("SetValue", id)
	}
	return s.SetValue(ctx, id, v)
}

// GetRange resolves the accessor and reads the range of id.
func (a *LazyAccessor) GetRange(ctx context.Context, id ID) (Range, error) {
	acc, err := a.get(ctx)
	if err != nil {
		return Range{}, err
	}
	g, ok := acc.(RangeGetter)
	if !ok {
		return Range{}, unsupported("GetRange", id)
	}
	return g.GetRange(ctx, id)
}

// GetStructure resolves the accessor and reads a structure blob.
func (a *LazyAccessor) GetStructure(ctx context.Context, id ID) ([]byte, error) {
	acc, err := a.get(ctx)
	if err != nil {
		return nil, err
	}
	g, ok := acc.(StructureGetter)
	if !ok {
		return nil, unsupported("GetStructure", id)
	}
	return g.GetStructure(ctx, id)
}

// SetStructure resolves the accessor and writes a structure blob.
func (a *LazyAccessor) SetStructure(ctx context.Context, id ID, data []byte) error {
	acc, err := a.get(ctx)
	if err != nil {
		return err
	}
	s, ok := acc.(StructureSetter)
	if !ok {
		return unsupported("SetStructure", id)
	}
	return s.SetStructure(ctx, id, data)
}

// GetRawData resolves the accessor and streams raw data into sink.
func (a *LazyAccessor) GetRawData(ctx context.Context, id ID, sink ChunkSink) error {
	acc, err := a.get(ctx)
	if err != nil {
		return err
	}
	g, ok := acc.(RawDataGetter)
	if !ok {
		return unsupported("GetRawData", id)
	}
	return g.GetRawData(ctx, id, sink)
}

func unsupported(op string, id ID) error {
	return fault.New(fault.KindUnsupportedOperation, op, id.String(), nil)
}

var _ CapabilityReporter = (*LazyAccessor)(nil)
