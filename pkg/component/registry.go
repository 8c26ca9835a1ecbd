package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/log"
)

// Registry errors.
var (
	ErrDuplicate     = fmt.Errorf("%w: component already registered", fault.ErrConfiguration)
	ErrNotRegistered = fmt.Errorf("%w: component not registered", fault.ErrConfiguration)
	ErrCycle         = fmt.Errorf("%w: component dependency cycle", fault.ErrConfiguration)
	ErrTypeMismatch  = fmt.Errorf("%w: component type mismatch", fault.ErrConfiguration)
	ErrNilFactory    = fmt.Errorf("%w: nil component factory", fault.ErrConfiguration)
)

// ID names a component slot.
type ID string

// Factory constructs a component. ctx carries the chain of slots under
// construction; dependencies must be requested with it, through r or any
// other path to the same registry.
type Factory func(ctx context.Context, r Resolver) (any, error)

// Resolver resolves component ids to instances, constructing them on demand.
// A missing id yields (nil, nil) unless required is set.
type Resolver interface {
	Component(ctx context.Context, id ID, required bool) (any, error)
}

type chainKey struct{}

// chainFrom returns the ids under construction on the calling path.
func chainFrom(ctx context.Context) []ID {
	chain, _ := ctx.Value(chainKey{}).([]ID)
	return chain
}

// State is the lifecycle state of a slot.
type State uint8

const (
	StateEmpty State = iota
	StateFactory
	StateConstructed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFactory:
		return "FACTORY"
	case StateConstructed:
		return "CONSTRUCTED"
	default:
		return "EMPTY"
	}
}

type slot struct {
	id       ID
	factory  Factory
	instance any
	state    State

	// pending is the in-flight construction, nil when idle.
	pending *attempt
}

type attempt struct {
	done  chan struct{}
	value any
	err   error
}

// Registry is a set of named component slots owned by one device.
type Registry struct {
	mu    sync.Mutex
	slots map[ID]*slot
	order []ID

	logger  *slog.Logger
	emitter *log.Emitter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[ID]*slot)}
}

// SetLogger sets the logger for construction diagnostics.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetEventEmitter sets the emitter for construction events.
func (r *Registry) SetEventEmitter(em *log.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitter = em
}

// Register adds a slot backed by factory. With eager set the factory runs
// immediately and its error is returned; the slot stays registered either
// way so a later Get can retry.
func (r *Registry) Register(id ID, factory Factory, eager bool) error {
	if factory == nil {
		return fault.New(fault.KindConfiguration, "Register", string(id), ErrNilFactory)
	}

	r.mu.Lock()
	if _, exists := r.slots[id]; exists {
		r.mu.Unlock()
		return fault.New(fault.KindConfiguration, "Register", string(id), ErrDuplicate)
	}
	r.slots[id] = &slot{id: id, factory: factory, state: StateFactory}
	r.order = append(r.order, id)
	r.mu.Unlock()

	if eager {
		_, err := r.Component(context.Background(), id, true)
		return err
	}
	return nil
}

// RegisterInstance adds a slot holding an already constructed instance.
func (r *Registry) RegisterInstance(id ID, instance any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[id]; exists {
		return fault.New(fault.KindConfiguration, "Register", string(id), ErrDuplicate)
	}
	r.slots[id] = &slot{id: id, instance: instance, state: StateConstructed}
	r.order = append(r.order, id)
	return nil
}

// Deregister removes a slot. An in-flight construction completes for its
// callers but its result is not stored.
func (r *Registry) Deregister(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[id]; !exists {
		return false
	}
	delete(r.slots, id)
	r.order = slices.DeleteFunc(r.order, func(v ID) bool { return v == id })
	return true
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[id]
	return ok
}

// State returns the lifecycle state of id.
func (r *Registry) State(id ID) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[id]; ok {
		return s.state
	}
	return StateEmpty
}

// IsConstructed reports whether id holds a constructed instance.
func (r *Registry) IsConstructed(id ID) bool {
	return r.State(id) == StateConstructed
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Component implements Resolver. A request for a slot already under
// construction on the path recorded in ctx fails with ErrCycle. Waiting for
// a construction started elsewhere ends early when ctx is done.
func (r *Registry) Component(ctx context.Context, id ID, required bool) (any, error) {
	chain := chainFrom(ctx)
	if slices.Contains(chain, id) {
		path := make([]string, 0, len(chain)+1)
		for _, c := range chain {
			path = append(path, string(c))
		}
		path = append(path, string(id))
		return nil, fault.New(fault.KindConfiguration, "GetComponent", string(id),
			fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> ")))
	}

	r.mu.Lock()
	s, ok := r.slots[id]
	if !ok {
		r.mu.Unlock()
		if !required {
			return nil, nil
		}
		return nil, fault.New(fault.KindConfiguration, "GetComponent", string(id), ErrNotRegistered)
	}

	switch {
	case s.state == StateConstructed:
		v := s.instance
		r.mu.Unlock()
		return v, nil

	case s.pending != nil:
		a := s.pending
		r.mu.Unlock()
		select {
		case <-a.done:
			return a.value, a.err
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for component %s: %w", id, ctx.Err())
		}
	}

	a := &attempt{done: make(chan struct{})}
	s.pending = a
	factory := s.factory
	logger, em := r.logger, r.emitter
	r.mu.Unlock()

	fctx := context.WithValue(ctx, chainKey{}, append(slices.Clone(chain), id))
	value, err := r.construct(fctx, id, factory)

	r.mu.Lock()
	s.pending = nil
	if err == nil && r.slots[id] == s {
		s.instance = value
		s.state = StateConstructed
	}
	r.mu.Unlock()

	a.value, a.err = value, err
	close(a.done)

	change := &log.StateChangeEvent{
		Entity:   log.StateEntityComponent,
		Name:     string(id),
		OldState: StateFactory.String(),
		NewState: StateConstructed.String(),
	}
	if err != nil {
		change.NewState = StateFactory.String()
		change.Reason = err.Error()
	}
	em.Emit(log.Event{Layer: log.LayerDevice, Category: log.CategoryComponent, StateChange: change})

	if logger != nil {
		if err != nil {
			logger.Warn("component construction failed", "component", id, "error", err)
		} else {
			logger.Debug("component constructed", "component", id)
		}
	}
	return value, err
}

func (r *Registry) construct(ctx context.Context, id ID, factory Factory) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			value = nil
			err = fault.New(fault.KindFatalInit, "GetComponent", string(id), fmt.Errorf("factory panic: %v", p))
		}
	}()

	value, err = factory(ctx, r)
	if err != nil {
		var fe *fault.Error
		if !errors.As(err, &fe) {
			err = fault.New(fault.KindFatalInit, "GetComponent", string(id), err)
		}
		return nil, err
	}
	return value, nil
}
