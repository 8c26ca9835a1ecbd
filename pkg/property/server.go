package property

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/log"
)

// Server errors.
var (
	ErrDuplicateProperty = fmt.Errorf("%w: property already registered", fault.ErrConfiguration)
	ErrAliasTarget       = fmt.Errorf("%w: alias target not registered", fault.ErrConfiguration)
	ErrAliasCycle        = fmt.Errorf("%w: alias cycle", fault.ErrConfiguration)
	ErrNoCapability      = fmt.Errorf("%w: accessor implements no capability", fault.ErrConfiguration)
)

// descriptor is one registered property or alias.
type descriptor struct {
	id           ID
	userPerm     Permission
	internalPerm Permission
	accessor     Accessor

	// alias is set for aliases; target is the id the alias points at.
	alias    bool
	target   ID
	ownPerms bool

	// lock serializes writes and allows concurrent reads. Only the lock of
	// the resolved (non-alias) descriptor is used.
	lock sync.RWMutex
}

func (d *descriptor) permission(level AccessLevel) Permission {
	if level == AccessInternal {
		return d.internalPerm
	}
	return d.userPerm
}

// Info describes a registered property for enumeration.
type Info struct {
	ID         ID
	Type       Type
	Permission Permission

	// AliasOf is the target of an alias, zero otherwise.
	AliasOf ID
}

// AccessCallback is invoked after a successful read or write of a property
// it was registered for. Callbacks run synchronously on the calling goroutine
// after the property lock is released. Returned errors and panics are logged
// and contained. Callbacks that access properties must pass ctx through so
// nested notifications for the same id are suppressed.
type AccessCallback func(ctx context.Context, id ID, op Op) error

// CallbackHandle identifies a registered AccessCallback.
type CallbackHandle uint64

type callbackEntry struct {
	ids map[ID]struct{}
	cb  AccessCallback
}

// maxNotifyDepth bounds nested callback dispatch.
const maxNotifyDepth = 4

// Server is the registry of property descriptors for one device. It checks
// access levels and dispatches operations to the registered accessors.
type Server struct {
	mu    sync.RWMutex
	props map[ID]*descriptor

	cbMu       sync.RWMutex
	callbacks  map[CallbackHandle]*callbackEntry
	nextHandle CallbackHandle

	logger *slog.Logger
	events *log.Emitter
}

// NewServer creates an empty property server.
func NewServer() *Server {
	return &Server{
		props:     make(map[ID]*descriptor),
		callbacks: make(map[CallbackHandle]*callbackEntry),
	}
}

// SetLogger sets the operational logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEventEmitter sets the device event log emitter.
func (s *Server) SetEventEmitter(em *log.Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = em
}

// RegisterProperty registers id with user-level and internal-level
// permissions, each one of "", "r", "w", "rw".
func (s *Server) RegisterProperty(id ID, userPerm, internalPerm string, accessor Accessor) error {
	up, err := ParsePermission(userPerm)
	if err != nil {
		return fault.New(fault.KindConfiguration, "RegisterProperty", id.String(), err)
	}
	ip, err := ParsePermission(internalPerm)
	if err != nil {
		return fault.New(fault.KindConfiguration, "RegisterProperty", id.String(), err)
	}
	if !HasCapability(accessor) {
		return fault.New(fault.KindConfiguration, "RegisterProperty", id.String(), ErrNoCapability)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, exists := s.props[id]; exists && !d.alias {
		return fault.New(fault.KindConfiguration, "RegisterProperty", id.String(), ErrDuplicateProperty)
	}
	s.props[id] = &descriptor{id: id, userPerm: up, internalPerm: ip, accessor: accessor}
	return nil
}

// AliasProperty makes alias behave exactly as target, using the target's
// permissions.
func (s *Server) AliasProperty(alias, target ID) error {
	return s.aliasProperty(alias, target, nil)
}

// AliasPropertyWithPermission makes alias behave as target but checks
// access against the alias's own permissions.
func (s *Server) AliasPropertyWithPermission(alias, target ID, userPerm, internalPerm string) error {
	up, err := ParsePermission(userPerm)
	if err != nil {
		return fault.New(fault.KindConfiguration, "AliasProperty", alias.String(), err)
	}
	ip, err := ParsePermission(internalPerm)
	if err != nil {
		return fault.New(fault.KindConfiguration, "AliasProperty", alias.String(), err)
	}
	return s.aliasProperty(alias, target, &[2]Permission{up, ip})
}

func (s *Server) aliasProperty(alias, target ID, perms *[2]Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, exists := s.props[alias]; exists && !d.alias {
		return fault.New(fault.KindConfiguration, "AliasProperty", alias.String(), ErrDuplicateProperty)
	}
	if _, exists := s.props[target]; !exists {
		return fault.New(fault.KindConfiguration, "AliasProperty", alias.String(),
			fmt.Errorf("%w: %s", ErrAliasTarget, target))
	}
	for cur := target; ; {
		if cur == alias {
			return fault.New(fault.KindConfiguration, "AliasProperty", alias.String(), ErrAliasCycle)
		}
		d := s.props[cur]
		if d == nil || !d.alias {
			break
		}
		cur = d.target
	}

	d := &descriptor{id: alias, alias: true, target: target}
	if perms != nil {
		d.userPerm, d.internalPerm, d.ownPerms = perms[0], perms[1], true
	}
	s.props[alias] = d
	return nil
}

// resolve returns the non-alias descriptor for id and the permission that
// applies at level. The first alias with its own permissions wins.
func (s *Server) resolve(id ID, level AccessLevel) (*descriptor, Permission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.props[id]
	if !ok {
		return nil, PermNone, false
	}
	var perm Permission
	permSet := false
	for d.alias {
		if d.ownPerms && !permSet {
			perm, permSet = d.permission(level), true
		}
		next, ok := s.props[d.target]
		if !ok {
			return nil, PermNone, false
		}
		d = next
	}
	if !permSet {
		perm = d.permission(level)
	}
	return d, perm, true
}

// lookup resolves id and checks op against the applicable permission.
func (s *Server) lookup(opName string, id ID, op Op, level AccessLevel) (*descriptor, error) {
	d, perm, ok := s.resolve(id, level)
	if !ok {
		return nil, fault.New(fault.KindUnsupportedProperty, opName, id.String(), nil)
	}
	if !perm.Allows(op) {
		return nil, fault.New(fault.KindPermissionDenied, opName, id.String(), nil)
	}
	return d, nil
}

// IsPropertySupported reports whether op on id is permitted at level and
// implemented by its accessor.
func (s *Server) IsPropertySupported(id ID, op Op, level AccessLevel) bool {
	d, perm, ok := s.resolve(id, level)
	if !ok || !perm.Allows(op) {
		return false
	}
	return supports(d.accessor, d.id.Type(), op)
}

func supports(a Accessor, t Type, op Op) bool {
	if r, ok := a.(CapabilityReporter); ok {
		return r.Supports(t, op)
	}
	switch {
	case t.IsScalar() && op == OpRead:
		_, ok := a.(ValueGetter)
		return ok
	case t.IsScalar() && op == OpWrite:
		_, ok := a.(ValueSetter)
		return ok
	case t == TypeStruct && op == OpRead:
		_, ok := a.(StructureGetter)
		return ok
	case t == TypeStruct && op == OpWrite:
		_, ok := a.(StructureSetter)
		return ok
	case t == TypeRaw && op == OpRead:
		_, ok := a.(RawDataGetter)
		return ok
	}
	return false
}

// Properties lists the properties accessible at level, sorted by id.
func (s *Server) Properties(level AccessLevel) []Info {
	s.mu.RLock()
	ids := make([]ID, 0, len(s.props))
	for id := range s.props {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		d, perm, ok := s.resolve(id, level)
		if !ok || perm == PermNone {
			continue
		}
		info := Info{ID: id, Type: d.id.Type(), Permission: perm}
		if d.id != id {
			info.AliasOf = d.id
		}
		out = append(out, info)
	}
	return out
}

// GetPropertyValue reads a scalar property.
func (s *Server) GetPropertyValue(ctx context.Context, id ID, level AccessLevel) (Value, error) {
	const op = "GetPropertyValue"
	d, err := s.lookup(op, id, OpRead, level)
	if err != nil {
		return Value{}, err
	}
	t := d.id.Type()
	getter, ok := d.accessor.(ValueGetter)
	if !t.IsScalar() || !ok {
		return Value{}, fault.New(fault.KindUnsupportedOperation, op, id.String(), nil)
	}

	d.lock.RLock()
	v, err := getter.GetValue(ctx, d.id)
	d.lock.RUnlock()
	if err != nil {
		return Value{}, s.accessorError(op, id, OpRead, level, err)
	}

	v = normalize(t, v)
	s.notify(ctx, id, d.id, OpRead)
	return v, nil
}

// SetPropertyValue writes a scalar property.
func (s *Server) SetPropertyValue(ctx context.Context, id ID, v Value, level AccessLevel) error {
	const op = "SetPropertyValue"
	d, err := s.lookup(op, id, OpWrite, level)
	if err != nil {
		return err
	}
	t := d.id.Type()
	setter, ok := d.accessor.(ValueSetter)
	if !t.IsScalar() || !ok {
		return fault.New(fault.KindUnsupportedOperation, op, id.String(), nil)
	}
	if t == TypeBool {
		v = BoolValue(v.Int != 0)
	}

	d.lock.Lock()
	err = setter.SetValue(ctx, d.id, v)
	d.lock.Unlock()
	if err != nil {
		return s.accessorError(op, id, OpWrite, level, err)
	}

	num := normalize(t, v).Number(t)
	s.emit(&log.PropertyEvent{PropertyID: uint32(id), Name: id.String(), Op: OpWrite.String(), Level: level.String(), Value: &num})
	s.notify(ctx, id, d.id, OpWrite)
	return nil
}

// GetPropertyRange returns the valid range of a scalar property. Reading
// the range requires read permission.
func (s *Server) GetPropertyRange(ctx context.Context, id ID, level AccessLevel) (Range, error) {
	const op = "GetPropertyRange"
	d, err := s.lookup(op, id, OpRead, level)
	if err != nil {
		return Range{}, err
	}
	t := d.id.Type()
	rg, ok := d.accessor.(RangeGetter)
	if !t.IsScalar() || !ok {
		return Range{}, fault.New(fault.KindUnsupportedOperation, op, id.String(), nil)
	}

	d.lock.RLock()
	r, err := rg.GetRange(ctx, d.id)
	d.lock.RUnlock()
	if err != nil {
		return Range{}, s.accessorError(op, id, OpRead, level, err)
	}
	r.Min, r.Max, r.Step = normalize(t, r.Min), normalize(t, r.Max), normalize(t, r.Step)
	r.Default, r.Current = normalize(t, r.Default), normalize(t, r.Current)
	return r, nil
}

// GetStructureData reads a structure property.
func (s *Server) GetStructureData(ctx context.Context, id ID, level AccessLevel) ([]byte, error) {
	const op = "GetStructureData"
	d, err := s.lookup(op, id, OpRead, level)
	if err != nil {
		return nil, err
	}
	getter, ok := d.accessor.(StructureGetter)
	if d.id.Type() != TypeStruct || !ok {
		return nil, fault.New(fault.KindUnsupportedOperation, op, id.String(), nil)
	}

	d.lock.RLock()
	data, err := getter.GetStructure(ctx, d.id)
	d.lock.RUnlock()
	if err != nil {
		return nil, s.accessorError(op, id, OpRead, level, err)
	}

	s.notify(ctx, id, d.id, OpRead)
	return data, nil
}

// SetStructureData writes a structure property.
func (s *Server) SetStructureData(ctx context.Context, id ID, data []byte, level AccessLevel) error {
	const op = "SetStructureData"
	d, err := s.lookup(op, id, OpWrite, level)
	if err != nil {
		return err
	}
	setter, ok := d.accessor.(StructureSetter)
	if d.id.Type() != TypeStruct || !ok {
		return fault.New(fault.KindUnsupportedOperation, op, id.String(), nil)
	}

	d.lock.Lock()
	err = setter.SetStructure(ctx, d.id, data)
	d.lock.Unlock()
	if err != nil {
		return s.accessorError(op, id, OpWrite, level, err)
	}

	s.emit(&log.PropertyEvent{PropertyID: uint32(id), Name: id.String(), Op: OpWrite.String(), Level: level.String(), Size: len(data)})
	s.notify(ctx, id, d.id, OpWrite)
	return nil
}

// GetRawData streams a raw data property to sink in chunks.
func (s *Server) GetRawData(ctx context.Context, id ID, sink ChunkSink, level AccessLevel) error {
	const op = "GetRawData"
	if sink == nil {
		return fault.Configf(op, id.String(), "nil chunk sink")
	}
	d, err := s.lookup(op, id, OpRead, level)
	if err != nil {
		return err
	}
	getter, ok := d.accessor.(RawDataGetter)
	if d.id.Type() != TypeRaw || !ok {
		return fault.New(fault.KindUnsupportedOperation, op, id.String(), nil)
	}

	d.lock.RLock()
	err = getter.GetRawData(ctx, d.id, sink)
	d.lock.RUnlock()
	if err != nil {
		return s.accessorError(op, id, OpRead, level, err)
	}

	s.notify(ctx, id, d.id, OpRead)
	return nil
}

// ReadRawData collects a raw data property into a single buffer.
func (s *Server) ReadRawData(ctx context.Context, id ID, level AccessLevel) ([]byte, error) {
	var buf []byte
	err := s.GetRawData(ctx, id, func(c Chunk) error {
		if buf == nil && c.Total > 0 {
			buf = make([]byte, 0, c.Total)
		}
		buf = append(buf, c.Data...)
		return nil
	}, level)
	return buf, err
}

// accessorError wraps an accessor failure with the operation and property,
// preserving its kind.
func (s *Server) accessorError(opName string, id ID, op Op, level AccessLevel, err error) error {
	s.emit(&log.PropertyEvent{PropertyID: uint32(id), Name: id.String(), Op: op.String(), Level: level.String(), Error: err.Error()})

	var fe *fault.Error
	if errors.As(err, &fe) && fe.Op == opName && fe.Subject == id.String() {
		return err
	}
	return fault.New(fault.KindOf(err), opName, id.String(), err)
}

func (s *Server) emit(ev *log.PropertyEvent) {
	s.mu.RLock()
	em := s.events
	s.mu.RUnlock()
	em.Emit(log.Event{Layer: log.LayerProperty, Category: log.CategoryProperty, Property: ev})
}

func (s *Server) debugLog(msg string, args ...any) {
	s.mu.RLock()
	logger := s.logger
	s.mu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}
