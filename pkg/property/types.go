package property

import (
	"context"
	"fmt"
	"math"
)

// Permission is the set of operations allowed at one access level.
type Permission uint8

const (
	// PermNone denies all operations.
	PermNone Permission = 0

	// PermRead allows reading.
	PermRead Permission = 1

	// PermWrite allows writing.
	PermWrite Permission = 2

	// PermReadWrite allows reading and writing.
	PermReadWrite = PermRead | PermWrite
)

// ParsePermission parses one of "", "r", "w", "rw".
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "":
		return PermNone, nil
	case "r":
		return PermRead, nil
	case "w":
		return PermWrite, nil
	case "rw":
		return PermReadWrite, nil
	default:
		return PermNone, fmt.Errorf("invalid permission %q", s)
	}
}

// CanRead returns true if reading is allowed.
func (p Permission) CanRead() bool { return p&PermRead != 0 }

// CanWrite returns true if writing is allowed.
func (p Permission) CanWrite() bool { return p&PermWrite != 0 }

// Allows reports whether op is permitted.
func (p Permission) Allows(op Op) bool {
	if op == OpWrite {
		return p.CanWrite()
	}
	return p.CanRead()
}

// String returns the permission in its registration form.
func (p Permission) String() string {
	var s string
	if p.CanRead() {
		s += "r"
	}
	if p.CanWrite() {
		s += "w"
	}
	return s
}

// AccessLevel is the privilege of a caller. User is the application;
// Internal is SDK code acting on the device's behalf.
type AccessLevel uint8

const (
	AccessUser AccessLevel = iota
	AccessInternal
)

// String returns the access level name.
func (l AccessLevel) String() string {
	switch l {
	case AccessUser:
		return "user"
	case AccessInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Op is a property operation.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

// String returns the operation name.
func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Type is the value type of a property.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeStruct
	TypeRaw
)

// String returns the type name.
func (t Type) String() string {
	names := []string{"unknown", "int", "float", "bool", "struct", "raw"}
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// IsScalar reports whether the type carries a Value.
func (t Type) IsScalar() bool {
	return t == TypeInt || t == TypeFloat || t == TypeBool
}

// Value is a scalar property value. Int and bool properties use Int;
// float properties use Float.
type Value struct {
	Int   int64
	Float float64
}

// IntValue returns a Value holding i.
func IntValue(i int64) Value { return Value{Int: i} }

// FloatValue returns a Value holding f.
func FloatValue(f float64) Value { return Value{Float: f} }

// BoolValue returns a Value holding b.
func BoolValue(b bool) Value {
	if b {
		return Value{Int: 1}
	}
	return Value{}
}

// Bool returns the value as a bool.
func (v Value) Bool() bool { return v.Int != 0 }

// Number returns the value as a float64 for type t.
func (v Value) Number(t Type) float64 {
	if t == TypeFloat {
		return v.Float
	}
	return float64(v.Int)
}

// Range describes the valid values of a scalar property.
type Range struct {
	Min     Value
	Max     Value
	Step    Value
	Default Value
	Current Value
}

// Contains reports whether v lies within [Min, Max] for type t.
func (r Range) Contains(t Type, v Value) bool {
	if t == TypeFloat {
		return v.Float >= r.Min.Float && v.Float <= r.Max.Float
	}
	return v.Int >= r.Min.Int && v.Int <= r.Max.Int
}

// Chunk is one piece of a raw data transfer.
type Chunk struct {
	Data []byte

	// Offset is the position of Data within the whole blob.
	Offset int

	// Total is the size of the whole blob.
	Total int
}

// ChunkSink receives raw data chunks in order. Returning an error aborts
// the transfer.
type ChunkSink func(Chunk) error

// Scalar is the set of Go types usable with GetValue and SetValue.
type Scalar interface {
	bool | int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | float32 | float64
}

func toValue[T Scalar](v T) Value {
	switch x := any(v).(type) {
	case bool:
		bv := BoolValue(x)
		bv.Float = float64(bv.Int)
		return bv
	case int:
		return intBoth(int64(x))
	case int8:
		return intBoth(int64(x))
	case int16:
		return intBoth(int64(x))
	case int32:
		return intBoth(int64(x))
	case int64:
		return intBoth(x)
	case uint8:
		return intBoth(int64(x))
	case uint16:
		return intBoth(int64(x))
	case uint32:
		return intBoth(int64(x))
	case float32:
		return Value{Int: int64(x), Float: float64(x)}
	case float64:
		return Value{Int: int64(x), Float: x}
	}
	return Value{}
}

func intBoth(i int64) Value {
	return Value{Int: i, Float: float64(i)}
}

// normalize fills the field not used by type t so either can be read.
func normalize(t Type, v Value) Value {
	if t == TypeFloat {
		v.Int = int64(math.Round(v.Float))
	} else {
		v.Float = float64(v.Int)
	}
	return v
}

func fromValue[T Scalar](t Type, v Value) T {
	v = normalize(t, v)
	var zero T
	var out any
	switch any(zero).(type) {
	case bool:
		out = v.Int != 0
	case int:
		out = int(v.Int)
	case int8:
		out = int8(v.Int)
	case int16:
		out = int16(v.Int)
	case int32:
		out = int32(v.Int)
	case int64:
		out = v.Int
	case uint8:
		out = uint8(v.Int)
	case uint16:
		out = uint16(v.Int)
	case uint32:
		out = uint32(v.Int)
	case float32:
		out = float32(v.Float)
	case float64:
		out = v.Float
	default:
		return zero
	}
	return out.(T)
}

// Capability interfaces. An accessor implements the subset it supports;
// the server reports UnsupportedOperation for the rest.

// ValueGetter reads scalar properties.
type ValueGetter interface {
	GetValue(ctx context.Context, id ID) (Value, error)
}

// ValueSetter writes scalar properties.
type ValueSetter interface {
	SetValue(ctx context.Context, id ID, v Value) error
}

// RangeGetter reports the valid range of scalar properties.
type RangeGetter interface {
	GetRange(ctx context.Context, id ID) (Range, error)
}

// StructureGetter reads fixed-layout structure properties.
type StructureGetter interface {
	GetStructure(ctx context.Context, id ID) ([]byte, error)
}

// StructureSetter writes fixed-layout structure properties.
type StructureSetter interface {
	SetStructure(ctx context.Context, id ID, data []byte) error
}

// RawDataGetter streams variable-length raw data.
type RawDataGetter interface {
	GetRawData(ctx context.Context, id ID, sink ChunkSink) error
}

// Accessor is any value implementing at least one capability interface.
type Accessor any

// HasCapability reports whether a implements at least one capability.
func HasCapability(a Accessor) bool {
	switch a.(type) {
	case ValueGetter, ValueSetter, RangeGetter, StructureGetter, StructureSetter, RawDataGetter:
		return true
	}
	return false
}
