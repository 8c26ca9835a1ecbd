package property

import (
	"bytes"
	"context"
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/depthkit/devcore/pkg/fault"
)

// GetValue reads a scalar property as a T.
func GetValue[T Scalar](ctx context.Context, s *Server, id ID, level AccessLevel) (T, error) {
	v, err := s.GetPropertyValue(ctx, id, level)
	if err != nil {
		var zero T
		return zero, err
	}
	return fromValue[T](s.typeOf(id), v), nil
}

// SetValue writes a scalar property from a T.
func SetValue[T Scalar](ctx context.Context, s *Server, id ID, v T, level AccessLevel) error {
	return s.SetPropertyValue(ctx, id, toValue(v), level)
}

// GetStructure reads a structure property into a T. T is decoded with its
// UnmarshalBinary method when *T implements encoding.BinaryUnmarshaler,
// otherwise as a fixed-size little-endian layout.
func GetStructure[T any](ctx context.Context, s *Server, id ID, level AccessLevel) (T, error) {
	var out T
	data, err := s.GetStructureData(ctx, id, level)
	if err != nil {
		return out, err
	}
	if u, ok := any(&out).(encoding.BinaryUnmarshaler); ok {
		if err := u.UnmarshalBinary(data); err != nil {
			return out, fault.New(fault.KindConfiguration, "GetStructure", id.String(), err)
		}
		return out, nil
	}
	if size := binary.Size(out); size < 0 || len(data) < size {
		return out, fault.New(fault.KindConfiguration, "GetStructure", id.String(),
			fmt.Errorf("structure is %d bytes, want %d", len(data), binary.Size(out)))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &out); err != nil {
		return out, fault.New(fault.KindConfiguration, "GetStructure", id.String(), err)
	}
	return out, nil
}

// SetStructure writes v to a structure property, encoded as GetStructure
// decodes it.
func SetStructure[T any](ctx context.Context, s *Server, id ID, v T, level AccessLevel) error {
	var data []byte
	if m, ok := any(&v).(encoding.BinaryMarshaler); ok {
		b, err := m.MarshalBinary()
		if err != nil {
			return fault.New(fault.KindConfiguration, "SetStructure", id.String(), err)
		}
		data = b
	} else {
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return fault.New(fault.KindConfiguration, "SetStructure", id.String(), err)
		}
		data = buf.Bytes()
	}
	return s.SetStructureData(ctx, id, data, level)
}

// typeOf returns the type of the property id resolves to.
func (s *Server) typeOf(id ID) Type {
	if d, _, ok := s.resolve(id, AccessInternal); ok {
		return d.id.Type()
	}
	return id.Type()
}
