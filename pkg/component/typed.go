package component

import (
	"context"
	"fmt"

	"github.com/depthkit/devcore/pkg/fault"
)

// Get returns the component id as a T, constructing it if needed. A missing
// id is a configuration error. Inside a factory, pass the factory's ctx.
func Get[T any](ctx context.Context, r Resolver, id ID) (T, error) {
	var zero T
	v, err := r.Component(ctx, id, true)
	if err != nil {
		return zero, err
	}
	return cast[T](id, v)
}

// Lookup returns the component id as a T if it is registered. ok is false
// when the id is absent.
func Lookup[T any](ctx context.Context, r Resolver, id ID) (T, bool, error) {
	var zero T
	v, err := r.Component(ctx, id, false)
	if err != nil {
		return zero, false, err
	}
	if v == nil {
		return zero, false, nil
	}
	t, err := cast[T](id, v)
	if err != nil {
		return zero, false, err
	}
	return t, true, nil
}

func cast[T any](id ID, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fault.New(fault.KindConfiguration, "GetComponent", string(id),
			fmt.Errorf("%w: have %T, want %T", ErrTypeMismatch, v, zero))
	}
	return t, nil
}
