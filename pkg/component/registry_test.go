package component

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/log"
)

type widget struct{ name string }

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("X", func(context.Context, Resolver) (any, error) { return &widget{}, nil }, false))

	err := reg.Register("X", func(context.Context, Resolver) (any, error) { return &widget{}, nil }, false)
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.ErrorIs(t, err, ErrDuplicate)

	err = reg.RegisterInstance("X", &widget{})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestConcurrentFirstGet(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	require.NoError(t, reg.Register("X", func(context.Context, Resolver) (any, error) {
		calls.Add(1)
		<-release
		return &widget{name: "x"}, nil
	}, false))

	const workers = 8
	results := make([]*widget, workers)
	errs := make([]error, workers)
	var ready, wg sync.WaitGroup
	ready.Add(workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			ready.Done()
			results[i], errs[i] = Get[*widget](ctx, reg, "X")
		}(i)
	}
	ready.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.True(t, reg.IsConstructed("X"))
}

func TestGetMissing(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	_, err := Get[*widget](ctx, reg, "missing")
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.ErrorIs(t, err, ErrNotRegistered)

	w, ok, err := Lookup[*widget](ctx, reg, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, w)
}

func TestTypeMismatch(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	require.NoError(t, reg.RegisterInstance("X", "not a widget"))

	_, err := Get[*widget](ctx, reg, "X")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, fault.KindConfiguration, fault.KindOf(err))
}

func TestRecursiveResolution(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Register("server", func(ctx context.Context, r Resolver) (any, error) {
		port, err := Get[*widget](ctx, r, "port")
		if err != nil {
			return nil, err
		}
		return &widget{name: "server on " + port.name}, nil
	}, false))
	require.NoError(t, reg.Register("port", func(context.Context, Resolver) (any, error) {
		return &widget{name: "usb"}, nil
	}, false))

	w, err := Get[*widget](ctx, reg, "server")
	require.NoError(t, err)
	assert.Equal(t, "server on usb", w.name)
	assert.True(t, reg.IsConstructed("port"))
}

func TestCycleDetection(t *testing.T) {
	t.Run("Self", func(t *testing.T) {
		reg := NewRegistry()
		ctx := context.Background()
		require.NoError(t, reg.Register("X", func(ctx context.Context, r Resolver) (any, error) {
			return Get[*widget](ctx, r, "X")
		}, false))

		_, err := Get[*widget](ctx, reg, "X")
		assert.ErrorIs(t, err, ErrCycle)
		assert.ErrorIs(t, err, fault.ErrConfiguration)
		assert.False(t, reg.IsConstructed("X"))
	})

	t.Run("Indirect", func(t *testing.T) {
		reg := NewRegistry()
		ctx := context.Background()
		require.NoError(t, reg.Register("A", func(ctx context.Context, r Resolver) (any, error) {
			return Get[*widget](ctx, r, "B")
		}, false))
		require.NoError(t, reg.Register("B", func(ctx context.Context, r Resolver) (any, error) {
			return Get[*widget](ctx, r, "A")
		}, false))

		_, err := Get[*widget](ctx, reg, "A")
		require.ErrorIs(t, err, ErrCycle)
		assert.Contains(t, err.Error(), "A -> B -> A")
	})

	t.Run("SelfThroughCapturedRegistry", func(t *testing.T) {
		reg := NewRegistry()
		ctx := context.Background()
		require.NoError(t, reg.Register("X", func(ctx context.Context, _ Resolver) (any, error) {
			return Get[int](ctx, reg, "X")
		}, false))

		errc := make(chan error, 1)
		go func() {
			_, err := Get[int](ctx, reg, "X")
			errc <- err
		}()
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrCycle)
			assert.Equal(t, StateFactory, reg.State("X"))
		case <-time.After(2 * time.Second):
			t.Fatal("Get from the slot's own factory blocked")
		}
	})

	t.Run("IndirectThroughCapturedRegistry", func(t *testing.T) {
		reg := NewRegistry()
		ctx := context.Background()
		require.NoError(t, reg.Register("A", func(ctx context.Context, _ Resolver) (any, error) {
			return reg.Component(ctx, "B", true)
		}, false))
		require.NoError(t, reg.Register("B", func(ctx context.Context, r Resolver) (any, error) {
			return Get[*widget](ctx, r, "A")
		}, false))

		_, err := Get[*widget](ctx, reg, "A")
		require.ErrorIs(t, err, ErrCycle)
		assert.Contains(t, err.Error(), "A -> B -> A")
	})
}

func TestWaitHonoursContext(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, reg.Register("X", func(context.Context, Resolver) (any, error) {
		close(started)
		<-release
		return &widget{}, nil
	}, false))

	done := make(chan error, 1)
	go func() {
		_, err := Get[*widget](context.Background(), reg, "X")
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Get[*widget](ctx, reg, "X")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, reg.IsConstructed("X"))
}

func TestFailureNotMemoized(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	calls := 0
	require.NoError(t, reg.Register("X", func(context.Context, Resolver) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("port not open")
		}
		return &widget{}, nil
	}, false))

	_, err := Get[*widget](ctx, reg, "X")
	assert.ErrorIs(t, err, fault.ErrFatalInit)
	assert.Equal(t, StateFactory, reg.State("X"))

	_, err = Get[*widget](ctx, reg, "X")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateConstructed, reg.State("X"))
}

func TestConcurrentWaitersShareFailure(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, reg.Register("X", func(context.Context, Resolver) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil, errors.New("boom")
	}, false))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = Get[*widget](ctx, reg, "X")
	}()
	<-started
	for i := 1; i < len(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Get[*widget](ctx, reg, "X")
		}(i)
	}
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.Error(t, err)
	}
	assert.LessOrEqual(t, int(calls.Load()), len(errs))
	assert.Equal(t, StateFactory, reg.State("X"))
}

func TestFactoryPanic(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Register("X", func(context.Context, Resolver) (any, error) {
		panic("bad wiring")
	}, false))

	_, err := Get[*widget](ctx, reg, "X")
	assert.ErrorIs(t, err, fault.ErrFatalInit)
	assert.Contains(t, err.Error(), "bad wiring")
}

func TestEagerRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("X", func(context.Context, Resolver) (any, error) { return &widget{}, nil }, true))
	assert.True(t, reg.IsConstructed("X"))

	err := reg.Register("Y", func(context.Context, Resolver) (any, error) { return nil, errors.New("no port") }, true)
	assert.Error(t, err)
	assert.True(t, reg.Has("Y"))
	assert.Equal(t, StateFactory, reg.State("Y"))
}

func TestDeregisterAndIDs(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	require.NoError(t, reg.RegisterInstance("a", 1))
	require.NoError(t, reg.RegisterInstance("b", 2))
	require.NoError(t, reg.RegisterInstance("c", 3))

	assert.Equal(t, []ID{"a", "b", "c"}, reg.IDs())
	assert.True(t, reg.Deregister("b"))
	assert.False(t, reg.Deregister("b"))
	assert.Equal(t, []ID{"a", "c"}, reg.IDs())
	assert.Equal(t, StateEmpty, reg.State("b"))

	v, err := Get[int](ctx, reg, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestNilFactory(t *testing.T) {
	reg := NewRegistry()
	assert.ErrorIs(t, reg.Register("X", nil, false), ErrNilFactory)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "EMPTY", StateEmpty.String())
	assert.Equal(t, "FACTORY", StateFactory.String())
	assert.Equal(t, "CONSTRUCTED", StateConstructed.String())
}

func TestConstructionEvents(t *testing.T) {
	rec := &log.Recorder{}
	reg := NewRegistry()
	ctx := context.Background()
	reg.SetEventEmitter(log.NewEmitter(rec, "SN1", nil))

	require.NoError(t, reg.Register("ok", func(context.Context, Resolver) (any, error) { return &widget{}, nil }, false))
	require.NoError(t, reg.Register("bad", func(context.Context, Resolver) (any, error) { return nil, errors.New("boom") }, false))

	_, err := reg.Component(ctx, "ok", true)
	require.NoError(t, err)
	_, err = reg.Component(ctx, "bad", true)
	require.Error(t, err)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, log.CategoryComponent, events[0].Category)
	assert.Equal(t, "ok", events[0].StateChange.Name)
	assert.Equal(t, "CONSTRUCTED", events[0].StateChange.NewState)
	assert.Equal(t, "bad", events[1].StateChange.Name)
	assert.Equal(t, "FACTORY", events[1].StateChange.NewState)
	assert.Contains(t, events[1].StateChange.Reason, "boom")
	assert.Equal(t, "SN1", events[1].DeviceSerial)
}
