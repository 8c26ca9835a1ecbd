package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/fault"
)

func TestBackoff(t *testing.T) {
	t.Run("Sequence", func(t *testing.T) {
		b := New(Config{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2})

		expected := []time.Duration{
			10 * time.Millisecond,
			20 * time.Millisecond,
			40 * time.Millisecond,
			50 * time.Millisecond,
			50 * time.Millisecond,
		}
		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		b := New(Config{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: 0.25})
		d := b.Next()
		if d < 100*time.Millisecond || d > 125*time.Millisecond {
			t.Errorf("Next = %v, want within [100ms, 125ms]", d)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := New(DefaultConfig())
		for i := 0; i < 4; i++ {
			b.Next()
		}
		b.Reset()
		if b.Current() != DefaultInitial {
			t.Errorf("Current after Reset = %v, want %v", b.Current(), DefaultInitial)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts after Reset = %d, want 0", b.Attempts())
		}
	})
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Initial: time.Second, Max: time.Millisecond}.Validate())
	assert.Error(t, Config{MaxRetries: -1}.Validate())
	assert.Error(t, Config{Jitter: 2}.Validate())
}

func TestRetry(t *testing.T) {
	cfg := Config{Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2, MaxRetries: 3}

	t.Run("SucceedsAfterTransientFailures", func(t *testing.T) {
		clk := clock.NewMockClock(time.Unix(0, 0))
		calls := 0
		attempts, err := Retry(context.Background(), clk, cfg, func(context.Context) error {
			calls++
			if calls < 3 {
				return fault.Transient("read", errors.New("stall"))
			}
			return nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, clk.Sleeps())
	})

	t.Run("ExhaustsBudget", func(t *testing.T) {
		clk := clock.NewMockClock(time.Unix(0, 0))
		attempts, err := Retry(context.Background(), clk, cfg, func(context.Context) error {
			return fault.Transient("read", errors.New("stall"))
		}, nil)

		assert.ErrorIs(t, err, fault.ErrTransientIO)
		assert.Equal(t, 4, attempts)
		assert.Len(t, clk.Sleeps(), 3)
	})

	t.Run("NonRetryableReturnsImmediately", func(t *testing.T) {
		clk := clock.NewMockClock(time.Unix(0, 0))
		attempts, err := Retry(context.Background(), clk, cfg, func(context.Context) error {
			return fault.ErrPermissionDenied
		}, nil)

		assert.ErrorIs(t, err, fault.ErrPermissionDenied)
		assert.Equal(t, 1, attempts)
		assert.Empty(t, clk.Sleeps())
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		attempts, err := Retry(ctx, clock.NewMockClock(time.Unix(0, 0)), cfg, func(context.Context) error {
			return nil
		}, nil)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, attempts)
	})

	t.Run("CustomPredicate", func(t *testing.T) {
		errBusy := errors.New("busy")
		calls := 0
		_, err := Retry(context.Background(), clock.NewMockClock(time.Unix(0, 0)), cfg, func(context.Context) error {
			calls++
			if calls == 1 {
				return errBusy
			}
			return nil
		}, func(err error) bool { return errors.Is(err, errBusy) })

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}
