package backoff

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/fault"
)

// Defaults for device transfer retries.
const (
	// DefaultInitial is the first retry delay.
	DefaultInitial = 5 * time.Millisecond

	// DefaultMax caps the retry delay.
	DefaultMax = 200 * time.Millisecond

	// DefaultMultiplier is the factor by which the delay grows.
	DefaultMultiplier = 2.0

	// DefaultJitter is the maximum jitter as a fraction of the base delay.
	DefaultJitter = 0.2

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
)

// Config configures a Backoff and the Retry loop.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	// MaxRetries is the number of retries after the first attempt.
	// Zero means a single attempt.
	MaxRetries int
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		Initial:    DefaultInitial,
		Max:        DefaultMax,
		Multiplier: DefaultMultiplier,
		Jitter:     DefaultJitter,
		MaxRetries: DefaultMaxRetries,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Initial < 0 || c.Max < 0 {
		return errors.New("backoff: negative delay")
	}
	if c.Max > 0 && c.Initial > c.Max {
		return errors.New("backoff: initial delay exceeds max")
	}
	if c.MaxRetries < 0 {
		return errors.New("backoff: negative MaxRetries")
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return errors.New("backoff: jitter must be within [0, 1]")
	}
	return nil
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	attempts   int

	rng *rand.Rand
}

// New creates a Backoff from cfg, filling unset fields with defaults.
func New(cfg Config) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}

// IsTransient reports whether err is a transient I/O failure.
func IsTransient(err error) bool {
	return errors.Is(err, fault.ErrTransientIO)
}

// Retry calls fn until it succeeds, returns a non-retryable error, the retry
// budget is spent, or ctx is done. It returns the number of attempts made and
// the last error. A nil retryable defaults to IsTransient.
func Retry(ctx context.Context, clk clock.Clock, cfg Config, fn func(context.Context) error, retryable func(error) bool) (int, error) {
	if retryable == nil {
		retryable = IsTransient
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	b := New(cfg)

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if !retryable(err) || attempts > cfg.MaxRetries {
			return attempts, err
		}
		if serr := clk.SleepContext(ctx, b.Next()); serr != nil {
			return attempts, err
		}
	}
}
