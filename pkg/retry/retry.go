package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config defines retry behavior for a bounded attempt loop.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth of the delay.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// Jitter randomizes each delay by ±25% to avoid lockstep retries.
	Jitter bool
	// Rand is the random source for jitter (defaults to a local source).
	Rand *rand.Rand
	// OnRetry is called before each backoff wait for observability.
	OnRetry func(attempt int, err error, nextDelay time.Duration)
	// After creates a timer channel (for testing, defaults to time.After).
	After func(d time.Duration) <-chan time.Time
	// Now returns current time (for testing, defaults to time.Now).
	Now func() time.Time
}

// DefaultConfig returns the configuration used by the lifecycle manager:
// three attempts with a 500ms base delay doubling up to 5s, no jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Normalize validates the configuration and fills in defaults.
func (c *Config) Normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.InitialDelay <= 0 {
		return errors.New("retry: InitialDelay must be positive")
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.InitialDelay > c.MaxDelay {
		return errors.New("retry: InitialDelay cannot exceed MaxDelay")
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.After == nil {
		c.After = time.After
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Func is an operation that can be retried.
type Func func(ctx context.Context) error

// IsRetryableFunc decides whether an error is worth another attempt.
type IsRetryableFunc func(err error) bool

// ExhaustedError is returned when all attempts failed.
type ExhaustedError struct {
	LastErr  error
	Attempts int
	Elapsed  time.Duration
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted after %s: %v", e.Attempts, e.Elapsed, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// DefaultRetryable retries any non-nil error except context cancellation.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Do executes fn with bounded retries and capped exponential backoff.
func Do(ctx context.Context, config Config, fn Func) error {
	return DoWithRetryable(ctx, config, fn, DefaultRetryable)
}

// DoWithRetryable executes fn with bounded retries, consulting isRetryable
// after each failure. A non-retryable error is returned immediately and
// unchanged; exhausting the budget returns an ExhaustedError wrapping the
// last attempt's error.
func DoWithRetryable(ctx context.Context, config Config, fn Func, isRetryable IsRetryableFunc) error {
	cfg := config
	if err := cfg.Normalize(); err != nil {
		return err
	}

	start := cfg.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		delay := cfg.delayFor(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cfg.After(delay):
		}
	}

	return &ExhaustedError{
		LastErr:  lastErr,
		Attempts: cfg.MaxAttempts,
		Elapsed:  cfg.Now().Sub(start),
	}
}

// delayFor computes min(InitialDelay * Multiplier^(attempt-1), MaxDelay)
// with optional ±25% jitter.
func (c Config) delayFor(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		if delay >= time.Duration(float64(c.MaxDelay)/c.Multiplier) {
			delay = c.MaxDelay
			break
		}
		delay = time.Duration(float64(delay) * c.Multiplier)
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.Jitter && delay > 0 {
		span := delay / 4
		delay = delay - span + time.Duration(c.Rand.Int63n(int64(2*span)+1))
		if delay > c.MaxDelay {
			delay = c.MaxDelay
		}
	}
	return delay
}
