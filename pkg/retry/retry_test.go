package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// immediateAfter fires timers instantly and records requested delays.
func immediateAfter(delays *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*delays = append(*delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		After:        immediateAfter(&delays),
	}

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Backoff doubles: 100ms then 200ms.
	require.Len(t, delays, 2)
	assert.Equal(t, 100*time.Millisecond, delays[0])
	assert.Equal(t, 200*time.Millisecond, delays[1])
	assert.GreaterOrEqual(t, delays[1], delays[0])
}

func TestDo_DelayCappedAtMax(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
		Multiplier:   2.0,
		After:        immediateAfter(&delays),
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("always")
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	require.Len(t, delays, 4)
	assert.Equal(t, 100*time.Millisecond, delays[0])
	assert.Equal(t, 200*time.Millisecond, delays[1])
	assert.Equal(t, 250*time.Millisecond, delays[2])
	assert.Equal(t, 250*time.Millisecond, delays[3])
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Second,
		After:        immediateAfter(&delays),
	}

	lastErr := errors.New("attempt 3 failure")
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return errors.New("earlier failure")
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, lastErr)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, lastErr, exhausted.LastErr)
}

func TestDoWithRetryable_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("precondition")
	calls := 0
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond}

	err := DoWithRetryable(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return fatal
	}, func(err error) bool { return false })

	// Original error, not an ExhaustedError.
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		After: func(d time.Duration) <-chan time.Time {
			cancel()
			return make(chan time.Time) // never fires
		},
	}

	err := Do(ctx, cfg, func(ctx context.Context) error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_OnRetryObservesAttempts(t *testing.T) {
	var delays []time.Duration
	var attempts []int
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		After:        immediateAfter(&delays),
		OnRetry: func(attempt int, err error, next time.Duration) {
			attempts = append(attempts, attempt)
		},
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("always")
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestConfig_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults ok", DefaultConfig(), false},
		{"zero attempts", Config{InitialDelay: time.Millisecond}, true},
		{"zero delay", Config{MaxAttempts: 1}, true},
		{"delay above max", Config{MaxAttempts: 1, InitialDelay: time.Minute, MaxDelay: time.Second}, true},
		{"multiplier below one", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_JitterStaysWithinBounds(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		After:        immediateAfter(&delays),
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("always")
	})

	require.Len(t, delays, 3)
	base := 100 * time.Millisecond
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, base-base/4)
		assert.LessOrEqual(t, d, time.Second)
		base *= 2
	}
}
