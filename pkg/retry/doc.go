// Package retry provides bounded retry loops with capped exponential
// backoff for fallible startup operations.
//
// The zero policy is deterministic: min(InitialDelay * Multiplier^(n-1),
// MaxDelay) between attempts, no wall-clock budget. Jitter is opt-in.
// Time is injectable (After/Now) so backoff schedules can be asserted in
// tests without sleeping.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return openEngine(ctx)
//	})
//
// A custom retryable check short-circuits on precondition failures:
//
//	err := retry.DoWithRetryable(ctx, cfg, fn, shared.Retryable)
package retry
