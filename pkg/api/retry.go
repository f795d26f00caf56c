package api

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls how an operation is retried when it returns a
// retryable error. MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// The delay before retry n is InitialBackoff * BackoffMultiplier^(n-1),
// capped at MaxBackoff when MaxBackoff > 0. Jitter, when in (0, 1],
// adds a random fraction of the computed delay on top of it.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	Jitter            float64
}

// Do executes op under the given retry policy.
//
// A non-retryable error (see IsRetryable) is returned immediately,
// without consuming the backoff schedule. When all attempts fail with
// retryable errors, Do returns a *RetryExhaustedError wrapping the last
// error with the total attempt count. Backoff sleeps are context-aware:
// cancellation during a sleep aborts with ctx.Err.
func Do(ctx context.Context, p RetryPolicy, op func(context.Context) error) error {
	return retry(ctx, p, op, sleepCtx)
}

func retry(ctx context.Context, p RetryPolicy, op func(context.Context) error, sleep func(context.Context, time.Duration) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	backoff := p.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !IsRetryable(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if p.MaxBackoff > 0 && delay > p.MaxBackoff {
				delay = p.MaxBackoff
			}
			if p.Jitter > 0 {
				delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}

			next := time.Duration(float64(backoff) * multiplier)
			if p.MaxBackoff > 0 && next > p.MaxBackoff {
				backoff = p.MaxBackoff
			} else {
				backoff = next
			}
		}
	}

	return &RetryExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
