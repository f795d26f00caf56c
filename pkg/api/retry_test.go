package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleep captures requested delays instead of sleeping.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetry_BackoffScheduleIsExponential(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       4,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
	}

	var delays []time.Duration
	calls := 0
	err := retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	}, recordingSleep(&delays))

	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d (%v)", len(want), len(delays), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], delays[i])
		}
	}

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 4 {
		t.Fatalf("expected Attempts=4, got %d", exhausted.Attempts)
	}
}

func TestRetry_MaxBackoffCapsDelay(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 10.0,
		MaxBackoff:        3 * time.Second,
	}

	var delays []time.Duration
	_ = retry(context.Background(), p, func(ctx context.Context) error {
		return errors.New("transient")
	}, recordingSleep(&delays))

	for i, d := range delays {
		if d > 3*time.Second {
			t.Fatalf("sleep %d exceeded cap: %v", i, d)
		}
	}
	if last := delays[len(delays)-1]; last != 3*time.Second {
		t.Fatalf("expected final delay pinned at cap, got %v", last)
	}
}

func TestRetry_JitterStaysWithinFraction(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       4,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 1.0,
		Jitter:            0.5,
	}

	var delays []time.Duration
	_ = retry(context.Background(), p, func(ctx context.Context) error {
		return errors.New("transient")
	}, recordingSleep(&delays))

	for i, d := range delays {
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("sleep %d outside jitter window: %v", i, d)
		}
	}
}

func TestRetry_NonRetryableFailsFast(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second}

	cause := errors.New("bad input")
	var delays []time.Duration
	calls := 0
	err := retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		return NonRetryable(cause)
	}, recordingSleep(&delays))

	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", calls)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", delays)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected original error in chain, got %v", err)
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatalf("non-retryable failure must not be reported as exhaustion")
	}
}

func TestRetry_SuccessAfterFailuresStopsRetrying(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 10 * time.Millisecond}

	var delays []time.Duration
	calls := 0
	err := retry(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, recordingSleep(&delays))

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(delays))
	}
}

func TestRetry_CancellationDuringSleepAborts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry(ctx, p, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	}, func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancel, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetry_ZeroMaxAttemptsMeansSingleCall(t *testing.T) {
	calls := 0
	err := retry(context.Background(), RetryPolicy{}, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	}, recordingSleep(&[]time.Duration{}))

	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 1 {
		t.Fatalf("expected exhaustion after 1 attempt, got %v", err)
	}
}
