package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable_Classification(t *testing.T) {
	base := errors.New("boom")

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unclassified defaults retryable", base, true},
		{"explicit retryable", Retryable(base), true},
		{"explicit non-retryable", NonRetryable(base), false},
		{"wrapped retryable", fmt.Errorf("op: %w", Retryable(base)), true},
		{"wrapped non-retryable", fmt.Errorf("op: %w", NonRetryable(base)), false},
		{"non-retryable wins over retryable", Retryable(NonRetryable(base)), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", fmt.Errorf("op: %w", context.DeadlineExceeded), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryableWrappersPreserveChain(t *testing.T) {
	base := errors.New("boom")

	if !errors.Is(Retryable(base), base) {
		t.Fatalf("Retryable should wrap, not replace")
	}
	if !errors.Is(NonRetryable(base), base) {
		t.Fatalf("NonRetryable should wrap, not replace")
	}
	if Retryable(nil) != nil || NonRetryable(nil) != nil {
		t.Fatalf("wrapping nil should stay nil")
	}
}

func TestErrorPredicates(t *testing.T) {
	nf := &NotFoundError{ID: "d1"}
	if !IsNotFound(fmt.Errorf("lookup: %w", nf)) {
		t.Fatalf("IsNotFound should see through wrapping")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatalf("IsNotFound false positive")
	}

	it := &InvalidTransitionError{ID: "d1", From: DraftSent, To: DraftApproved}
	if !IsInvalidTransition(fmt.Errorf("approve: %w", it)) {
		t.Fatalf("IsInvalidTransition should see through wrapping")
	}
	if IsInvalidTransition(nf) {
		t.Fatalf("IsInvalidTransition false positive")
	}
}

func TestStateCorruptErrorUnwraps(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &StateCorruptError{Workflow: "digest", Path: "state/digest.json", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
}
