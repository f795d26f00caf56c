package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrDraftExists is returned by DraftStore.Append when a draft with the
// same ID is already present.
var ErrDraftExists = errors.New("draft already exists")

// NotFoundError is returned when a draft ID is unknown to the store.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "draft not found: " + e.ID
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidTransitionError is returned when a draft status change is not
// one of the legal transitions. The approval surface should treat it as
// a client error (HTTP 409), never as something to retry.
type InvalidTransitionError struct {
	ID   string
	From DraftStatus
	To   DraftStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("draft %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

// StateCorruptError is returned when a durable state document exists but
// cannot be decoded. It is deliberately loud: returning an empty state
// instead would silently mask data loss.
type StateCorruptError struct {
	Workflow string
	Path     string
	Err      error
}

func (e *StateCorruptError) Error() string {
	return fmt.Sprintf("state for workflow %q corrupt at %s: %v", e.Workflow, e.Path, e.Err)
}

func (e *StateCorruptError) Unwrap() error { return e.Err }

// RetryExhaustedError wraps the final error after a retry budget is spent.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// Retryable marks err as transient: eligible for backoff-and-retry.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// NonRetryable marks err as a permanent caller/input fault that must
// fail fast without consuming the backoff schedule.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryable reports whether err should be retried.
//
// Classification rules, in order:
//   - An explicit NonRetryable wrapper anywhere in the chain wins.
//   - An explicit Retryable wrapper makes it retryable.
//   - Context cancellation and deadline errors are never retried.
//   - Everything unclassified defaults to retryable, matching the
//     behavior callers expect from transient I/O failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nr *nonRetryableError
	if errors.As(err, &nr) {
		return false
	}
	var r *retryableError
	if errors.As(err, &r) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
