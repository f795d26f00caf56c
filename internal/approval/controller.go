// Package approval enforces the draft state machine and coordinates
// the approve -> dispatch side effect exactly once per draft.
package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/relay/pkg/api"
)

// DefaultDispatchRetry is the retry policy applied to dispatch when the
// controller is constructed without an explicit one.
var DefaultDispatchRetry = api.RetryPolicy{
	MaxAttempts:       3,
	InitialBackoff:    2 * time.Second,
	BackoffMultiplier: 2.0,
	MaxBackoff:        30 * time.Second,
}

// Config describes how to construct a Controller. Drafts and Sender
// are required.
type Config struct {
	Drafts api.DraftStore
	Sender api.Sender

	// TestSender, when set, receives TestSend dispatches instead of
	// Sender. Typically a sender configured with a single recipient.
	TestSender api.Sender

	// DispatchRetry wraps the Sender call during Approve.
	// DefaultDispatchRetry when zero.
	DispatchRetry api.RetryPolicy

	Logger *slog.Logger

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Controller implements api.DraftController on top of a DraftStore and
// a Sender.
//
// Exactly-once dispatch rests on the store's atomic Update: the
// pending -> approved transition is the gate, and only the caller that
// wins it performs the send. A crash after that transition but before
// the terminal status write leaves the draft visibly in approved, where
// Stalled can find it; it is never re-read as pending.
type Controller struct {
	drafts     api.DraftStore
	sender     api.Sender
	testSender api.Sender
	retry      api.RetryPolicy
	logger     *slog.Logger
	now        func() time.Time
}

var _ api.DraftController = (*Controller)(nil)

// New creates a Controller from cfg.
func New(cfg Config) *Controller {
	retry := cfg.DispatchRetry
	if retry.MaxAttempts == 0 {
		retry = DefaultDispatchRetry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	testSender := cfg.TestSender
	if testSender == nil {
		testSender = cfg.Sender
	}
	return &Controller{
		drafts:     cfg.Drafts,
		sender:     cfg.Sender,
		testSender: testSender,
		retry:      retry,
		logger:     logger,
		now:        now,
	}
}

// transition applies a guarded status change inside one atomic store
// update. It returns InvalidTransitionError when the draft is not in
// the expected state, so racing callers lose deterministically.
func (c *Controller) transition(ctx context.Context, id string, from, to api.DraftStatus, extra func(*api.Draft)) (api.Draft, error) {
	return c.drafts.Update(ctx, id, func(d *api.Draft) error {
		if d.Status != from {
			return &api.InvalidTransitionError{ID: id, From: d.Status, To: to}
		}
		d.Status = to
		if extra != nil {
			extra(d)
		}
		return nil
	})
}

func (c *Controller) Approve(ctx context.Context, id, finalText string) (*api.DispatchResult, error) {
	// Phase one: claim the draft. Losing a race here means another
	// approval already owns the dispatch, or the draft was already
	// handled; either way the caller gets InvalidTransitionError and
	// the sender is never invoked twice for the same draft.
	approved, err := c.transition(ctx, id, api.DraftPending, api.DraftApproved, func(d *api.Draft) {
		t := c.now()
		d.ApprovedAt = &t
		if finalText != "" {
			d.AIText = finalText
		}
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("draft approved",
		slog.String("draft_id", id),
		slog.Int("text_len", len(approved.AIText)),
	)

	attempts := 0
	dispatchErr := api.Do(ctx, c.retry, func(ctx context.Context) error {
		attempts++
		return c.sender.Send(ctx, approved.AIText)
	})

	final := api.DraftSent
	if dispatchErr != nil {
		final = api.DraftSendFailed
	}

	// Phase two: record the terminal status. The draft is ours (we won
	// phase one), so a non-approved status here means the store was
	// tampered with out of band; surface that instead of overwriting.
	if _, err := c.transition(ctx, id, api.DraftApproved, final, func(d *api.Draft) {
		d.DispatchAttempts += attempts
	}); err != nil {
		return nil, err
	}

	if dispatchErr != nil {
		c.logger.Error("draft dispatch failed",
			slog.String("draft_id", id),
			slog.Int("attempts", attempts),
			slog.Any("error", dispatchErr),
		)
	} else {
		c.logger.Info("draft dispatched",
			slog.String("draft_id", id),
			slog.Int("attempts", attempts),
		)
	}

	return &api.DispatchResult{
		DraftID:  id,
		Status:   final,
		Attempts: attempts,
		Err:      dispatchErr,
	}, nil
}

func (c *Controller) Reject(ctx context.Context, id string) error {
	if _, err := c.transition(ctx, id, api.DraftPending, api.DraftRejected, nil); err != nil {
		return err
	}
	c.logger.Info("draft rejected", slog.String("draft_id", id))
	return nil
}

func (c *Controller) Edit(ctx context.Context, id, text string) error {
	_, err := c.drafts.Update(ctx, id, func(d *api.Draft) error {
		if d.Status != api.DraftPending {
			// Edits after the fact would rewrite what was (or will
			// be) dispatched; only pending drafts are malleable.
			return &api.InvalidTransitionError{ID: id, From: d.Status, To: api.DraftPending}
		}
		d.AIText = text
		return nil
	})
	return err
}

func (c *Controller) TestSend(ctx context.Context, id string) error {
	d, err := c.drafts.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != api.DraftPending {
		return &api.InvalidTransitionError{ID: id, From: d.Status, To: api.DraftPending}
	}

	// One shot, no retry, no transition: the draft stays pending and
	// can still be approved for the full recipient list afterwards.
	return c.testSender.Send(ctx, d.AIText)
}

func (c *Controller) Stalled(ctx context.Context, olderThan time.Duration) ([]api.Draft, error) {
	approved, err := c.drafts.List(ctx, api.DraftApproved)
	if err != nil {
		return nil, err
	}

	cutoff := c.now().Add(-olderThan)
	var stalled []api.Draft
	for _, d := range approved {
		if d.ApprovedAt != nil && d.ApprovedAt.Before(cutoff) {
			stalled = append(stalled, d)
		}
	}
	return stalled, nil
}
