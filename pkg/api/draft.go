package api

import (
	"context"
	"time"
)

// DraftStatus is the lifecycle state of a message draft.
type DraftStatus string

const (
	DraftPending    DraftStatus = "pending"
	DraftApproved   DraftStatus = "approved"
	DraftRejected   DraftStatus = "rejected"
	DraftSent       DraftStatus = "sent"
	DraftSendFailed DraftStatus = "send_failed"
)

// draftTransitions lists the legal status transitions. Everything else
// is rejected with an InvalidTransitionError.
var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftPending:  {DraftApproved, DraftRejected},
	DraftApproved: {DraftSent, DraftSendFailed},
}

// ValidTransition reports whether from -> to is a legal draft transition.
func ValidTransition(from, to DraftStatus) bool {
	for _, next := range draftTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Draft is a unit of AI-produced content awaiting human review.
// The ID is immutable once assigned; AIText is editable only while the
// draft is pending, and the text present at approval time is what gets
// dispatched. Drafts are retained indefinitely for audit.
type Draft struct {
	ID               string      `json:"id"`
	CreatedAt        time.Time   `json:"created_at"`
	Status           DraftStatus `json:"status"`
	AIText           string      `json:"ai_text"`
	SourceSummary    string      `json:"source_summary,omitempty"`
	ApprovedAt       *time.Time  `json:"approved_at,omitempty"`
	DispatchAttempts int         `json:"dispatch_attempts"`
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	out := d
	if d.ApprovedAt != nil {
		t := *d.ApprovedAt
		out.ApprovedAt = &t
	}
	return out
}

// DispatchResult reports the outcome of an approval's dispatch phase.
// Status is DraftSent or DraftSendFailed; Attempts is the number of
// sender calls made; Err carries the final sender error when dispatch
// failed.
type DispatchResult struct {
	DraftID  string      `json:"draft_id"`
	Status   DraftStatus `json:"status"`
	Attempts int         `json:"attempts"`
	Err      error       `json:"-"`
}

// Sender dispatches an approved draft's final text to its recipients.
// Implementations should classify transient failures with Retryable and
// permanent ones with NonRetryable so the controller's retry policy can
// tell them apart.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// DraftController enforces the draft state machine and coordinates the
// approve -> dispatch side effect exactly once per draft.
type DraftController interface {
	// Approve atomically transitions a pending draft to approved,
	// recording finalText as the dispatched text (empty keeps the
	// current text), then dispatches it and records the terminal
	// sent/send_failed status. A draft that is not pending is rejected
	// with an InvalidTransitionError; an unknown id with NotFoundError.
	Approve(ctx context.Context, id, finalText string) (*DispatchResult, error)

	// Reject atomically transitions a pending draft to rejected.
	Reject(ctx context.Context, id string) error

	// Edit rewrites the draft text. Permitted only while pending.
	Edit(ctx context.Context, id, text string) error

	// TestSend dispatches the draft text once through the test sender
	// without any status transition. Permitted only while pending.
	TestSend(ctx context.Context, id string) error

	// Stalled lists drafts stuck in approved for longer than olderThan,
	// i.e. runs that crashed between the approval and the terminal
	// status write. Recovery is an operator decision; Stalled only
	// reports, it never re-dispatches.
	Stalled(ctx context.Context, olderThan time.Duration) ([]Draft, error)
}
