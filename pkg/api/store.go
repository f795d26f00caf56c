package api

import "context"

// RunLogStore stores the durable, append-only log of each run, keyed by
// (workflow, run ID).
type RunLogStore interface {
	// Open returns an append handle for the given run's log. Opening an
	// existing log appends to it; previously written records are never
	// rewritten or truncated.
	Open(workflow, runID string) (RunLogHandle, error)

	// Read returns all records for a run in emission order.
	Read(workflow, runID string) ([]LogRecord, error)
}

// RunLogHandle appends records to one run's log.
type RunLogHandle interface {
	Append(rec LogRecord) error
	Close() error
}

// StateStore is a durable key-value store with one namespace per
// workflow. Writes are atomic at the granularity of a workflow's full
// state document: a reader always sees the last fully-committed write,
// never a partial one. A corrupt document surfaces as a
// *StateCorruptError rather than an empty state.
type StateStore interface {
	// Get returns the value for key, with ok=false when absent.
	// Reading an unknown workflow is not an error.
	Get(ctx context.Context, workflow, key string) (value any, ok bool, err error)

	Set(ctx context.Context, workflow, key string, value any) error

	// Update applies mutate to the value under key and persists the
	// result, holding the store's writer serialization (a lock, a
	// transaction, or a compare-and-swap loop) across the whole
	// read-modify-write. mutate receives the current value, with
	// ok=false when the key is absent, and returns the value to store.
	// An error from mutate aborts the update without persisting.
	// Concurrent Updates on the same key never lose each other's
	// writes; plain Set is last-write-wins.
	Update(ctx context.Context, workflow, key string, mutate func(value any, ok bool) (any, error)) error

	Delete(ctx context.Context, workflow, key string) error

	// All returns the workflow's full state document; empty map for an
	// unknown workflow.
	All(ctx context.Context, workflow string) (map[string]any, error)
}

// DraftStore is the durable collection of message drafts.
//
// Update is read-modify-write atomic with respect to every other
// Update/Append on the collection: implementations serialize writers on
// the whole collection document (a writer lock or a compare-and-swap
// loop), because the document is the unit of durability.
type DraftStore interface {
	// List returns drafts newest first. An empty status means all.
	List(ctx context.Context, status DraftStatus) ([]Draft, error)

	// Get returns a copy of the draft, or *NotFoundError.
	Get(ctx context.Context, id string) (Draft, error)

	// Append adds a new draft; ErrDraftExists on a duplicate ID.
	Append(ctx context.Context, d Draft) error

	// Update applies mutate to the draft under the store's writer lock
	// and persists the result, returning the updated draft. An error
	// from mutate aborts the update without persisting anything.
	// The draft ID is immutable; mutations to it are discarded.
	Update(ctx context.Context, id string, mutate func(*Draft) error) (Draft, error)
}

// Stores bundles the three durable stores so the runtime can depend on
// a single abstraction.
type Stores struct {
	RunLogs RunLogStore
	State   StateStore
	Drafts  DraftStore
}
