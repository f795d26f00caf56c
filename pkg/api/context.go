package api

import "context"

// WorkflowState is the view of the persistent state store a step sees:
// the same operations as StateStore, already bound to the workflow that
// owns them.
type WorkflowState interface {
	Get(ctx context.Context, key string) (value any, ok bool, err error)
	Set(ctx context.Context, key string, value any) error
	Update(ctx context.Context, key string, mutate func(value any, ok bool) (any, error)) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]any, error)
}

type stateCtxKey struct{}

// WithState attaches a workflow-bound state view to the context.
// The runner calls this before invoking each step.
func WithState(ctx context.Context, st WorkflowState) context.Context {
	return context.WithValue(ctx, stateCtxKey{}, st)
}

// StateFromContext returns the workflow state attached by the runner,
// or nil when the step runs outside a runner.
func StateFromContext(ctx context.Context) WorkflowState {
	st, _ := ctx.Value(stateCtxKey{}).(WorkflowState)
	return st
}
