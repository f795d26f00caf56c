package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/relay/internal/persistence"
	"github.com/petrijr/relay/pkg/api"
)

func newTestRunner(t *testing.T) (api.Runner, api.Stores) {
	t.Helper()

	stores := persistence.NewMemoryStores()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Stores: stores, Logger: logger}), stores
}

func TestRunner_RegisterValidation(t *testing.T) {
	r, _ := newTestRunner(t)

	noop := func(ctx context.Context, rc *api.RunContext) (any, error) { return nil, nil }

	require.Error(t, r.Register(api.WorkflowDefinition{Name: "", Steps: []api.StepDefinition{{Name: "a", Fn: noop}}}))
	require.Error(t, r.Register(api.WorkflowDefinition{Name: "empty"}))
	require.Error(t, r.Register(api.WorkflowDefinition{Name: "nameless", Steps: []api.StepDefinition{{Fn: noop}}}))
	require.Error(t, r.Register(api.WorkflowDefinition{Name: "nilfn", Steps: []api.StepDefinition{{Name: "a"}}}))

	def := api.WorkflowDefinition{Name: "ok", Steps: []api.StepDefinition{{Name: "a", Fn: noop}}}
	require.NoError(t, r.Register(def))
	require.Error(t, r.Register(def), "duplicate registration should fail")
}

func TestRunner_HappyPathRecordsEverything(t *testing.T) {
	r, _ := newTestRunner(t)

	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "digest",
		Steps: []api.StepDefinition{
			{Name: "fetch", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				return []string{"a", "b"}, nil
			}},
			{Name: "summarize", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				prev, ok := rc.Output("fetch")
				require.True(t, ok, "later steps should see earlier outputs")
				return fmt.Sprintf("%d articles", len(prev.([]string))), nil
			}},
		},
	}))

	res := r.Run(context.Background(), "digest", map[string]any{"date": "2025-06-01"})
	require.True(t, res.Success)
	require.Equal(t, api.RunSucceeded, res.Status)
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, "2 articles", res.Outputs["summarize"])
	require.Greater(t, res.Duration, time.Duration(0))

	records, err := r.ReadLog("digest", res.RunID)
	require.NoError(t, err)

	var messages []string
	for _, rec := range records {
		require.Equal(t, "digest", rec.Workflow)
		require.Equal(t, res.RunID, rec.RunID)
		messages = append(messages, rec.Message)
	}
	require.Equal(t, []string{
		"run started",
		"step started", "step completed",
		"step started", "step completed",
		"run completed",
	}, messages)

	// Step records carry the step name; run-level ones don't.
	require.Empty(t, records[0].Step)
	require.Equal(t, "fetch", records[1].Step)
	require.Equal(t, "summarize", records[3].Step)
	require.Empty(t, records[len(records)-1].Step)
}

func TestRunner_StepFailureStopsRun(t *testing.T) {
	r, _ := newTestRunner(t)

	secondRan := false
	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "digest",
		Steps: []api.StepDefinition{
			{Name: "fetch", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				return "fetched", nil
			}},
			{Name: "summarize", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				return nil, api.NonRetryable(errors.New("model rejected input"))
			}},
			{Name: "send", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				secondRan = true
				return nil, nil
			}},
		},
	}))

	res := r.Run(context.Background(), "digest", nil)
	require.False(t, res.Success)
	require.Equal(t, api.RunFailed, res.Status)
	require.Error(t, res.Err)
	require.False(t, secondRan, "steps after a failure must not run")

	// Outputs keep what completed before the failure.
	require.Equal(t, map[string]any{"fetch": "fetched"}, res.Outputs)

	records, err := r.ReadLog("digest", res.RunID)
	require.NoError(t, err)

	last := records[len(records)-1]
	require.Equal(t, "step failed", last.Message)
	require.Equal(t, api.LevelError, last.Level)
	require.Equal(t, "summarize", last.Step)
	require.Equal(t, false, last.Data["retryable"])
}

func TestRunner_StepRetrySucceedsAfterTransientFailures(t *testing.T) {
	r, _ := newTestRunner(t)

	attempts := 0
	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "flaky",
		Steps: []api.StepDefinition{
			{
				Name: "fetch",
				Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
					attempts++
					if attempts < 3 {
						return nil, api.Retryable(errors.New("timeout"))
					}
					return "ok", nil
				},
				Retry: &api.RetryPolicy{MaxAttempts: 5},
			},
		},
	}))

	res := r.Run(context.Background(), "flaky", nil)
	require.True(t, res.Success)
	require.Equal(t, 3, attempts)
	require.Equal(t, "ok", res.Outputs["fetch"])
}

func TestRunner_StepRetryExhaustionReportsAttempts(t *testing.T) {
	r, _ := newTestRunner(t)

	attempts := 0
	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "doomed",
		Steps: []api.StepDefinition{
			{
				Name: "fetch",
				Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
					attempts++
					return nil, api.Retryable(errors.New("timeout"))
				},
				Retry: &api.RetryPolicy{MaxAttempts: 3},
			},
		},
	}))

	res := r.Run(context.Background(), "doomed", nil)
	require.False(t, res.Success)
	require.Equal(t, 3, attempts)

	var exhausted *api.RetryExhaustedError
	require.ErrorAs(t, res.Err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)

	records, err := r.ReadLog("doomed", res.RunID)
	require.NoError(t, err)
	last := records[len(records)-1]
	require.Equal(t, "step failed", last.Message)
	require.EqualValues(t, 3, last.Data["attempts"])
}

func TestRunner_PanickingStepIsContainedAndNotRetried(t *testing.T) {
	r, _ := newTestRunner(t)

	attempts := 0
	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "panicky",
		Steps: []api.StepDefinition{
			{
				Name: "explode",
				Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
					attempts++
					panic("nil map write")
				},
				Retry: &api.RetryPolicy{MaxAttempts: 5},
			},
		},
	}))

	var res *api.RunResult
	require.NotPanics(t, func() {
		res = r.Run(context.Background(), "panicky", nil)
	})
	require.False(t, res.Success)
	require.Error(t, res.Err)
	require.Equal(t, 1, attempts, "a panicked step must not be retried")
	require.False(t, api.IsRetryable(res.Err))
}

func TestRunner_UnknownWorkflowFails(t *testing.T) {
	r, _ := newTestRunner(t)

	res := r.Run(context.Background(), "ghost", nil)
	require.False(t, res.Success)
	require.Equal(t, api.RunFailed, res.Status)
	require.Error(t, res.Err)
	require.False(t, api.IsRetryable(res.Err))
	require.Equal(t, 1, api.ExitCode(res))
}

func TestRunner_StepsShareWorkflowScopedState(t *testing.T) {
	r, stores := newTestRunner(t)

	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "stateful",
		Steps: []api.StepDefinition{
			{Name: "write", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				st := api.StateFromContext(ctx)
				require.NotNil(t, st)
				return nil, st.Set(ctx, "last_run", rc.RunID)
			}},
			{Name: "read", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				st := api.StateFromContext(ctx)
				v, ok, err := st.Get(ctx, "last_run")
				require.NoError(t, err)
				require.True(t, ok)
				return v, nil
			}},
		},
	}))

	res := r.Run(context.Background(), "stateful", nil)
	require.True(t, res.Success)
	require.Equal(t, res.RunID, res.Outputs["read"])

	// The state landed under the workflow's namespace and survives the
	// run.
	v, ok, err := stores.State.Get(context.Background(), "stateful", "last_run")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.RunID, v)
}

func TestRunner_ConcurrentRunsGetDistinctLogs(t *testing.T) {
	r, _ := newTestRunner(t)

	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "digest",
		Steps: []api.StepDefinition{
			{Name: "work", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				time.Sleep(time.Millisecond)
				return rc.RunID, nil
			}},
		},
	}))

	results := make(chan *api.RunResult, 4)
	for i := 0; i < 4; i++ {
		go func() {
			results <- r.Run(context.Background(), "digest", nil)
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		res := <-results
		require.True(t, res.Success)
		require.False(t, seen[res.RunID], "run IDs must be unique")
		seen[res.RunID] = true

		records, err := r.ReadLog("digest", res.RunID)
		require.NoError(t, err)
		for _, rec := range records {
			require.Equal(t, res.RunID, rec.RunID, "logs must not interleave across runs")
		}
	}
}

func TestRunner_BrokenLogSinkDoesNotAbortRun(t *testing.T) {
	stores := persistence.NewMemoryStores()
	stores.RunLogs = failingRunLogStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(Config{Stores: stores, Logger: logger})

	require.NoError(t, r.Register(api.WorkflowDefinition{
		Name: "digest",
		Steps: []api.StepDefinition{
			{Name: "work", Fn: func(ctx context.Context, rc *api.RunContext) (any, error) {
				return "ok", nil
			}},
		},
	}))

	res := r.Run(context.Background(), "digest", nil)
	require.True(t, res.Success, "logging must be observational, not load-bearing")
}

type failingRunLogStore struct{}

func (failingRunLogStore) Open(workflow, runID string) (api.RunLogHandle, error) {
	return nil, errors.New("disk full")
}

func (failingRunLogStore) Read(workflow, runID string) ([]api.LogRecord, error) {
	return nil, errors.New("disk full")
}
