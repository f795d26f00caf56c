package relay

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestInMemoryRunnerWithObserverAndBasicMetrics verifies that:
//   - NewRunnerWithObserver is usable from the public API
//   - BasicMetrics sees expected run/step counts
//   - The builder and Run helpers work end-to-end without any external infra.
func TestInMemoryRunnerWithObserverAndBasicMetrics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := &BasicMetrics{}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	observer := NewCompositeObserver(
		NewLoggingObserver(logger),
		metrics,
	)

	runner := NewRunnerWithObserver(NewMemoryStores(), observer)

	// Simple 2-step workflow.
	flow := Flow("memory-metrics-workflow").
		Step("first", func(ctx context.Context, rc *RunContext) (any, error) {
			time.Sleep(1 * time.Millisecond)
			return "ok", nil
		}).
		Step("second", func(ctx context.Context, rc *RunContext) (any, error) {
			out, _ := rc.Output("first")
			return out, nil
		})

	require.NoError(t, flow.Register(runner), "Register should succeed")

	res := runner.Run(ctx, flow.Name(), nil)
	require.True(t, res.Success, "workflow should complete successfully")
	require.Equal(t, "ok", res.Outputs["second"])
	require.Equal(t, 0, ExitCode(res))

	snap := metrics.Snapshot()

	require.Equal(t, int64(1), snap.RunsStarted, "expected exactly 1 run started")
	require.Equal(t, int64(1), snap.RunsSucceeded, "expected exactly 1 run succeeded")
	require.Equal(t, int64(0), snap.RunsFailed, "expected 0 run failures")
	require.Equal(t, int64(2), snap.StepsCompleted, "expected 2 steps completed")
	require.Greater(t, snap.AvgStepDuration, time.Duration(0), "expected AvgStepDuration > 0")
}

// TestApprovalPipelineEndToEnd drives the whole pipeline through the
// public API: a workflow produces a draft, a human approves it, and the
// sender receives the final text exactly once.
func TestApprovalPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stores := NewMemoryStores()
	runner := NewRunner(stores)

	flow := Flow("daily-digest").
		Step("summarize", func(ctx context.Context, rc *RunContext) (any, error) {
			return "today: 2 articles", nil
		}).
		Step("store-draft", func(ctx context.Context, rc *RunContext) (any, error) {
			text, _ := rc.Output("summarize")
			d := Draft{
				ID:        rc.RunID,
				CreatedAt: time.Now().UTC(),
				Status:    DraftPending,
				AIText:    text.(string),
			}
			return d.ID, stores.Drafts.Append(ctx, d)
		})
	flow.MustRegister(runner)

	res := runner.Run(ctx, "daily-digest", nil)
	require.True(t, res.Success)
	draftID := res.Outputs["store-draft"].(string)

	var sent []string
	controller := NewController(ControllerConfig{
		Drafts: stores.Drafts,
		Sender: SenderFunc(func(ctx context.Context, text string) error {
			sent = append(sent, text)
			return nil
		}),
		DispatchRetry: Retry(3).Immediate().Policy(),
	})

	dres, err := controller.Approve(ctx, draftID, "today: 2 articles (reviewed)")
	require.NoError(t, err)
	require.Equal(t, DraftSent, dres.Status)
	require.Equal(t, []string{"today: 2 articles (reviewed)"}, sent)

	// The run left a durable audit trail.
	records, err := runner.ReadLog("daily-digest", res.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, records)
}

// TestFileStoresRoundTrip exercises the file-backed bundle through the
// public constructors.
func TestFileStoresRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stores := NewFileStores(t.TempDir())

	runner := NewRunner(stores)

	flow := Flow("durable").
		Step("work", func(ctx context.Context, rc *RunContext) (any, error) {
			return 41 + 1, nil
		})
	flow.MustRegister(runner)

	res := runner.Run(ctx, "durable", nil)
	require.True(t, res.Success)

	records, err := stores.RunLogs.Read("durable", res.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Equal(t, "run started", records[0].Message)
}

func TestFlowBuilderValidation(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { Flow("wf").Step("", nil) })
	require.Panics(t, func() { Flow("wf").Step("a", nil) })
	require.Panics(t, func() {
		Flow("wf").StepWithRetry("a", nil, Retry(3).Policy())
	})

	// Callers may reuse and mutate their policy after the call.
	policy := Retry(3).WithConstantBackoff(time.Second).Policy()
	flow := Flow("wf").StepWithRetry("a", func(ctx context.Context, rc *RunContext) (any, error) {
		return nil, nil
	}, policy)
	policy.MaxAttempts = 99

	require.Equal(t, 3, flow.Definition().Steps[0].Retry.MaxAttempts)
}

func TestNewInMemoryRunnerSmoke(t *testing.T) {
	t.Parallel()

	runner := NewInMemoryRunner()
	flow := Flow("smoke").Step("only", func(ctx context.Context, rc *RunContext) (any, error) {
		return "done", nil
	})
	flow.MustRegister(runner)

	res := runner.Run(context.Background(), "smoke", nil)
	require.True(t, res.Success)
	require.Equal(t, "done", res.Outputs["only"])
}
