package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the runner for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay run execution.
type Observer interface {
	// OnRunStart is called once per run, before the first step.
	OnRunStart(ctx context.Context, rc *RunContext)

	// OnRunFinished is called once per run with the final result,
	// after the last step (or the failure that ended the run).
	OnRunFinished(ctx context.Context, res *RunResult)

	// OnStepStart is called before invoking a step function.
	// stepIndex is the 0-based index into WorkflowDefinition.Steps.
	OnStepStart(ctx context.Context, rc *RunContext, stepName string, stepIndex int)

	// OnStepCompleted is called after a step function returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, rc *RunContext, stepName string, stepIndex int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, rc *RunContext)      {}
func (NoopObserver) OnRunFinished(ctx context.Context, res *RunResult)   {}
func (NoopObserver) OnStepStart(ctx context.Context, rc *RunContext, stepName string, idx int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, rc *RunContext, stepName string, idx int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, rc *RunContext) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, rc)
	}
}

func (c *CompositeObserver) OnRunFinished(ctx context.Context, res *RunResult) {
	for _, o := range c.observers {
		o.OnRunFinished(ctx, res)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, rc *RunContext, stepName string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, rc, stepName, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, rc *RunContext, stepName string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, rc, stepName, idx, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, rc *RunContext) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow", rc.Workflow),
		slog.String("run_id", rc.RunID),
	)
}

func (o *LoggingObserver) OnRunFinished(ctx context.Context, res *RunResult) {
	if res.Success {
		o.Logger.InfoContext(ctx, "run_succeeded",
			slog.String("workflow", res.Workflow),
			slog.String("run_id", res.RunID),
			slog.Duration("duration", res.Duration),
		)
		return
	}
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("workflow", res.Workflow),
		slog.String("run_id", res.RunID),
		slog.Duration("duration", res.Duration),
		slog.Any("error", res.Err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, rc *RunContext, stepName string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow", rc.Workflow),
		slog.String("run_id", rc.RunID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, rc *RunContext, stepName string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("workflow", rc.Workflow),
		slog.String("run_id", rc.RunID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsSucceeded     atomic.Int64
	runsFailed        atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, rc *RunContext) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunFinished(ctx context.Context, res *RunResult) {
	if res.Success {
		m.runsSucceeded.Add(1)
	} else {
		m.runsFailed.Add(1)
	}
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, rc *RunContext, stepName string, idx int, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     m.runsStarted.Load(),
		RunsSucceeded:   m.runsSucceeded.Load(),
		RunsFailed:      m.runsFailed.Load(),
		StepsCompleted:  steps,
		AvgStepDuration: avg,
	}
}
