package api

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a single run.
type RunStatus string

const (
	RunInitialized RunStatus = "INITIALIZED"
	RunRunning     RunStatus = "RUNNING"
	RunSucceeded   RunStatus = "SUCCEEDED"
	RunFailed      RunStatus = "FAILED"
)

// StepFunc is a single step in a workflow. Its return value is recorded
// in the run context under the step's name.
type StepFunc func(ctx context.Context, rc *RunContext) (any, error)

// StepDefinition describes a named step and its optional retry policy.
type StepDefinition struct {
	Name  string
	Fn    StepFunc
	Retry *RetryPolicy
}

// WorkflowDefinition describes a workflow as a sequence of steps,
// executed strictly in declared order.
type WorkflowDefinition struct {
	Name  string
	Steps []StepDefinition
}

// RunContext is the in-memory container for one run. It threads inputs,
// accumulated step outputs, and run metadata through the step sequence.
// It is owned exclusively by the runner invocation that created it and
// is never persisted; only emitted log records and explicit state store
// writes survive the run.
type RunContext struct {
	RunID     string
	Workflow  string
	Inputs    map[string]any
	StartedAt time.Time

	outputs map[string]any
}

// NewRunContext creates a run context with a freshly generated run ID.
func NewRunContext(workflow string, inputs map[string]any) *RunContext {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &RunContext{
		RunID:     uuid.NewString(),
		Workflow:  workflow,
		Inputs:    inputs,
		StartedAt: time.Now(),
		outputs:   map[string]any{},
	}
}

// Input returns the named input, or nil if absent.
func (rc *RunContext) Input(key string) any {
	return rc.Inputs[key]
}

// Output returns a prior step's output.
func (rc *RunContext) Output(step string) (any, bool) {
	v, ok := rc.outputs[step]
	return v, ok
}

// SetOutput records a step's output under its step-scoped key.
func (rc *RunContext) SetOutput(step string, value any) {
	rc.outputs[step] = value
}

// Outputs returns a copy of all outputs accumulated so far.
func (rc *RunContext) Outputs() map[string]any {
	out := make(map[string]any, len(rc.outputs))
	for k, v := range rc.outputs {
		out[k] = v
	}
	return out
}

// RunResult is the uniform envelope returned to the runner's caller.
// Status is the run's final lifecycle state (RunSucceeded or RunFailed
// once Run returns); Err is populated only when Success is false.
type RunResult struct {
	Success  bool
	Status   RunStatus
	RunID    string
	Workflow string
	Outputs  map[string]any
	Err      error
	Duration time.Duration
}

// Runner executes registered workflows.
type Runner interface {
	// Register registers a workflow definition by name.
	Register(def WorkflowDefinition) error

	// Run executes the named workflow to completion. It never panics
	// and never returns an error directly: every failure, including a
	// panicking step, is contained and reported in the RunResult.
	Run(ctx context.Context, name string, inputs map[string]any) *RunResult

	// ReadLog returns the durable log records of a run, in emission order.
	ReadLog(workflow, runID string) ([]LogRecord, error)
}

// ExitCode maps a run result to the process exit code expected by an
// external scheduler: 0 on success, 1 otherwise.
func ExitCode(res *RunResult) int {
	if res != nil && res.Success {
		return 0
	}
	return 1
}
