package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/relay/pkg/api"
)

// runnerImpl is a synchronous, in-process runner. Each Run invocation
// executes the workflow's steps strictly in declared order, contains
// every failure inside the returned RunResult, and records the run's
// history through the run log store.
type runnerImpl struct {
	mu        sync.RWMutex
	workflows map[string]api.WorkflowDefinition

	stores   api.Stores
	observer api.Observer
	logger   *slog.Logger
}

// Config describes how to construct a runner. Only Stores is required.
type Config struct {
	Stores   api.Stores
	Observer api.Observer
	Logger   *slog.Logger
}

// New creates a Runner using the given configuration.
func New(cfg Config) api.Runner {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &runnerImpl{
		workflows: make(map[string]api.WorkflowDefinition),
		stores:    cfg.Stores,
		observer:  obs,
		logger:    logger,
	}
}

func (r *runnerImpl) Register(def api.WorkflowDefinition) error {
	if def.Name == "" {
		return errors.New("workflow name is required")
	}
	if len(def.Steps) == 0 {
		return errors.New("workflow must have at least one step")
	}
	for _, step := range def.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s has a step with no name", def.Name)
		}
		if step.Fn == nil {
			return fmt.Errorf("workflow %s: step %q has nil function", def.Name, step.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[def.Name]; ok {
		return fmt.Errorf("workflow already registered: %s", def.Name)
	}
	r.workflows[def.Name] = def
	return nil
}

func (r *runnerImpl) definition(name string) (api.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.workflows[name]
	return def, ok
}

func (r *runnerImpl) ReadLog(workflow, runID string) ([]api.LogRecord, error) {
	return r.stores.RunLogs.Read(workflow, runID)
}

// Run executes a workflow to completion. It never lets a failure
// escape: step errors, unknown workflows, and panicking steps all end
// up as RunResult{Success: false}.
func (r *runnerImpl) Run(ctx context.Context, name string, inputs map[string]any) (res *api.RunResult) {
	rc := api.NewRunContext(name, inputs)
	log := r.openRunLog(rc)
	defer log.close()

	r.observer.OnRunStart(ctx, rc)

	res = &api.RunResult{
		Status:   api.RunInitialized,
		RunID:    rc.RunID,
		Workflow: name,
	}
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("run panicked: %v", p)
			log.record(api.LevelCritical, "run aborted", map[string]any{"panic": fmt.Sprint(p)})
			res.Success = false
			res.Err = err
		}
		if res.Success {
			res.Status = api.RunSucceeded
		} else {
			res.Status = api.RunFailed
		}
		res.Outputs = rc.Outputs()
		res.Duration = time.Since(rc.StartedAt)
		r.observer.OnRunFinished(ctx, res)
	}()

	log.record(api.LevelInfo, "run started", map[string]any{"inputs": rc.Inputs})

	def, ok := r.definition(name)
	if !ok {
		err := api.NonRetryable(fmt.Errorf("unknown workflow: %s", name))
		log.record(api.LevelError, "run failed", map[string]any{"error": err.Error()})
		res.Err = err
		return res
	}

	res.Status = api.RunRunning

	// Steps see the state store scoped to their own workflow.
	stepCtx := api.WithState(ctx, &boundState{store: r.stores.State, workflow: name})

	for i, step := range def.Steps {
		log.step = step.Name
		log.record(api.LevelInfo, "step started", nil)
		r.observer.OnStepStart(ctx, rc, step.Name, i)

		start := time.Now()
		out, err := r.executeStep(stepCtx, step, rc)
		duration := time.Since(start)

		r.observer.OnStepCompleted(ctx, rc, step.Name, i, err, duration)

		if err != nil {
			detail := map[string]any{
				"error":     err.Error(),
				"retryable": api.IsRetryable(err),
			}
			var exhausted *api.RetryExhaustedError
			if errors.As(err, &exhausted) {
				detail["attempts"] = exhausted.Attempts
			}
			log.record(api.LevelError, "step failed", detail)

			res.Err = err
			return res
		}

		rc.SetOutput(step.Name, out)
		log.record(api.LevelInfo, "step completed", map[string]any{
			"duration_ms": duration.Milliseconds(),
		})
	}

	log.step = ""
	log.record(api.LevelInfo, "run completed", nil)
	res.Success = true
	return res
}

// executeStep invokes one step, applying its retry policy when present.
// A panicking step is converted into a non-retryable error here so a
// retry policy never re-runs a step that panicked.
func (r *runnerImpl) executeStep(ctx context.Context, step api.StepDefinition, rc *api.RunContext) (any, error) {
	call := func(ctx context.Context) (out any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = api.NonRetryable(fmt.Errorf("step %s panicked: %v", step.Name, p))
			}
		}()
		return step.Fn(ctx, rc)
	}

	if step.Retry == nil {
		return call(ctx)
	}

	var out any
	err := api.Do(ctx, *step.Retry, func(ctx context.Context) error {
		var callErr error
		out, callErr = call(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// boundState scopes the state store to one workflow's namespace.
type boundState struct {
	store    api.StateStore
	workflow string
}

var _ api.WorkflowState = (*boundState)(nil)

func (b *boundState) Get(ctx context.Context, key string) (any, bool, error) {
	return b.store.Get(ctx, b.workflow, key)
}

func (b *boundState) Set(ctx context.Context, key string, value any) error {
	return b.store.Set(ctx, b.workflow, key, value)
}

func (b *boundState) Update(ctx context.Context, key string, mutate func(value any, ok bool) (any, error)) error {
	return b.store.Update(ctx, b.workflow, key, mutate)
}

func (b *boundState) Delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, b.workflow, key)
}

func (b *boundState) All(ctx context.Context) (map[string]any, error) {
	return b.store.All(ctx, b.workflow)
}
