package relay

import (
	"fmt"

	"github.com/petrijr/relay/pkg/api"
)

// FlowBuilder provides a fluent API for defining workflows:
//
//	flow := relay.Flow("daily-digest").
//	    Step("fetch", fetchArticles).
//	    StepWithRetry("summarize", summarize, relay.Retry(3).
//	        WithExponentialBackoff(time.Second, 2.0, 30*time.Second).
//	        Policy()).
//	    Step("draft", storeDraft)
//
//	if err := flow.Register(runner); err != nil {
//	    log.Fatal(err)
//	}
//
//	res := runner.Run(ctx, flow.Name(), inputs)
type FlowBuilder struct {
	def api.WorkflowDefinition
}

// Flow creates a new workflow builder with the given name.
func Flow(name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.WorkflowDefinition{
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Name returns the workflow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

// Definition returns the underlying WorkflowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() WorkflowDefinition {
	return b.def
}

// Step appends a basic step to the workflow.
func (b *FlowBuilder) Step(name string, fn StepFunc) *FlowBuilder {
	if name == "" {
		panic("relay: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("relay: step %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: nil,
	})
	return b
}

// StepWithRetry appends a step that uses the given retry policy.
func (b *FlowBuilder) StepWithRetry(name string, fn StepFunc, retry RetryPolicy) *FlowBuilder {
	if name == "" {
		panic("relay: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("relay: step %q has nil function", name))
	}

	// Make a copy so callers can mutate their RetryPolicy after the call
	// without affecting the stored definition.
	r := retry

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: &r,
	})
	return b
}

// Register registers the built workflow with the given runner.
func (b *FlowBuilder) Register(r Runner) error {
	return r.Register(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(r Runner) {
	if err := b.Register(r); err != nil {
		panic(err)
	}
}
