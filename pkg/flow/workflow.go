package flow

import (
	"context"
	"sync"
)

// StartStep is the name of the entry step every workflow must declare.
const StartStep = "start"

// Params is the immutable argument binding passed to a step. It is replaced,
// never mutated, on each transition.
type Params map[string]any

// String returns the string value for key, or "" if absent or not a string.
func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// StepFunc is a single unit of workflow logic bound to an instance.
type StepFunc func(ctx context.Context, p Params) (Transition, error)

// Step declares a named step: its function and the param keys that must be
// present for an invocation to be valid.
type Step struct {
	Run      StepFunc
	Required []string
}

// StepMap is a workflow's capability set: every step a transition may name.
type StepMap map[string]Step

// Workflow is the user-extensible unit of behavior. Implementations embed
// Base and declare their steps; Steps must contain StartStep.
type Workflow interface {
	Name() string
	Steps() StepMap

	// State exposes the shared execution state; provided by Base.
	State() *Base
}

// Base carries the execution state a step may read or write while it runs.
// Workflow implementations embed it. Status writes from a step are respected
// by the executor when the step returns a terminal value.
type Base struct {
	mu       sync.Mutex
	status   Status
	explicit bool
	result   any
}

// State implements the Workflow interface for embedders.
func (b *Base) State() *Base { return b }

// SetStatus records an explicit status chosen by the executing step, for
// example to mark the workflow COMPLETED directly.
func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.explicit = true
	b.mu.Unlock()
}

// Status returns the explicitly set status, or "" if none was set.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.explicit {
		return ""
	}
	return b.status
}

// SetResult records the workflow result.
func (b *Base) SetResult(v any) {
	b.mu.Lock()
	b.result = v
	b.mu.Unlock()
}

// Result returns the recorded workflow result.
func (b *Base) Result() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}
