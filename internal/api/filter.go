package api

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

// snapshotFilter evaluates expr-lang predicates against workflow snapshots,
// for the list endpoint's ?filter= parameter. Compiled programs are cached
// and reused across requests.
type snapshotFilter struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newSnapshotFilter() *snapshotFilter {
	return &snapshotFilter{cache: make(map[string]*vm.Program)}
}

// Apply returns the snapshots for which the expression evaluates to true.
// Non-boolean results fail with a VALIDATION_ERROR.
func (f *snapshotFilter) Apply(expression string, snaps []engine.Snapshot) ([]engine.Snapshot, error) {
	if expression == "" {
		return snaps, nil
	}

	prg, err := f.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out := make([]engine.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		res, err := vm.Run(prg, snapshotEnv(snap))
		if err != nil {
			return nil, flow.NewErrorf(flow.ErrCodeValidation,
				"filter evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
		}
		keep, ok := res.(bool)
		if !ok {
			return nil, flow.NewErrorf(flow.ErrCodeValidation,
				"filter %q must evaluate to a boolean", expression)
		}
		if keep {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (f *snapshotFilter) getOrCompile(expression string) (*vm.Program, error) {
	f.mu.RLock()
	if prg, ok := f.cache[expression]; ok {
		f.mu.RUnlock()
		return prg, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if prg, ok := f.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(snapshotEnv(engine.Snapshot{})),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, flow.NewErrorf(flow.ErrCodeValidation,
			"filter compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	f.cache[expression] = prg
	return prg, nil
}

// snapshotEnv exposes one snapshot's fields as expression variables.
func snapshotEnv(snap engine.Snapshot) map[string]any {
	env := map[string]any{
		"id":           snap.ID,
		"name":         snap.Name,
		"status":       string(snap.Status),
		"current_step": snap.CurrentStep,
		"created_at":   snap.CreatedAt,
		"updated_at":   snap.UpdatedAt,
	}
	if snap.Error != nil {
		env["error_code"] = snap.Error.Code
	} else {
		env["error_code"] = ""
	}
	return env
}
