package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lazerflow/lazerflow/internal/logging"
	"github.com/lazerflow/lazerflow/internal/store"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

// errStopped is the internal signal used to unwind a stopped instance. It is
// never surfaced to callers as a failure.
var errStopped = errors.New("workflow stop requested")

// drive is the executor for a single instance: it invokes the current step,
// interprets the returned transition and updates the registry until the
// instance reaches a terminal status. Exactly one drive goroutine exists per
// instance.
func (e *Engine) drive(inst *instance, params flow.Params) {
	defer e.wg.Done()
	defer close(inst.done)

	if err := e.gate.Acquire(inst.stop); err != nil {
		e.finish(inst, flow.StatusCancelled, nil, nil)
		return
	}
	failed := false
	defer func() { e.gate.Release(failed) }()
	defer func() {
		s := inst.currentStatus()
		failed = s == flow.StatusFailed || s == flow.StatusTimedOut
	}()

	inv := invocation{step: flow.StartStep, params: params}
	for {
		if inst.stopped() {
			e.finish(inst, flow.StatusCancelled, nil, nil)
			return
		}

		tr, err := e.invokeStep(inst, inv)
		if err != nil {
			e.failInstance(inst, inv.step, err)
			return
		}

		switch t := tr.(type) {
		case *flow.Complete:
			status, result := terminalOutcome(inst, t)
			e.finish(inst, status, result, nil)
			return

		case *flow.NextStep:
			if t == nil {
				e.failInstance(inst, inv.step, nilTransitionErr())
				return
			}
			inv = invocation{step: t.Step, params: t.Params, timeout: t.Timeout}

		case *flow.WaitAndNextStep:
			if t == nil {
				e.failInstance(inst, inv.step, nilTransitionErr())
				return
			}
			if t.Delay < 0 {
				e.failInstance(inst, inv.step, flow.NewErrorf(flow.ErrCodeValidation,
					"negative wait delay %s", t.Delay))
				return
			}
			if t.Delay > 0 {
				if err := e.waitDelay(inst, t); err != nil {
					return // waitDelay already finished the instance
				}
			}
			inv = invocation{step: t.Step, params: t.Params, timeout: t.Timeout}

		case *flow.Schedule:
			if t == nil {
				e.failInstance(inst, inv.step, nilTransitionErr())
				return
			}
			if err := e.validateTarget(inst, t.Step, t.Params); err != nil {
				e.failInstance(inst, inv.step, err)
				return
			}
			e.deferInvocation(inst, t)
			e.setStatus(inst, flow.StatusWaiting)
			select {
			case inv = <-inst.queue:
			case <-inst.stop:
				e.finish(inst, flow.StatusCancelled, nil, nil)
				return
			}

		default:
			// Unrecognized or typed-nil transition shape: fail fast rather
			// than guessing.
			e.failInstance(inst, inv.step, nilTransitionErr())
			return
		}
	}
}

// invokeStep runs one step invocation raced against its timeout. The timeout
// context is always cancelled on every exit path, so the timer never leaks.
func (e *Engine) invokeStep(inst *instance, inv invocation) (flow.Transition, error) {
	step, err := e.resolveStep(inst, inv.step, inv.params)
	if err != nil {
		return nil, err
	}

	e.markRunning(inst, inv.step)

	timeout := e.effectiveTimeout(inst, inv.timeout)
	ctx := logging.WithStep(logging.WithWorkflowID(context.Background(), inst.id), inv.step)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type stepResult struct {
		tr  flow.Transition
		err error
	}
	ch := make(chan stepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- stepResult{err: flow.NewErrorf(flow.ErrCodeExecution, "step panicked: %v", r)}
			}
		}()
		tr, err := step.Run(sctx, inv.params)
		ch <- stepResult{tr: tr, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.tr == nil {
			return &flow.Complete{}, nil
		}
		return r.tr, nil
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return nil, flow.NewErrorf(flow.ErrCodeTimeout,
				"step %s timed out after %s", inv.step, timeout)
		}
		return nil, errStopped
	case <-inst.stop:
		return nil, errStopped
	}
}

// resolveStep looks up the step in the instance's capability set and checks
// the supplied params against its declared requirements.
func (e *Engine) resolveStep(inst *instance, name string, params flow.Params) (flow.Step, error) {
	step, ok := inst.steps[name]
	if !ok || step.Run == nil {
		return flow.Step{}, flow.NewErrorf(flow.ErrCodeValidation,
			"unknown step %q", name).WithStep(name)
	}
	for _, key := range step.Required {
		if _, ok := params[key]; !ok {
			return flow.Step{}, flow.NewErrorf(flow.ErrCodeValidation,
				"missing required parameter %q for step %q", key, name).WithStep(name)
		}
	}
	return step, nil
}

// validateTarget checks a transition target before it is deferred, so a bad
// Schedule fails the issuing step instead of an orphaned timer later.
func (e *Engine) validateTarget(inst *instance, name string, params flow.Params) error {
	_, err := e.resolveStep(inst, name, params)
	return err
}

// effectiveTimeout resolves a per-transition override against the engine
// default, clamping to the configured ceiling with a warning.
func (e *Engine) effectiveTimeout(inst *instance, override time.Duration) time.Duration {
	if override <= 0 {
		return e.cfg.DefaultStepTimeout
	}
	if override > e.cfg.MaxStepTimeout {
		e.log.Warn("step timeout above ceiling, clamped",
			slog.String("workflow_id", inst.id),
			slog.Duration("requested", override),
			slog.Duration("ceiling", e.cfg.MaxStepTimeout))
		return e.cfg.MaxStepTimeout
	}
	return override
}

// waitDelay suspends the instance for a WaitAndNextStep delay. The wait is
// observably WAITING, cancellable, and bounded by the next step's timeout.
// On any outcome other than a clean elapse it finishes the instance and
// returns a non-nil error.
func (e *Engine) waitDelay(inst *instance, t *flow.WaitAndNextStep) error {
	e.setStatus(inst, flow.StatusWaiting)

	timer := time.NewTimer(t.Delay)
	defer timer.Stop()

	var bound <-chan time.Time
	if limit := e.effectiveTimeout(inst, t.Timeout); t.Delay > limit {
		b := time.NewTimer(limit)
		defer b.Stop()
		bound = b.C
	}

	select {
	case <-timer.C:
		return nil
	case <-bound:
		e.finish(inst, flow.StatusTimedOut, nil, flow.NewErrorf(flow.ErrCodeTimeout,
			"wait of %s exceeded step timeout", t.Delay).WithWorkflow(inst.id))
		return errStopped
	case <-inst.stop:
		e.finish(inst, flow.StatusCancelled, nil, nil)
		return errStopped
	}
}

// deferInvocation registers a Schedule transition as a deferred task keyed by
// the instance. The timer is torn down if the workflow is stopped or goes
// terminal first; a fire after terminal status is silently dropped.
func (e *Engine) deferInvocation(inst *instance, t *flow.Schedule) {
	delay := time.Until(t.At)
	if delay < 0 {
		delay = 0
	}
	inv := invocation{step: t.Step, params: t.Params, timeout: t.Timeout}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-inst.stop:
			return
		case <-inst.term:
			return
		}
		if inst.currentStatus().IsTerminal() {
			e.log.Debug("dropping scheduled step for terminal workflow",
				slog.String("workflow_id", inst.id),
				slog.String("step", inv.step))
			return
		}
		select {
		case inst.queue <- inv:
		case <-inst.stop:
		case <-inst.term:
		}
	}()
}

// markRunning transitions the instance to RUNNING and records the step.
func (e *Engine) markRunning(inst *instance, step string) {
	inst.mu.Lock()
	from := inst.status
	inst.currentStep = step
	if from != flow.StatusRunning {
		inst.status = flow.StatusRunning
	}
	inst.updatedAt = time.Now().UTC()
	inst.mu.Unlock()
	if from != flow.StatusRunning {
		e.emitTransition(inst, from, flow.StatusRunning)
	}
}

// setStatus applies a non-terminal status change through the transition table.
func (e *Engine) setStatus(inst *instance, to flow.Status) {
	inst.mu.Lock()
	from := inst.status
	if from == to {
		inst.mu.Unlock()
		return
	}
	if !isValidTransition(from, to) {
		inst.mu.Unlock()
		e.log.Error("invalid status transition",
			slog.String("workflow_id", inst.id),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return
	}
	inst.status = to
	inst.updatedAt = time.Now().UTC()
	inst.mu.Unlock()
	e.emitTransition(inst, from, to)
}

// failInstance classifies an invocation error and finishes the instance.
func (e *Engine) failInstance(inst *instance, step string, err error) {
	if errors.Is(err, errStopped) {
		e.finish(inst, flow.StatusCancelled, nil, nil)
		return
	}

	var fe *flow.Error
	if !errors.As(err, &fe) {
		fe = flow.NewError(flow.ErrCodeExecution, err.Error()).WithCause(err)
	}
	fe.WithWorkflow(inst.id)
	if fe.Step == "" {
		fe.WithStep(step)
	}

	status := flow.StatusFailed
	if fe.Code == flow.ErrCodeTimeout {
		status = flow.StatusTimedOut
	}
	e.finish(inst, status, nil, fe)
}

// finish applies a terminal status with its result or error, emits the
// transition event and archives the terminal record.
func (e *Engine) finish(inst *instance, status flow.Status, result any, ferr *flow.Error) {
	inst.mu.Lock()
	from := inst.status
	if from.IsTerminal() {
		inst.mu.Unlock()
		return
	}
	inst.status = status
	inst.result = result
	inst.err = ferr
	inst.updatedAt = time.Now().UTC()
	inst.mu.Unlock()
	close(inst.term)

	e.emitTransition(inst, from, status)
	e.archiveTerminal(inst)

	logger := e.log.With(slog.String("workflow_id", inst.id), slog.String("status", string(status)))
	if ferr != nil {
		logger.Warn("workflow finished", slog.String("error", ferr.Error()))
	} else {
		logger.Info("workflow finished")
	}
}

// terminalOutcome resolves a Complete transition against any status the step
// set explicitly on the workflow state.
func terminalOutcome(inst *instance, t *flow.Complete) (flow.Status, any) {
	result := inst.wf.State().Result()
	if t != nil && t.Result != nil {
		result = t.Result
	}
	if explicit := inst.wf.State().Status(); explicit.IsTerminal() {
		return explicit, result
	}
	return flow.StatusCompleted, result
}

func nilTransitionErr() *flow.Error {
	return flow.NewError(flow.ErrCodeValidation, "invalid step transition: unrecognized shape")
}

// emitTransition appends a status-change event to the archive, best effort.
func (e *Engine) emitTransition(inst *instance, from, to flow.Status) {
	if e.archive == nil {
		return
	}
	eventType := eventTypeFor(to)
	if eventType == "" {
		return
	}
	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	if err := e.archive.AppendEvent(context.Background(), &store.Event{
		WorkflowID: inst.id,
		Type:       eventType,
		Payload:    payload,
	}); err != nil {
		e.log.Warn("append event failed",
			slog.String("workflow_id", inst.id),
			slog.String("error", err.Error()))
	}
}

// archiveTerminal writes the terminal snapshot to the archive, best effort.
func (e *Engine) archiveTerminal(inst *instance) {
	if e.archive == nil {
		return
	}
	snap := inst.snapshot()
	rec := &store.WorkflowRecord{
		ID:          snap.ID,
		Name:        snap.Name,
		Status:      snap.Status,
		CreatedAt:   snap.CreatedAt,
		CompletedAt: snap.UpdatedAt,
	}
	if snap.Result != nil {
		if data, err := json.Marshal(snap.Result); err == nil {
			rec.Result = data
		} else {
			rec.Result = json.RawMessage(fmt.Sprintf("%q", fmt.Sprint(snap.Result)))
		}
	}
	if snap.Error != nil {
		data, _ := json.Marshal(snap.Error)
		rec.Error = data
	}
	if err := e.archive.SaveWorkflow(context.Background(), rec); err != nil {
		e.log.Warn("archive workflow failed",
			slog.String("workflow_id", inst.id),
			slog.String("error", err.Error()))
	}
}
