package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazerflow/lazerflow/internal/store"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

// Timeout defaults. Configured values above the ceiling are clamped with a
// warning, never silently accepted.
const (
	DefaultStepTimeout = 2 * time.Minute
	MaxStepTimeout     = 10 * time.Minute
)

// stopAllGrace bounds how long StopAll waits for each executor when the
// caller's context carries no deadline.
const stopAllGrace = 10 * time.Second

// Config holds engine configuration.
type Config struct {
	DefaultStepTimeout     time.Duration
	MaxStepTimeout         time.Duration
	MaxConcurrentWorkflows int // 0 = unbounded
}

// Engine creates workflow instances, drives each with its own executor
// goroutine, and maintains the registry of instances and their statuses.
// The registry is the single source of truth for status reads from outside.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	archive store.Archive
	gate    *Gate

	mu        sync.RWMutex
	instances map[string]*instance
	closed    bool

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithArchive attaches a terminal-workflow archive and event log.
func WithArchive(a store.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// New creates an Engine with the given configuration.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		instances: make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if e.cfg.MaxStepTimeout <= 0 || e.cfg.MaxStepTimeout > MaxStepTimeout {
		if e.cfg.MaxStepTimeout > MaxStepTimeout {
			e.log.Warn("max_step_timeout above ceiling, clamped",
				slog.Duration("configured", e.cfg.MaxStepTimeout),
				slog.Duration("ceiling", MaxStepTimeout))
		}
		e.cfg.MaxStepTimeout = MaxStepTimeout
	}
	if e.cfg.DefaultStepTimeout <= 0 {
		e.cfg.DefaultStepTimeout = DefaultStepTimeout
	}
	if e.cfg.DefaultStepTimeout > e.cfg.MaxStepTimeout {
		e.log.Warn("default_step_timeout above max, clamped",
			slog.Duration("configured", e.cfg.DefaultStepTimeout),
			slog.Duration("max", e.cfg.MaxStepTimeout))
		e.cfg.DefaultStepTimeout = e.cfg.MaxStepTimeout
	}
	e.gate = NewGate(e.cfg.MaxConcurrentWorkflows)
	return e
}

// instance is one running execution of a Workflow. Mutable fields are
// written solely by the owning executor goroutine; the mutex exists so
// snapshot reads never race those writes.
type instance struct {
	id        string
	name      string
	wf        flow.Workflow
	steps     flow.StepMap
	createdAt time.Time

	stop     chan struct{} // closed by Stop; observed at every suspension point
	stopOnce sync.Once
	term     chan struct{} // closed on terminal status; tears down scheduled tasks
	done     chan struct{} // closed when the executor goroutine exits
	queue    chan invocation

	mu          sync.Mutex
	status      flow.Status
	currentStep string
	result      any
	err         *flow.Error
	updatedAt   time.Time
}

// invocation is one pending step call with its bound arguments.
type invocation struct {
	step    string
	params  flow.Params
	timeout time.Duration
}

func (in *instance) requestStop() {
	in.stopOnce.Do(func() { close(in.stop) })
}

func (in *instance) stopped() bool {
	select {
	case <-in.stop:
		return true
	default:
		return false
	}
}

func (in *instance) currentStatus() flow.Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// Snapshot is a read-only view of a workflow instance. External layers only
// ever see snapshots, never the live instance.
type Snapshot struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Status      flow.Status `json:"status"`
	CurrentStep string      `json:"current_step,omitempty"`
	Result      any         `json:"result,omitempty"`
	Error       *flow.Error `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (in *instance) snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return Snapshot{
		ID:          in.id,
		Name:        in.name,
		Status:      in.status,
		CurrentStep: in.currentStep,
		Result:      in.result,
		Error:       in.err,
		CreatedAt:   in.createdAt,
		UpdatedAt:   in.updatedAt,
	}
}

// Start validates the workflow, registers a new PENDING instance and hands it
// to an executor goroutine. It returns the new instance id immediately and
// never blocks on workflow completion.
func (e *Engine) Start(ctx context.Context, wf flow.Workflow, params flow.Params) (string, error) {
	if wf == nil {
		return "", flow.NewError(flow.ErrCodeValidation, "workflow is nil")
	}
	steps := wf.Steps()
	entry, ok := steps[flow.StartStep]
	if !ok || entry.Run == nil {
		return "", flow.NewErrorf(flow.ErrCodeValidation,
			"workflow %q does not declare a %q step", wf.Name(), flow.StartStep)
	}

	now := time.Now().UTC()
	inst := &instance{
		id:        uuid.NewString(),
		name:      wf.Name(),
		wf:        wf,
		steps:     steps,
		createdAt: now,
		updatedAt: now,
		status:    flow.StatusPending,
		stop:      make(chan struct{}),
		term:      make(chan struct{}),
		done:      make(chan struct{}),
		queue:     make(chan invocation, 16),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", flow.NewError(flow.ErrCodeConflict, "engine is shut down")
	}
	e.instances[inst.id] = inst
	e.wg.Add(1)
	e.mu.Unlock()

	go e.drive(inst, params)

	e.log.Info("workflow started",
		slog.String("workflow_id", inst.id),
		slog.String("name", inst.name))
	return inst.id, nil
}

// Get returns a read-only snapshot of the instance with the given id.
func (e *Engine) Get(id string) (Snapshot, error) {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if !ok {
		return Snapshot{}, flow.NewErrorf(flow.ErrCodeNotFound, "workflow not found: %s", id).WithWorkflow(id)
	}
	return inst.snapshot(), nil
}

// Stop requests cancellation of the executor for id. Stopping an instance
// that is already terminal is a no-op. The request is asynchronous: the
// CANCELLED status lands once the executor observes the signal.
func (e *Engine) Stop(id string) error {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if !ok {
		return flow.NewErrorf(flow.ErrCodeNotFound, "workflow not found: %s", id).WithWorkflow(id)
	}
	if inst.currentStatus().IsTerminal() {
		return nil
	}
	inst.requestStop()
	return nil
}

// StopReport aggregates the outcome of StopAll. It never raises on the first
// failure; instances that could not be stopped cleanly are listed.
type StopReport struct {
	Requested int           `json:"requested"`
	Stopped   []string      `json:"stopped,omitempty"`
	Failures  []StopFailure `json:"failures,omitempty"`
}

// StopFailure records one instance that failed to stop within the deadline.
type StopFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// StopAll stops every instance not already terminal and waits for each
// executor to cease, bounded by ctx (or a default grace period).
func (e *Engine) StopAll(ctx context.Context) StopReport {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stopAllGrace)
		defer cancel()
	}

	e.mu.RLock()
	targets := make([]*instance, 0, len(e.instances))
	for _, inst := range e.instances {
		if !inst.currentStatus().IsTerminal() {
			targets = append(targets, inst)
		}
	}
	e.mu.RUnlock()

	report := StopReport{Requested: len(targets)}
	for _, inst := range targets {
		inst.requestStop()
	}
	for _, inst := range targets {
		select {
		case <-inst.done:
			report.Stopped = append(report.Stopped, inst.id)
		case <-ctx.Done():
			report.Failures = append(report.Failures, StopFailure{
				ID:    inst.id,
				Error: "executor did not stop before deadline",
			})
		}
	}
	return report
}

// Filter narrows List results.
type Filter struct {
	Status *flow.Status
	Name   string
}

// List returns snapshots of all registered instances matching the filter,
// live and terminal alike.
func (e *Engine) List(f Filter) []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Snapshot, 0, len(e.instances))
	for _, inst := range e.instances {
		snap := inst.snapshot()
		if f.Status != nil && snap.Status != *f.Status {
			continue
		}
		if f.Name != "" && snap.Name != f.Name {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// Health summarizes instance counts by status. No side effects.
type Health struct {
	Total     int                 `json:"total"`
	Counts    map[flow.Status]int `json:"counts"`
	Executors GateMetrics         `json:"executors"`
}

// Health reports instance counts by status for liveness checks.
func (e *Engine) Health() Health {
	h := Health{Counts: make(map[flow.Status]int, len(flow.Statuses))}
	for _, s := range flow.Statuses {
		h.Counts[s] = 0
	}
	e.mu.RLock()
	for _, inst := range e.instances {
		h.Counts[inst.currentStatus()]++
		h.Total++
	}
	e.mu.RUnlock()
	h.Executors = e.gate.Metrics()
	return h
}

// Purge removes terminal instances last updated before the cutoff from the
// registry, and from the archive when one is configured. Returns the number
// of registry entries removed.
func (e *Engine) Purge(ctx context.Context, before time.Time) (int, error) {
	e.mu.Lock()
	removed := 0
	for id, inst := range e.instances {
		snap := inst.snapshot()
		if snap.Status.IsTerminal() && snap.UpdatedAt.Before(before) {
			delete(e.instances, id)
			removed++
		}
	}
	e.mu.Unlock()

	if e.archive != nil {
		if _, err := e.archive.Purge(ctx, before); err != nil {
			return removed, flow.NewErrorf(flow.ErrCodeStore, "purge archive: %s", err.Error()).WithCause(err)
		}
	}
	e.log.Info("purged terminal workflows", slog.Int("removed", removed))
	return removed, nil
}

// Shutdown stops all live instances and waits for their executors to exit.
// New starts are rejected once shutdown begins.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	report := e.StopAll(ctx)
	e.gate.Close()

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return flow.NewError(flow.ErrCodeTimeout, "shutdown deadline exceeded").WithCause(ctx.Err())
	}

	if len(report.Failures) > 0 {
		return flow.NewErrorf(flow.ErrCodeTimeout, "%d workflows did not stop cleanly", len(report.Failures))
	}
	return nil
}
