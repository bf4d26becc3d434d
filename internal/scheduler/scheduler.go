package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lazerflow/lazerflow/pkg/flow"
)

// Starter is the interface the scheduler uses to launch workflows.
// Satisfied by registry.Launcher (avoids import cycle).
type Starter interface {
	StartByName(ctx context.Context, name string, params flow.Params) (string, error)
}

// Job is a recurring workflow launch driven by a cron expression.
type Job struct {
	ID            string      `json:"id"`
	Workflow      string      `json:"workflow"`
	Spec          string      `json:"spec"`
	Params        flow.Params `json:"params,omitempty"`
	Enabled       bool        `json:"enabled"`
	LastRunAt     *time.Time  `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time  `json:"next_run_at,omitempty"`
	LastRunStatus string      `json:"last_run_status,omitempty"`
}

// Scheduler keeps an in-memory job table and launches due jobs on a ticker.
type Scheduler struct {
	starter  Starter
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently launching (dedup)
}

// New creates a Scheduler polling at the given interval (60s if <= 0).
func New(starter Starter, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: interval,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a new job. The cron spec is validated before the job is
// stored and the first NextRunAt is computed immediately.
func (s *Scheduler) Add(workflow, spec string, params flow.Params, enabled bool) (*Job, error) {
	if workflow == "" {
		return nil, flow.NewError(flow.ErrCodeValidation, "schedule missing workflow name")
	}
	next, err := s.CalculateNextRun(spec, time.Now().UTC())
	if err != nil {
		return nil, flow.NewErrorf(flow.ErrCodeValidation, "invalid cron spec %q", spec).WithCause(err)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Workflow:  workflow,
		Spec:      spec,
		Params:    params,
		Enabled:   enabled,
		NextRunAt: &next,
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()
	return cloneJob(job), nil
}

// Get returns a copy of the job with the given id.
func (s *Scheduler) Get(id string) (*Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, flow.NewErrorf(flow.ErrCodeNotFound, "schedule not found: %s", id)
	}
	return cloneJob(job), nil
}

// List returns copies of all jobs sorted by workflow name then id.
func (s *Scheduler) List() []*Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Workflow != out[j].Workflow {
			return out[i].Workflow < out[j].Workflow
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetEnabled toggles a job. Enabling recomputes NextRunAt so a long-disabled
// job does not fire immediately for every missed slot.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return flow.NewErrorf(flow.ErrCodeNotFound, "schedule not found: %s", id)
	}
	if enabled && !job.Enabled {
		next, err := s.CalculateNextRun(job.Spec, time.Now().UTC())
		if err != nil {
			return flow.NewErrorf(flow.ErrCodeValidation, "invalid cron spec %q", job.Spec).WithCause(err)
		}
		job.NextRunAt = &next
	}
	job.Enabled = enabled
	return nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return flow.NewErrorf(flow.ErrCodeNotFound, "schedule not found: %s", id)
	}
	delete(s.jobs, id)
	return nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick launches every enabled job whose NextRunAt has passed. Exported so
// tests and the CLI can force a pass without waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	s.jobsMu.RLock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Enabled && (job.NextRunAt == nil || !job.NextRunAt.After(now)) {
			due = append(due, job)
		}
	}
	s.jobsMu.RUnlock()

	for _, job := range due {
		if !s.tryAcquire(job.ID) {
			continue // previous launch still in flight
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(job.ID)
	}
}

// Trigger runs a job immediately, regardless of its schedule or enabled
// flag. Timestamps advance exactly as for a scheduled firing.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	s.jobsMu.RLock()
	job, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		return flow.NewErrorf(flow.ErrCodeNotFound, "schedule not found: %s", id)
	}
	if !s.tryAcquire(job.ID) {
		return flow.NewErrorf(flow.ErrCodeConflict, "schedule %s is already running", id)
	}
	defer s.release(job.ID)
	return s.runJob(ctx, job, time.Now().UTC())
}

// runJob launches one job's workflow and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow", job.Workflow),
	)

	id, err := s.starter.StartByName(ctx, job.Workflow, job.Params)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled launch failed",
			slog.String("job_id", job.ID),
			slog.String("workflow", job.Workflow),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled workflow started",
			slog.String("job_id", job.ID),
			slog.String("workflow_id", id),
		)
	}

	next, nerr := s.CalculateNextRun(job.Spec, now)
	if nerr != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, nerr)
	}

	s.jobsMu.Lock()
	job.LastRunAt = &now
	job.NextRunAt = &next
	job.LastRunStatus = status
	s.jobsMu.Unlock()
	return nil
}

// tryAcquire marks the job in-flight; false if it already is.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next fire time for a five-field cron spec.
func (s *Scheduler) CalculateNextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduling loop. Job state is retained.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func cloneJob(job *Job) *Job {
	c := *job
	if job.LastRunAt != nil {
		t := *job.LastRunAt
		c.LastRunAt = &t
	}
	if job.NextRunAt != nil {
		t := *job.NextRunAt
		c.NextRunAt = &t
	}
	return &c
}
