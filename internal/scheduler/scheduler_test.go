package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazerflow/lazerflow/pkg/flow"
)

// mockStarter records StartByName calls.
type mockStarter struct {
	mu     sync.Mutex
	calls  []string
	params []flow.Params
	err    error
}

func (m *mockStarter) StartByName(_ context.Context, name string, params flow.Params) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	m.params = append(m.params, params)
	if m.err != nil {
		return "", m.err
	}
	return "wf-" + name, nil
}

func (m *mockStarter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestScheduler(starter Starter) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(starter, logger, time.Minute)
}

func TestAddValidatesSpec(t *testing.T) {
	s := newTestScheduler(&mockStarter{})

	job, err := s.Add("nightly-report", "0 3 * * *", flow.Params{"day": "today"}, true)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()))

	_, err = s.Add("bad", "not a cron spec", nil, true)
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))

	_, err = s.Add("", "* * * * *", nil, true)
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))
}

func TestGetAndRemove(t *testing.T) {
	s := newTestScheduler(&mockStarter{})

	job, err := s.Add("cleanup", "*/5 * * * *", nil, true)
	require.NoError(t, err)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "cleanup", got.Workflow)

	require.NoError(t, s.Remove(job.ID))
	_, err = s.Get(job.ID)
	assert.Equal(t, flow.ErrCodeNotFound, flow.CodeOf(err))
	assert.Equal(t, flow.ErrCodeNotFound, flow.CodeOf(s.Remove(job.ID)))
}

func TestListSorted(t *testing.T) {
	s := newTestScheduler(&mockStarter{})
	_, err := s.Add("zeta", "* * * * *", nil, true)
	require.NoError(t, err)
	_, err = s.Add("alpha", "* * * * *", nil, false)
	require.NoError(t, err)

	jobs := s.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "alpha", jobs[0].Workflow)
	assert.Equal(t, "zeta", jobs[1].Workflow)
}

func TestTickRunsDueJobs(t *testing.T) {
	starter := &mockStarter{}
	s := newTestScheduler(starter)

	job, err := s.Add("due-now", "* * * * *", flow.Params{"k": "v"}, true)
	require.NoError(t, err)

	// Force the job to be due.
	past := time.Now().UTC().Add(-time.Minute)
	s.jobsMu.Lock()
	s.jobs[job.ID].NextRunAt = &past
	s.jobsMu.Unlock()

	s.Tick(context.Background())

	require.Equal(t, 1, starter.callCount())
	assert.Equal(t, "due-now", starter.calls[0])
	assert.Equal(t, "v", starter.params[0].String("k"))

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", got.LastRunStatus)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC().Add(-time.Second)))

	// Next run was pushed forward, so a second tick launches nothing.
	s.Tick(context.Background())
	assert.Equal(t, 1, starter.callCount())
}

func TestTickSkipsDisabledJobs(t *testing.T) {
	starter := &mockStarter{}
	s := newTestScheduler(starter)

	job, err := s.Add("disabled", "* * * * *", nil, false)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	s.jobsMu.Lock()
	s.jobs[job.ID].NextRunAt = &past
	s.jobsMu.Unlock()

	s.Tick(context.Background())
	assert.Equal(t, 0, starter.callCount())

	require.NoError(t, s.SetEnabled(job.ID, true))
	// Re-enabling recomputes NextRunAt into the future.
	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestTickRecordsLaunchError(t *testing.T) {
	starter := &mockStarter{err: flow.NewError(flow.ErrCodeNotFound, "unknown workflow")}
	s := newTestScheduler(starter)

	job, err := s.Add("broken", "* * * * *", nil, true)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	s.jobsMu.Lock()
	s.jobs[job.ID].NextRunAt = &past
	s.jobsMu.Unlock()

	s.Tick(context.Background())

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", got.LastRunStatus)
}

func TestTriggerRunsImmediately(t *testing.T) {
	starter := &mockStarter{}
	s := newTestScheduler(starter)

	job, err := s.Add("manual", "0 3 * * *", flow.Params{"mode": "now"}, false)
	require.NoError(t, err)

	// Disabled jobs can still be triggered by hand.
	require.NoError(t, s.Trigger(context.Background(), job.ID))
	require.Equal(t, 1, starter.callCount())
	assert.Equal(t, "manual", starter.calls[0])

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", got.LastRunStatus)
	require.NotNil(t, got.LastRunAt)

	err = s.Trigger(context.Background(), "missing")
	assert.Equal(t, flow.ErrCodeNotFound, flow.CodeOf(err))
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestScheduler(&mockStarter{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	// Stop is idempotent.
	require.NoError(t, s.Stop())

	// Restart after stop is allowed.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestCalculateNextRun(t *testing.T) {
	s := newTestScheduler(&mockStarter{})

	from := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 27, 3, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("bogus", from)
	assert.Error(t, err)
}
