package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazerflow/lazerflow/pkg/flow"
)

func newTestArchive(t *testing.T) *LibSQLArchive {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	a, err := NewLibSQLArchive("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, a.Migrate(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func seedWorkflow(t *testing.T, a *LibSQLArchive, name string, status flow.Status, completedAt time.Time) *WorkflowRecord {
	t.Helper()
	rec := &WorkflowRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Status:      status,
		CreatedAt:   completedAt.Add(-time.Minute),
		CompletedAt: completedAt,
	}
	require.NoError(t, a.SaveWorkflow(context.Background(), rec))
	return rec
}

func TestSaveAndGetWorkflow(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	rec := &WorkflowRecord{
		ID:          uuid.NewString(),
		Name:        "invoice-pipeline",
		Status:      flow.StatusCompleted,
		Result:      json.RawMessage(`{"total":42}`),
		CreatedAt:   time.Now().Add(-time.Hour),
		CompletedAt: time.Now(),
	}
	require.NoError(t, a.SaveWorkflow(ctx, rec))

	got, err := a.GetWorkflow(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "invoice-pipeline", got.Name)
	assert.Equal(t, flow.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"total":42}`, string(got.Result))
	assert.Empty(t, got.Error)
}

func TestSaveWorkflowUpsert(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	rec := seedWorkflow(t, a, "retry-me", flow.StatusFailed, time.Now())
	rec.Status = flow.StatusCompleted
	rec.Result = json.RawMessage(`"ok"`)
	require.NoError(t, a.SaveWorkflow(ctx, rec))

	got, err := a.GetWorkflow(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCompleted, got.Status)
	assert.JSONEq(t, `"ok"`, string(got.Result))
}

func TestGetWorkflowNotFound(t *testing.T) {
	a := newTestArchive(t)

	_, err := a.GetWorkflow(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeNotFound, flow.CodeOf(err))
}

func TestSaveWorkflowMissingID(t *testing.T) {
	a := newTestArchive(t)

	err := a.SaveWorkflow(context.Background(), &WorkflowRecord{Name: "no-id"})
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))
}

func TestListWorkflowsFilters(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	now := time.Now()

	seedWorkflow(t, a, "alpha", flow.StatusCompleted, now.Add(-2*time.Hour))
	seedWorkflow(t, a, "alpha", flow.StatusFailed, now.Add(-time.Hour))
	seedWorkflow(t, a, "beta", flow.StatusCompleted, now)

	all, err := a.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "beta", all[0].Name)

	completed := flow.StatusCompleted
	byStatus, err := a.ListWorkflows(ctx, WorkflowFilter{Status: &completed})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	byName, err := a.ListWorkflows(ctx, WorkflowFilter{Name: "alpha"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	since := now.Add(-90 * time.Minute)
	recent, err := a.ListWorkflows(ctx, WorkflowFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := a.ListWorkflows(ctx, WorkflowFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAppendEventSequencing(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	wfID := uuid.NewString()
	otherID := uuid.NewString()

	for i := 0; i < 3; i++ {
		ev := &Event{WorkflowID: wfID, Type: "workflow.started"}
		require.NoError(t, a.AppendEvent(ctx, ev))
		assert.Equal(t, int64(i+1), ev.Sequence)
	}

	// Sequences are scoped per workflow.
	other := &Event{WorkflowID: otherID, Type: "workflow.started"}
	require.NoError(t, a.AppendEvent(ctx, other))
	assert.Equal(t, int64(1), other.Sequence)

	events, err := a.GetEvents(ctx, wfID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
		assert.False(t, ev.Timestamp.IsZero())
	}

	tail, err := a.GetEvents(ctx, wfID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Sequence)
}

func TestAppendEventPayload(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	wfID := uuid.NewString()

	ev := &Event{
		WorkflowID: wfID,
		Type:       "workflow.completed",
		Payload:    json.RawMessage(`{"from":"running","to":"completed"}`),
	}
	require.NoError(t, a.AppendEvent(ctx, ev))

	events, err := a.GetEvents(ctx, wfID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"from":"running","to":"completed"}`, string(events[0].Payload))
}

func TestPurge(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	now := time.Now()

	old := seedWorkflow(t, a, "old", flow.StatusCompleted, now.Add(-48*time.Hour))
	kept := seedWorkflow(t, a, "fresh", flow.StatusCompleted, now)
	require.NoError(t, a.AppendEvent(ctx, &Event{WorkflowID: old.ID, Type: "workflow.completed"}))
	require.NoError(t, a.AppendEvent(ctx, &Event{WorkflowID: kept.ID, Type: "workflow.completed"}))

	n, err := a.Purge(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = a.GetWorkflow(ctx, old.ID)
	assert.Equal(t, flow.ErrCodeNotFound, flow.CodeOf(err))

	oldEvents, err := a.GetEvents(ctx, old.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, oldEvents)

	_, err = a.GetWorkflow(ctx, kept.ID)
	require.NoError(t, err)
}
