package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lazerflow/lazerflow/pkg/flow"
)

// Archive is the persistence contract for terminal workflow records and the
// append-only event log. The engine treats it as best-effort cold storage;
// the in-memory registry stays the source of truth for live reads.
// Implementations must be safe for concurrent use.
type Archive interface {
	SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowRecord, error)

	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error)

	// Purge removes archived workflows (and their events) completed before
	// the cutoff. Returns the number of workflow rows removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

// WorkflowRecord is the archived representation of a terminal workflow.
type WorkflowRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Status      flow.Status     `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Event is an immutable entry in the event log, sequence-numbered per
// workflow.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// WorkflowFilter specifies criteria for listing archived workflows.
type WorkflowFilter struct {
	Status *flow.Status
	Name   string
	Since  *time.Time
	Limit  int
}
