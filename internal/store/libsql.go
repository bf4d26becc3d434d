package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/lazerflow/lazerflow/pkg/flow"
)

// LibSQLArchive implements Archive on libSQL (embedded SQLite fork).
type LibSQLArchive struct {
	db *sql.DB
}

// NewLibSQLArchive opens a libSQL database at the given path. The path should
// be a file URI, e.g. "file:/path/to/lazerflow.db".
func NewLibSQLArchive(dbPath string) (*LibSQLArchive, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLArchive{db: db}, nil
}

// Close closes the database.
func (a *LibSQLArchive) Close() error { return a.db.Close() }

// Migrate applies pending schema migrations.
func (a *LibSQLArchive) Migrate(ctx context.Context) error {
	return runMigrations(ctx, a.db)
}

// SaveWorkflow upserts a terminal workflow record.
func (a *LibSQLArchive) SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if rec == nil || rec.ID == "" {
		return flow.NewError(flow.ErrCodeValidation, "workflow record missing id")
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, status, result, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, result=excluded.result,
		   error=excluded.error, completed_at=excluded.completed_at`,
		rec.ID, rec.Name, string(rec.Status),
		nullRaw(rec.Result), nullRaw(rec.Error),
		rec.CreatedAt.UTC(), rec.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", rec.ID, err)
	}
	return nil
}

// GetWorkflow returns the archived record for id, or a NOT_FOUND error.
func (a *LibSQLArchive) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	rec := &WorkflowRecord{}
	var status string
	var result, errJSON sql.NullString
	err := a.db.QueryRowContext(ctx,
		`SELECT id, name, status, result, error, created_at, completed_at
		 FROM workflows WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &status, &result, &errJSON, &rec.CreatedAt, &rec.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, flow.NewErrorf(flow.ErrCodeNotFound, "archived workflow not found: %s", id).WithWorkflow(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	rec.Status = flow.Status(status)
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	if errJSON.Valid {
		rec.Error = []byte(errJSON.String)
	}
	return rec, nil
}

// ListWorkflows returns archived records matching the filter, newest first.
func (a *LibSQLArchive) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowRecord, error) {
	query := `SELECT id, name, status, result, error, created_at, completed_at FROM workflows WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	if filter.Since != nil {
		query += ` AND completed_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY completed_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowRecord
	for rows.Next() {
		rec := &WorkflowRecord{}
		var status string
		var result, errJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &status, &result, &errJSON, &rec.CreatedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		rec.Status = flow.Status(status)
		if result.Valid {
			rec.Result = []byte(result.String)
		}
		if errJSON.Valid {
			rec.Error = []byte(errJSON.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendEvent appends an event with a monotonically increasing per-workflow
// sequence. The sequence read and insert run in one transaction so
// concurrent writers cannot interleave.
func (a *LibSQLArchive) AppendEvent(ctx context.Context, event *Event) error {
	if event == nil || event.WorkflowID == "" {
		return flow.NewError(flow.ErrCodeValidation, "event missing workflow id")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`, event.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?)`,
		event.WorkflowID, event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// GetEvents returns events for a workflow with sequence > since, ordered by
// sequence ascending.
func (a *LibSQLArchive) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, workflow_id, event_type, payload, timestamp, sequence
		 FROM events WHERE workflow_id = ? AND sequence > ?
		 ORDER BY sequence ASC`, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev := &Event{}
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.WorkflowID, &ev.Type, &payload, &ev.Timestamp, &ev.Sequence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Purge removes workflows completed before the cutoff and their events.
func (a *LibSQLArchive) Purge(ctx context.Context, before time.Time) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE workflow_id IN
		   (SELECT id FROM workflows WHERE completed_at < ?)`, before.UTC()); err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE completed_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge workflows: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return n, nil
}

// nullRaw converts an optional JSON payload to a driver value.
func nullRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
