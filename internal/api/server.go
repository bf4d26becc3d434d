package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/internal/registry"
	"github.com/lazerflow/lazerflow/internal/scheduler"
	"github.com/lazerflow/lazerflow/internal/store"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

// Deps holds the collaborators the HTTP surface exposes.
type Deps struct {
	Engine    *engine.Engine
	Launcher  *registry.Launcher
	Scheduler *scheduler.Scheduler
	Archive   store.Archive // optional; events endpoint returns 409 without it
	Logger    *slog.Logger
}

// Server is the JSON API over a running engine.
type Server struct {
	deps   Deps
	filter *snapshotFilter
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		deps:   deps,
		filter: newSnapshotFilter(),
	}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /workflows", s.handleStartWorkflow)
	mux.HandleFunc("GET /workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /workflows/{id}/stop", s.handleStopWorkflow)
	mux.HandleFunc("POST /workflows/stop-all", s.handleStopAll)
	mux.HandleFunc("POST /workflows/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /workflows/{id}/events", s.handleWorkflowEvents)

	mux.HandleFunc("GET /definitions", s.handleListDefinitions)

	mux.HandleFunc("GET /schedules", s.handleListSchedules)
	mux.HandleFunc("POST /schedules", s.handleCreateSchedule)
	mux.HandleFunc("PATCH /schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("POST /schedules/{id}/trigger", s.handleTriggerSchedule)
	mux.HandleFunc("DELETE /schedules/{id}", s.handleDeleteSchedule)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// writeFlowError maps structured error codes onto HTTP statuses.
func (s *Server) writeFlowError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error(), Code: flow.ErrCodeExecution}

	var fe *flow.Error
	if errors.As(err, &fe) {
		body.Code = fe.Code
		body.WorkflowID = fe.WorkflowID
		switch fe.Code {
		case flow.ErrCodeNotFound:
			status = http.StatusNotFound
		case flow.ErrCodeValidation:
			status = http.StatusBadRequest
		case flow.ErrCodeConflict:
			status = http.StatusConflict
		}
	}

	if status == http.StatusInternalServerError {
		s.deps.Logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}

type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	WorkflowID string `json:"workflow_id,omitempty"`
}
