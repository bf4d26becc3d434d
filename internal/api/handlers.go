package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

type startRequest struct {
	Name   string      `json:"name"`
	Params flow.Params `json:"params,omitempty"`
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeValidation, "invalid request body").WithCause(err))
		return
	}
	if req.Name == "" {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeValidation, "missing workflow name"))
		return
	}

	id, err := s.deps.Launcher.StartByName(r.Context(), req.Name, req.Params)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := engine.Filter{Name: q.Get("name")}
	if raw := q.Get("status"); raw != "" {
		status := flow.Status(raw)
		if !status.Valid() {
			s.writeFlowError(w, flow.NewErrorf(flow.ErrCodeValidation, "unknown status: %s", raw))
			return
		}
		f.Status = &status
	}

	snaps := s.deps.Engine.List(f)

	snaps, err := s.filter.Apply(q.Get("filter"), snaps)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}

	if limit := queryInt(r, "limit", 0); limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(snaps),
		"workflows": snaps,
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Engine.Get(r.PathValue("id"))
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStopWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Stop(r.PathValue("id")); err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Engine.StopAll(r.Context())
	writeJSON(w, http.StatusOK, report)
}

type cleanupRequest struct {
	Before time.Time `json:"before"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeValidation, "invalid request body").WithCause(err))
		return
	}
	if req.Before.IsZero() {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeValidation, "missing cutoff time"))
		return
	}

	purged, err := s.deps.Engine.Purge(r.Context(), req.Before)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func (s *Server) handleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeConflict, "event archive is not configured"))
		return
	}

	id := r.PathValue("id")
	since := int64(queryInt(r, "since", 0))
	events, err := s.deps.Archive.GetEvents(r.Context(), id, since)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"events":      events,
	})
}

type definitionView struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	ParamsSchema json.RawMessage `json:"params_schema,omitempty"`
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := s.deps.Launcher.Registry.List()
	out := make([]definitionView, 0, len(defs))
	for _, def := range defs {
		out = append(out, definitionView{
			Name:         def.Name,
			Description:  def.Description,
			ParamsSchema: def.ParamsSchema,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": out})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.deps.Scheduler.List()})
}

type scheduleRequest struct {
	Workflow string      `json:"workflow"`
	Spec     string      `json:"spec"`
	Params   flow.Params `json:"params,omitempty"`
	Enabled  *bool       `json:"enabled,omitempty"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeValidation, "invalid request body").WithCause(err))
		return
	}

	// The workflow must exist so a typo does not sit failing forever.
	if _, err := s.deps.Launcher.Registry.Get(req.Workflow); err != nil {
		s.writeFlowError(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	job, err := s.deps.Scheduler.Add(req.Workflow, req.Spec, req.Params, enabled)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type scheduleUpdateRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeValidation, "invalid request body").WithCause(err))
		return
	}
	if req.Enabled == nil {
		s.writeFlowError(w, flow.NewError(flow.ErrCodeValidation, "missing enabled field"))
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Scheduler.SetEnabled(id, *req.Enabled); err != nil {
		s.writeFlowError(w, err)
		return
	}
	job, err := s.deps.Scheduler.Get(id)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.Trigger(r.Context(), r.PathValue("id")); err != nil {
		s.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.Remove(r.PathValue("id")); err != nil {
		s.writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.deps.Engine.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":   true,
		"total":     health.Total,
		"counts":    health.Counts,
		"executors": health.Executors,
	})
}
