package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

// OpenControllerRequest opens a controller on a project, optionally resuming
// a session.
type OpenControllerRequest struct {
	ProjectPath string `json:"projectPath"`
	SessionID   string `json:"sessionID,omitempty"`
}

// OpenControllerResponse identifies the opened controller.
type OpenControllerResponse struct {
	ID     string              `json:"id"`
	Status types.SessionStatus `json:"status"`
}

// PromptRequest submits a prompt to a controller.
type PromptRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// PromptResponse reports whether the prompt started or was queued.
type PromptResponse struct {
	Queued *types.QueuedPrompt `json:"queued,omitempty"`
	Status types.SessionStatus `json:"status"`
}

// ForkRequest branches a session from one of its checkpoints.
type ForkRequest struct {
	CheckpointID string `json:"checkpointID"`
	Name         string `json:"name"`
}

// ForkResponse carries the id of the forked session.
type ForkResponse struct {
	SessionID string `json:"sessionID"`
}

// controller resolves the {handle} URL parameter, writing a 404 when unknown.
func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctrl, err := s.sessions.Get(chi.URLParam(r, "handle"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return ctrl, true
}

// listControllers handles GET /controller
func (s *Server) listControllers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

// openController handles POST /controller
func (s *Server) openController(w http.ResponseWriter, r *http.Request) {
	var req OpenControllerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	projectPath := req.ProjectPath
	if projectPath == "" {
		projectPath = getDirectory(r.Context())
	}
	if projectPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectPath is required")
		return
	}

	// One controller per session.
	if id, ctrl, ok := s.sessions.FindBySession(req.SessionID); ok {
		writeJSON(w, http.StatusOK, OpenControllerResponse{ID: id, Status: ctrl.Status()})
		return
	}

	var record *types.SessionRecord
	if req.SessionID != "" {
		rec, err := s.lookupRecord(r, req.SessionID, projectPath)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		record = rec
	}

	id, ctrl, err := s.sessions.Open(r.Context(), projectPath, record)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, OpenControllerResponse{ID: id, Status: ctrl.Status()})
}

// lookupRecord finds the stored record of sessionID. Sessions started outside
// claudia have no record; they are resumed by id alone.
func (s *Server) lookupRecord(r *http.Request, sessionID, projectPath string) (*types.SessionRecord, error) {
	if s.records != nil {
		rec, err := s.records.Get(r.Context(), sessionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return &types.SessionRecord{
		ID:          sessionID,
		ProjectID:   types.ProjectID(projectPath),
		ProjectPath: projectPath,
	}, nil
}

// getController handles GET /controller/{handle}
func (s *Server) getController(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// controllerStatus handles GET /controller/{handle}/status
func (s *Server) controllerStatus(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Status())
}

// closeController handles DELETE /controller/{handle}
func (s *Server) closeController(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "handle")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// submitPrompt handles POST /controller/{handle}/prompt
func (s *Server) submitPrompt(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req PromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	queued, err := ctrl.Submit(r.Context(), req.Prompt, req.Model)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if queued != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, PromptResponse{Queued: queued, Status: ctrl.Status()})
}

// continuePrompt handles POST /controller/{handle}/continue
func (s *Server) continuePrompt(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req PromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := ctrl.Continue(r.Context(), req.Prompt, req.Model); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PromptResponse{Status: ctrl.Status()})
}

// cancelTurn handles POST /controller/{handle}/cancel
func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.Cancel(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Status())
}

// removeQueued handles DELETE /controller/{handle}/queue/{queuedID}
func (s *Server) removeQueued(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	if !ctrl.Remove(chi.URLParam(r, "queuedID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Queued prompt not found")
		return
	}
	writeSuccess(w)
}

// createCheckpoint handles POST /controller/{handle}/checkpoint
func (s *Server) createCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	cp, err := ctrl.Checkpoint(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

// forkController handles POST /controller/{handle}/fork
func (s *Server) forkController(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req ForkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CheckpointID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "checkpointID and name are required")
		return
	}

	id, err := ctrl.Fork(r.Context(), req.CheckpointID, req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if id == "" {
		writeError(w, http.StatusConflict, ErrCodeBusy, "session has no id yet or checkpoints are disabled")
		return
	}
	writeJSON(w, http.StatusCreated, ForkResponse{SessionID: id})
}
