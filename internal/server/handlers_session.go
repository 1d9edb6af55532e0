package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencode-ai/claudia/pkg/types"
)

// UpdateSessionRequest renames a session.
type UpdateSessionRequest struct {
	Name string `json:"name"`
}

// RestoreResponse lists the files a restore rewrote or removed.
type RestoreResponse struct {
	Files []string `json:"files"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		if dir := r.URL.Query().Get("directory"); dir != "" {
			projectID = types.ProjectID(dir)
		}
	}

	records, err := s.records.List(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	record, err := s.records.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// updateSession handles PATCH /session/{sessionID}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	record, err := s.records.Rename(r.Context(), chi.URLParam(r, "sessionID"), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// deleteSession handles DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ctrl, ok := s.sessions.FindBySession(sessionID); ok && ctrl.Status().Busy {
		writeError(w, http.StatusConflict, ErrCodeBusy, "session is running")
		return
	}

	if err := s.records.Delete(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// getChildren handles GET /session/{sessionID}/children
func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.records.Children(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if children == nil {
		children = []*types.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, children)
}

// checkpointsEnabled writes a 501 when no checkpoint service is configured.
func (s *Server) checkpointsEnabled(w http.ResponseWriter) bool {
	if s.checkpoints == nil {
		writeError(w, http.StatusNotImplemented, ErrCodeNotConfigured, "checkpoints are not configured")
		return false
	}
	return true
}

// getPolicy handles GET /session/{sessionID}/policy
func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointsEnabled(w) {
		return
	}
	policy, err := s.checkpoints.GetPolicy(r.Context(), chi.URLParam(r, "sessionID"), "", "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// setPolicy handles PUT /session/{sessionID}/policy
func (s *Server) setPolicy(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointsEnabled(w) {
		return
	}
	var policy types.CheckpointPolicy
	if !decodeJSON(w, r, &policy) {
		return
	}
	if err := s.checkpoints.SetPolicy(r.Context(), chi.URLParam(r, "sessionID"), policy); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// listCheckpoints handles GET /session/{sessionID}/checkpoint
func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointsEnabled(w) {
		return
	}
	checkpoints, err := s.checkpoints.List(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if checkpoints == nil {
		checkpoints = []*types.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, checkpoints)
}

// getCheckpoint handles GET /session/{sessionID}/checkpoint/{checkpointID}
func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointsEnabled(w) {
		return
	}
	cp, err := s.checkpoints.Get(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "checkpointID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// diffCheckpoint handles GET /session/{sessionID}/checkpoint/{checkpointID}/diff
func (s *Server) diffCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointsEnabled(w) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	projectPath := getDirectory(r.Context())
	if rec, err := s.records.Get(r.Context(), sessionID); err == nil && rec.ProjectPath != "" {
		projectPath = rec.ProjectPath
	}

	diffs, err := s.checkpoints.Diff(r.Context(), sessionID, chi.URLParam(r, "checkpointID"), projectPath)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diffs)
}

// restoreCheckpoint handles POST /session/{sessionID}/checkpoint/{checkpointID}/restore
func (s *Server) restoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointsEnabled(w) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if _, ctrl, ok := s.sessions.FindBySession(sessionID); ok && ctrl.Status().Busy {
		writeError(w, http.StatusConflict, ErrCodeBusy, "session is running")
		return
	}

	files, err := s.checkpoints.Restore(r.Context(), sessionID, chi.URLParam(r, "checkpointID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, RestoreResponse{Files: files})
}

// forkCheckpoint handles POST /session/{sessionID}/checkpoint/{checkpointID}/fork
func (s *Server) forkCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.checkpointsEnabled(w) {
		return
	}
	var req ForkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	fork := types.ForkRequest{
		CheckpointID:    chi.URLParam(r, "checkpointID"),
		SourceSessionID: sessionID,
		NewSessionID:    uuid.NewString(),
		NewName:         req.Name,
	}
	if rec, err := s.records.Get(r.Context(), sessionID); err == nil {
		fork.ProjectID = rec.ProjectID
		fork.ProjectPath = rec.ProjectPath
	}

	record, err := s.checkpoints.Fork(r.Context(), fork)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}
