package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/claudia/internal/history"
	"github.com/opencode-ai/claudia/internal/model"
	"github.com/opencode-ai/claudia/internal/process"
	"github.com/opencode-ai/claudia/pkg/types"
)

// TranscriptResponse is a session's stored transcript.
type TranscriptResponse struct {
	SessionID string                 `json:"sessionID"`
	Messages  []*types.StreamMessage `json:"messages"`
}

// ProcessOutputResponse is the live output of an agent process.
type ProcessOutputResponse struct {
	RunID  string `json:"runID"`
	Output string `json:"output"`
}

// ModelsResponse lists the model selectors.
type ModelsResponse struct {
	Default string        `json:"default"`
	Aliases []model.Alias `json:"aliases"`
}

// listProjects handles GET /project
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.history.Projects(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if projects == nil {
		projects = []history.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// listProjectSessions handles GET /project/{projectID}/session
func (s *Server) listProjectSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.history.Sessions(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// getTranscript handles GET /project/{projectID}/session/{sessionID}
func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := s.history.Load(r.Context(), chi.URLParam(r, "projectID"), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*types.StreamMessage{}
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{SessionID: sessionID, Messages: msgs})
}

// listProcesses handles GET /process
func (s *Server) listProcesses(w http.ResponseWriter, r *http.Request) {
	running := []process.Info{}
	if s.processes != nil {
		s.processes.Cleanup()
		running = append(running, s.processes.Running()...)
	}
	writeJSON(w, http.StatusOK, running)
}

// processOutput handles GET /process/{runID}/output
func (s *Server) processOutput(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if s.processes == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Process not found")
		return
	}
	if _, ok := s.processes.Get(runID); !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Process not found")
		return
	}
	writeJSON(w, http.StatusOK, ProcessOutputResponse{RunID: runID, Output: s.processes.Output(runID)})
}

// listModels handles GET /model
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{
		Default: s.appConfig.DefaultModelOrFallback(),
		Aliases: model.Aliases(),
	})
}

// getConfig handles GET /config
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.appConfig
	if cfg == nil {
		cfg = &types.Config{}
	}
	writeJSON(w, http.StatusOK, cfg)
}
