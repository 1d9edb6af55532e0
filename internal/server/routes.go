package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Open session controllers
	r.Route("/controller", func(r chi.Router) {
		r.Get("/", s.listControllers)
		r.Post("/", s.openController)

		r.Route("/{handle}", func(r chi.Router) {
			r.Get("/", s.getController)
			r.Delete("/", s.closeController)
			r.Get("/status", s.controllerStatus)

			r.Post("/prompt", s.submitPrompt)
			r.Post("/continue", s.continuePrompt)
			r.Post("/cancel", s.cancelTurn)
			r.Delete("/queue/{queuedID}", s.removeQueued)
			r.Post("/checkpoint", s.createCheckpoint)
			r.Post("/fork", s.forkController)
		})
	})

	// Stored session records and their checkpoints
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)
			r.Get("/children", s.getChildren)

			r.Get("/policy", s.getPolicy)
			r.Put("/policy", s.setPolicy)

			r.Route("/checkpoint", func(r chi.Router) {
				r.Get("/", s.listCheckpoints)
				r.Get("/{checkpointID}", s.getCheckpoint)
				r.Get("/{checkpointID}/diff", s.diffCheckpoint)
				r.Post("/{checkpointID}/restore", s.restoreCheckpoint)
				r.Post("/{checkpointID}/fork", s.forkCheckpoint)
			})
		})
	})

	// Agent transcripts on disk
	r.Route("/project", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Get("/{projectID}/session", s.listProjectSessions)
		r.Get("/{projectID}/session/{sessionID}", s.getTranscript)
	})

	// Agent processes
	r.Route("/process", func(r chi.Router) {
		r.Get("/", s.listProcesses)
		r.Get("/{runID}/output", s.processOutput)
	})

	r.Get("/model", s.listModels)
	r.Get("/config", s.getConfig)

	// Event streaming (SSE)
	r.Get("/event", s.events)
}
