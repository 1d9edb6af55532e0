// Package server provides the HTTP API of claudia.
//
// The server puts session controllers, stored session records, checkpoints
// and agent transcripts behind a chi router, and streams every bus event to
// clients over Server-Sent Events.
//
// # API Endpoints
//
//   - /controller/*: open controllers, submit prompts, cancel turns, manage the queue
//   - /session/*: stored session records, checkpoint policy, checkpoints, diffs, restore and fork
//   - /project/*: projects and transcripts the agent keeps on disk
//   - /process/*: running agent processes and their captured output
//   - /model, /config: model selectors and the effective configuration
//   - /event: real-time event streaming via SSE
//
// # Controllers
//
// A controller is opened on a project path and, optionally, an existing
// session id. Only one controller is open per session; opening the same
// session twice returns the existing handle. Prompts submitted while a turn
// is running are queued and answered with 202 Accepted.
//
// # Errors
//
// Service errors are mapped onto HTTP statuses by writeServiceError. The body
// is always an ErrorResponse with a stable code.
//
// # SSE Implementation
//
// GET /event subscribes to every bus channel. Agent output lines are embedded
// verbatim as JSON; notifications carry their typed payload. The stream can be
// narrowed to one session with ?sessionID= and stripped of raw agent channels
// with ?transport=false. Heartbeats keep idle connections open, and a slow
// client loses events rather than blocking the bus.
//
// # Usage Example
//
//	srv := server.New(server.DefaultConfig(), server.Deps{
//		AppConfig: cfg,
//		Bus:       bus,
//		Sessions:  session.NewManager(opts, loader),
//		Records:   records,
//	})
//	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//		log.Fatal(err)
//	}
package server
