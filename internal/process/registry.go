// Package process tracks running agent processes: who started them, which
// session they belong to, their recent output, and how to stop them.
package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/claudia/internal/logging"
)

// DefaultOutputLimit bounds the live output kept per process.
const DefaultOutputLimit = 256 * 1024

var errStillRunning = errors.New("process still running")

// Info describes a registered process.
type Info struct {
	RunID       string    `json:"runID"`
	PID         int       `json:"pid"`
	SessionID   string    `json:"sessionID,omitempty"`
	ProjectPath string    `json:"projectPath"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	StartedAt   time.Time `json:"startedAt"`
}

type entry struct {
	info   Info
	done   chan struct{}
	output []byte
}

// Registry is a concurrency-safe table of running processes.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*entry
	sessions  map[string]string // sessionID -> runID
	maxOutput int

	// signal delivers sig to the process group of pid.
	signal func(pid int, sig syscall.Signal) error
}

// NewRegistry creates an empty registry. maxOutput <= 0 selects DefaultOutputLimit.
func NewRegistry(maxOutput int) *Registry {
	if maxOutput <= 0 {
		maxOutput = DefaultOutputLimit
	}
	return &Registry{
		runs:      make(map[string]*entry),
		sessions:  make(map[string]string),
		maxOutput: maxOutput,
		signal:    signalGroup,
	}
}

// signalGroup signals the whole process group, falling back to the process
// itself when it does not lead a group.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// Register records a started process and returns its run id.
func (r *Registry) Register(info Info) string {
	if info.RunID == "" {
		info.RunID = ulid.Make().String()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[info.RunID] = &entry{info: info, done: make(chan struct{})}
	if info.SessionID != "" {
		r.sessions[info.SessionID] = info.RunID
	}
	return info.RunID
}

// BindSession associates a run with the session id the agent reported.
func (r *Registry) BindSession(runID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok || sessionID == "" {
		return
	}
	if e.info.SessionID != "" && r.sessions[e.info.SessionID] == runID {
		delete(r.sessions, e.info.SessionID)
	}
	e.info.SessionID = sessionID
	r.sessions[sessionID] = runID
}

// Finish marks a run as exited and removes it.
func (r *Registry) Finish(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return
	}
	close(e.done)
	delete(r.runs, runID)
	if r.sessions[e.info.SessionID] == runID {
		delete(r.sessions, e.info.SessionID)
	}
}

// Get returns the process registered under runID.
func (r *Registry) Get(runID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// BySession returns the process currently serving sessionID.
func (r *Registry) BySession(sessionID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID, ok := r.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return r.runs[runID].info, true
}

// Running lists registered processes, oldest first.
func (r *Registry) Running() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.runs))
	for _, e := range r.runs {
		infos = append(infos, e.info)
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// AppendOutput adds a line to the run's live output, discarding the oldest
// bytes beyond the registry limit.
func (r *Registry) AppendOutput(runID, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return
	}
	e.output = append(e.output, line...)
	e.output = append(e.output, '\n')
	if over := len(e.output) - r.maxOutput; over > 0 {
		e.output = append(e.output[:0], e.output[over:]...)
	}
}

// Output returns the run's live output.
func (r *Registry) Output(runID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return ""
	}
	return string(e.output)
}

// KillSession stops the process serving sessionID. See Kill.
func (r *Registry) KillSession(ctx context.Context, sessionID string, grace time.Duration) (bool, error) {
	r.mu.Lock()
	runID, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	return r.Kill(ctx, runID, grace)
}

// Kill sends SIGTERM to the run's process group, waits up to grace for it to
// exit, then sends SIGKILL. It reports false when the run is unknown or had
// already exited.
func (r *Registry) Kill(ctx context.Context, runID string, grace time.Duration) (bool, error) {
	r.mu.Lock()
	e, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	log := logging.Component("process")
	pid := e.info.PID

	if err := r.signal(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return false, nil
		}
		return false, fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	if r.waitExit(ctx, e, grace) {
		log.Debug().Str("runID", runID).Int("pid", pid).Msg("process exited after SIGTERM")
		return true, nil
	}

	log.Warn().Str("runID", runID).Int("pid", pid).Dur("grace", grace).Msg("process ignored SIGTERM, sending SIGKILL")
	if err := r.signal(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return false, fmt.Errorf("kill pid %d: %w", pid, err)
	}
	r.waitExit(ctx, e, grace)
	return true, nil
}

// waitExit polls with exponential backoff until the run finishes or grace elapses.
func (r *Registry) waitExit(ctx context.Context, e *entry, grace time.Duration) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = grace

	err := backoff.Retry(func() error {
		select {
		case <-e.done:
			return nil
		default:
		}
		if !alive(e.info.PID) {
			return nil
		}
		return errStillRunning
	}, backoff.WithContext(b, ctx))
	return err == nil
}

// Cleanup removes runs whose process no longer exists and returns their ids.
func (r *Registry) Cleanup() []string {
	r.mu.Lock()
	var candidates []string
	for runID, e := range r.runs {
		if !alive(e.info.PID) {
			candidates = append(candidates, runID)
		}
	}
	r.mu.Unlock()

	for _, runID := range candidates {
		r.Finish(runID)
	}
	sort.Strings(candidates)
	return candidates
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
