package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/pkg/types"
)

// ErrNotOpen is returned for an unknown controller handle.
var ErrNotOpen = errors.New("session controller not open")

// HistorySource loads the stored transcript of a session.
type HistorySource interface {
	Load(ctx context.Context, projectID, sessionID string) ([]*types.StreamMessage, error)
}

// Handle identifies an open controller.
type Handle struct {
	ID     string              `json:"id"`
	Status types.SessionStatus `json:"status"`
}

// Manager keeps the controllers open in this process. Every controller shares
// the launcher, transport and services of the template options.
type Manager struct {
	base    Options
	history HistorySource

	mu   sync.RWMutex
	open map[string]*Controller
}

// NewManager creates a manager. base supplies everything but the project and
// session of each controller. history may be nil.
func NewManager(base Options, history HistorySource) *Manager {
	return &Manager{
		base:    base,
		history: history,
		open:    make(map[string]*Controller),
	}
}

// Open creates a controller for projectPath. When record is set the
// controller resumes it and its stored transcript seeds the ledger; a missing
// transcript is not an error.
func (m *Manager) Open(ctx context.Context, projectPath string, record *types.SessionRecord) (string, *Controller, error) {
	opts := m.base
	opts.ProjectPath = projectPath
	opts.Session = record
	opts.History = nil

	if record != nil && m.history != nil {
		projectID := record.ProjectID
		if projectID == "" {
			projectID = types.ProjectID(projectPath)
		}
		msgs, err := m.history.Load(ctx, projectID, record.ID)
		if err != nil {
			logging.Debug().Err(err).Str("sessionID", record.ID).Msg("no stored history for session")
		}
		opts.History = msgs
	}

	ctrl, err := NewController(opts)
	if err != nil {
		return "", nil, fmt.Errorf("open session: %w", err)
	}

	id := ulid.Make().String()
	m.mu.Lock()
	m.open[id] = ctrl
	m.mu.Unlock()

	logging.Info().Str("handle", id).Str("projectPath", projectPath).Msg("session controller opened")
	return id, ctrl, nil
}

// Get returns the controller with handle id.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.open[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotOpen)
	}
	return ctrl, nil
}

// FindBySession returns the open controller following sessionID.
func (m *Manager) FindBySession(sessionID string) (string, *Controller, bool) {
	if sessionID == "" {
		return "", nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, ctrl := range m.open {
		if ctrl.SessionID() == sessionID {
			return id, ctrl, true
		}
	}
	return "", nil, false
}

// List returns the open controllers ordered by handle, oldest first.
func (m *Manager) List() []Handle {
	m.mu.RLock()
	handles := make([]Handle, 0, len(m.open))
	for id, ctrl := range m.open {
		handles = append(handles, Handle{ID: id, Status: ctrl.Status()})
	}
	m.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	return handles
}

// Close closes and forgets the controller with handle id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	ctrl, ok := m.open[id]
	delete(m.open, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotOpen)
	}
	return ctrl.Close()
}

// CloseAll closes every open controller.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := m.open
	m.open = make(map[string]*Controller)
	m.mu.Unlock()

	for _, ctrl := range open {
		ctrl.Close()
	}
}
