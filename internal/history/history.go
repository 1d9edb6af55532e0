// Package history reads the transcripts the agent keeps under its projects
// directory (~/.claude/projects/<projectID>/<sessionID>.jsonl).
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

const transcriptExt = ".jsonl"

// Project is one directory under the projects root.
type Project struct {
	ID       string `json:"id"`
	Path     string `json:"path,omitempty"`
	Sessions int    `json:"sessions"`
	Modified int64  `json:"modified"`
}

// Session describes one transcript file.
type Session struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectID"`
	ProjectPath string `json:"projectPath,omitempty"`
	FirstPrompt string `json:"firstPrompt,omitempty"`
	Modified    int64  `json:"modified"`
}

// Loader reads transcripts rooted at the agent's projects directory.
type Loader struct {
	root  string
	store *storage.Storage
}

// NewLoader creates a loader for root.
func NewLoader(root string) *Loader {
	return &Loader{root: root, store: storage.New(root)}
}

// Root returns the projects directory.
func (l *Loader) Root() string {
	return l.root
}

// Path returns the transcript path of a session.
func (l *Loader) Path(projectID, sessionID string) string {
	return filepath.Join(l.root, projectID, sessionID+transcriptExt)
}

// Load returns the session's transcript as stream messages, oldest first.
// Lines that do not decode are skipped. A missing transcript yields an error
// wrapping storage.ErrNotFound.
func (l *Loader) Load(ctx context.Context, projectID, sessionID string) ([]*types.StreamMessage, error) {
	lines, err := l.store.ReadLines(ctx, []string{projectID, sessionID})
	if err != nil {
		return nil, err
	}

	msgs := make([]*types.StreamMessage, 0, len(lines))
	skipped := 0
	for _, line := range lines {
		msg, err := Decode(line)
		if err != nil {
			skipped++
			continue
		}
		msgs = append(msgs, msg)
	}
	if skipped > 0 {
		logging.Debug().
			Str("sessionID", sessionID).
			Int("skipped", skipped).
			Msg("skipped undecodable transcript lines")
	}
	return msgs, nil
}

// Decode parses one transcript line. The agent's transcripts carry summary
// entries that never appear on the live stream; they decode as meta system
// messages so the display filter can keep or drop them.
func Decode(line []byte) (*types.StreamMessage, error) {
	var head struct {
		Type      string `json:"type"`
		Summary   string `json:"summary"`
		LeafUUID  string `json:"leafUuid"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("failed to decode transcript line: %w", err)
	}

	if head.Type == "summary" {
		return &types.StreamMessage{
			Kind:     types.KindSystem,
			Subtype:  "summary",
			IsMeta:   true,
			Summary:  head.Summary,
			LeafUUID: head.LeafUUID,
			Raw:      json.RawMessage(append([]byte(nil), line...)),
		}, nil
	}

	msg, err := types.ParseStreamMessage(string(line))
	if err != nil {
		return nil, err
	}
	if msg.SessionID == "" {
		msg.SessionID = head.SessionID
	}
	return msg, nil
}

// Projects lists the project directories, most recently modified first.
func (l *Loader) Projects(ctx context.Context) ([]Project, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Project{}, nil
		}
		return nil, fmt.Errorf("failed to read projects directory: %w", err)
	}

	projects := []Project{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		sessions, err := l.Sessions(ctx, entry.Name())
		if err != nil {
			continue
		}
		p := Project{ID: entry.Name(), Sessions: len(sessions)}
		if info, err := entry.Info(); err == nil {
			p.Modified = info.ModTime().UnixMilli()
		}
		for _, s := range sessions {
			if p.Path == "" {
				p.Path = s.ProjectPath
			}
			if s.Modified > p.Modified {
				p.Modified = s.Modified
			}
		}
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Modified > projects[j].Modified })
	return projects, nil
}

// Sessions lists a project's transcripts, most recently modified first.
func (l *Loader) Sessions(ctx context.Context, projectID string) ([]Session, error) {
	dir := filepath.Join(l.root, projectID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("project %s: %w", projectID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read project directory: %w", err)
	}

	sessions := []Session{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, transcriptExt) {
			continue
		}
		s := Session{ID: strings.TrimSuffix(name, transcriptExt), ProjectID: projectID}
		if info, err := entry.Info(); err == nil {
			s.Modified = info.ModTime().UnixMilli()
		}
		s.ProjectPath, s.FirstPrompt = l.peek(ctx, projectID, s.ID)
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Modified > sessions[j].Modified })
	return sessions, nil
}

// peek returns the working directory and first user prompt recorded in a
// transcript.
func (l *Loader) peek(ctx context.Context, projectID, sessionID string) (string, string) {
	msgs, err := l.Load(ctx, projectID, sessionID)
	if err != nil {
		return "", ""
	}
	var cwd, prompt string
	for _, m := range msgs {
		if cwd == "" && m.Cwd != "" {
			cwd = m.Cwd
		}
		if prompt == "" && m.Kind == types.KindUser && !m.IsMeta && !m.Blocks().OnlyToolResults() {
			prompt = m.Text()
		}
		if cwd != "" && prompt != "" {
			break
		}
	}
	return cwd, prompt
}
