// Package checkpoint snapshots finished turns and branches new sessions from
// them.
//
// A checkpoint records the transcript at the end of a turn together with the
// files the turn touched. File content lives in content-addressed blobs so
// unchanged files cost nothing across checkpoints. Checkpoints are numbered
// per session; each points at its predecessor.
//
// Storage layout under the service's root:
//
//	policy/<sessionID>.json
//	checkpoint/<sessionID>/<checkpointID>.json   checkpoint metadata
//	checkpoint/<sessionID>/<checkpointID>.jsonl  transcript at that point
//	session/<projectID>/<sessionID>.json         records written by Fork
//	blobs/..                                     file content
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

// maxSnapshotSize bounds the files captured by a checkpoint.
const maxSnapshotSize = 10 * 1024 * 1024

// ErrInvalidStrategy is returned by SetPolicy for unknown strategies.
var ErrInvalidStrategy = errors.New("invalid checkpoint strategy")

// destructiveTools modify files named in their input.
var destructiveTools = map[string]bool{
	"write":        true,
	"edit":         true,
	"multiedit":    true,
	"notebookedit": true,
}

// SessionKey is the storage key of a session record.
func SessionKey(projectID, sessionID string) []string {
	return []string{"session", projectID, sessionID}
}

func policyKey(sessionID string) []string {
	return []string{"policy", sessionID}
}

func checkpointKey(sessionID, checkpointID string) []string {
	return []string{"checkpoint", sessionID, checkpointID}
}

// Options configures a Service.
type Options struct {
	// Defaults is the policy of sessions without a stored one.
	Defaults types.CheckpointPolicy
	// Transcripts, when set, receives a forked session's transcript at
	// <projectID>/<sessionID>.jsonl so the agent can resume it.
	Transcripts *storage.Storage
	Bus         *event.Bus
}

// Service manages checkpoint policies, checkpoints and forks.
type Service struct {
	storage     *storage.Storage
	transcripts *storage.Storage
	defaults    types.CheckpointPolicy
	bus         *event.Bus

	// mu serialises index assignment.
	mu sync.Mutex
}

// NewService creates a checkpoint service storing under store.
func NewService(store *storage.Storage, opts Options) *Service {
	if !opts.Defaults.Strategy.Valid() {
		opts.Defaults.Strategy = types.DefaultStrategy
	}
	return &Service{
		storage:     store,
		transcripts: opts.Transcripts,
		defaults:    opts.Defaults,
		bus:         opts.Bus,
	}
}

// GetPolicy returns the session's checkpoint policy, or the defaults when none
// has been stored.
func (s *Service) GetPolicy(ctx context.Context, sessionID, projectID, projectPath string) (types.CheckpointPolicy, error) {
	var policy types.CheckpointPolicy
	err := s.storage.Get(ctx, policyKey(sessionID), &policy)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.defaults, nil
	case err != nil:
		return types.CheckpointPolicy{}, fmt.Errorf("failed to read checkpoint policy: %w", err)
	}
	if !policy.Strategy.Valid() {
		policy.Strategy = s.defaults.Strategy
	}
	return policy, nil
}

// SetPolicy stores the session's checkpoint policy.
func (s *Service) SetPolicy(ctx context.Context, sessionID string, policy types.CheckpointPolicy) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	if !policy.Strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, policy.Strategy)
	}
	return s.storage.Put(ctx, policyKey(sessionID), policy)
}

// ShouldCheckpoint reports whether a turn with the given tool uses is due for a
// checkpoint under policy.
func ShouldCheckpoint(policy types.CheckpointPolicy, uses []types.ToolUse) bool {
	if !policy.AutoEnabled {
		return false
	}
	switch policy.Strategy {
	case types.StrategyPerPrompt:
		return true
	case types.StrategyPerToolUse:
		return len(uses) > 0
	case types.StrategySmart:
		for _, u := range uses {
			if isDestructive(u) {
				return true
			}
		}
	}
	return false
}

func isDestructive(u types.ToolUse) bool {
	name := strings.ToLower(u.Name)
	if destructiveTools[name] {
		return true
	}
	return name == "bash" && u.Command != "" && IsDestructiveLine(u.Command)
}

// CreateIfDue creates a checkpoint when the session's policy calls for one.
// It returns nil without error when no checkpoint is due.
func (s *Service) CreateIfDue(ctx context.Context, req types.CheckpointRequest) (*types.Checkpoint, error) {
	if !req.Manual {
		policy, err := s.GetPolicy(ctx, req.SessionID, req.ProjectID, req.ProjectPath)
		if err != nil {
			return nil, err
		}
		if !ShouldCheckpoint(policy, req.ToolUses) {
			return nil, nil
		}
	}
	return s.Create(ctx, req)
}

// Create snapshots the transcript and touched files unconditionally.
func (s *Service) Create(ctx context.Context, req types.CheckpointRequest) (*types.Checkpoint, error) {
	if req.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	log := logging.Component("checkpoint").With().Str("sessionID", req.SessionID).Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.List(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	files, err := s.snapshotFiles(ctx, req, previous)
	if err != nil {
		return nil, err
	}

	strategy := "manual"
	if !req.Manual {
		if policy, err := s.GetPolicy(ctx, req.SessionID, req.ProjectID, req.ProjectPath); err == nil {
			strategy = string(policy.Strategy)
		}
	}

	cp := &types.Checkpoint{
		ID:           ulid.Make().String(),
		SessionID:    req.SessionID,
		ProjectID:    req.ProjectID,
		Index:        1,
		MessageCount: len(req.Transcript),
		Prompt:       req.Prompt,
		Strategy:     strategy,
		Files:        files,
		Created:      time.Now().UnixMilli(),
	}
	if n := len(previous); n > 0 {
		cp.Index = previous[n-1].Index + 1
		cp.ParentID = previous[n-1].ID
	}

	key := checkpointKey(req.SessionID, cp.ID)
	if err := s.storage.WriteLines(ctx, key, req.Transcript); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint transcript: %w", err)
	}
	if err := s.storage.Put(ctx, key, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	log.Info().Str("checkpointID", cp.ID).Int("index", cp.Index).Int("files", len(files)).Msg("checkpoint created")
	if s.bus != nil {
		s.bus.PublishSync(event.Event{
			Channel: event.CheckpointCreated,
			Payload: event.CheckpointCreatedData{Checkpoint: cp},
		})
	}
	return cp, nil
}

// snapshotFiles captures every project file the turn's tools touched.
func (s *Service) snapshotFiles(ctx context.Context, req types.CheckpointRequest, previous []*types.Checkpoint) ([]types.FileSnapshot, error) {
	var snaps []types.FileSnapshot
	for _, path := range touchedPaths(req.ProjectPath, req.ToolUses) {
		prevHash, hadPrev := lastHash(previous, path)
		var before string
		if hadPrev && prevHash != "" {
			if data, err := s.storage.GetBlob(ctx, prevHash); err == nil {
				before = string(data)
			}
		}

		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			_, deletions := lineStats(before, "")
			snaps = append(snaps, types.FileSnapshot{Path: path, Deleted: true, Deletions: deletions})
			continue
		case err != nil || info.IsDir():
			continue
		}
		if info.Size() > maxSnapshotSize {
			logging.Warn().Str("path", path).Int64("size", info.Size()).Msg("file too large to snapshot")
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		hash, err := s.storage.PutBlob(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", path, err)
		}
		additions, deletions := lineStats(before, string(data))
		snaps = append(snaps, types.FileSnapshot{Path: path, Hash: hash, Additions: additions, Deletions: deletions})
	}
	return snaps, nil
}

// touchedPaths resolves the file operands of tool uses against projectPath,
// keeping only paths inside the project.
func touchedPaths(projectPath string, uses []types.ToolUse) []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if p == "" || strings.HasPrefix(p, "~") {
			return
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(projectPath, p)
		}
		p = filepath.Clean(p)
		if projectPath != "" && !withinDir(p, projectPath) {
			return
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, u := range uses {
		if destructiveTools[strings.ToLower(u.Name)] {
			add(u.FilePath)
			continue
		}
		if strings.EqualFold(u.Name, "bash") && u.Command != "" {
			commands, err := ParseCommands(u.Command)
			if err != nil {
				continue
			}
			for _, c := range commands {
				for _, p := range c.Paths() {
					add(p)
				}
			}
		}
	}
	sort.Strings(paths)
	return paths
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// lastHash finds the newest snapshot of path. A deleted snapshot yields an
// empty hash.
func lastHash(checkpoints []*types.Checkpoint, path string) (string, bool) {
	for i := len(checkpoints) - 1; i >= 0; i-- {
		for _, f := range checkpoints[i].Files {
			if f.Path == path {
				return f.Hash, true
			}
		}
	}
	return "", false
}

// List returns the session's checkpoints ordered by index.
func (s *Service) List(ctx context.Context, sessionID string) ([]*types.Checkpoint, error) {
	var checkpoints []*types.Checkpoint
	err := s.storage.Scan(ctx, []string{"checkpoint", sessionID}, func(key string, data json.RawMessage) error {
		var cp types.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil
		}
		checkpoints = append(checkpoints, &cp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].Index < checkpoints[j].Index
	})
	return checkpoints, nil
}

// Get returns one checkpoint.
func (s *Service) Get(ctx context.Context, sessionID, checkpointID string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	if err := s.storage.Get(ctx, checkpointKey(sessionID, checkpointID), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Transcript returns the transcript recorded by a checkpoint.
func (s *Service) Transcript(ctx context.Context, sessionID, checkpointID string) ([][]byte, error) {
	return s.storage.ReadLines(ctx, checkpointKey(sessionID, checkpointID))
}

// FileDiff is the change a checkpoint recorded for one file.
type FileDiff struct {
	Path      string `json:"path"`
	Diff      string `json:"diff"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// Diff renders the file changes of a checkpoint relative to its predecessors.
func (s *Service) Diff(ctx context.Context, sessionID, checkpointID, projectPath string) ([]FileDiff, error) {
	all, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pos := -1
	for i, cp := range all {
		if cp.ID == checkpointID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, storage.ErrNotFound)
	}

	var diffs []FileDiff
	for _, f := range all[pos].Files {
		var before, after string
		if hash, ok := lastHash(all[:pos], f.Path); ok && hash != "" {
			if data, err := s.storage.GetBlob(ctx, hash); err == nil {
				before = string(data)
			}
		}
		if !f.Deleted {
			data, err := s.storage.GetBlob(ctx, f.Hash)
			if err != nil {
				return nil, err
			}
			after = string(data)
		}
		diffs = append(diffs, FileDiff{
			Path:      f.Path,
			Diff:      unifiedDiff(f.Path, before, after, projectPath),
			Additions: f.Additions,
			Deletions: f.Deletions,
			Deleted:   f.Deleted,
		})
	}
	return diffs, nil
}

// Restore writes the files captured up to a checkpoint back into the working
// tree and returns the paths it touched.
func (s *Service) Restore(ctx context.Context, sessionID, checkpointID string) ([]string, error) {
	all, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pos := -1
	for i, cp := range all {
		if cp.ID == checkpointID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, storage.ErrNotFound)
	}

	// The newest snapshot of each path at or before the checkpoint wins.
	latest := make(map[string]types.FileSnapshot)
	for _, cp := range all[:pos+1] {
		for _, f := range cp.Files {
			latest[f.Path] = f
		}
	}

	paths := make([]string, 0, len(latest))
	for p := range latest {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := latest[p]
		if f.Deleted {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove %s: %w", p, err)
			}
			continue
		}
		data, err := s.storage.GetBlob(ctx, f.Hash)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(p, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", p, err)
		}
	}

	clog := logging.Component("checkpoint")
	clog.Info().
		Str("sessionID", sessionID).
		Str("checkpointID", checkpointID).
		Int("files", len(paths)).
		Msg("checkpoint restored")
	return paths, nil
}

// Fork branches a new session from a checkpoint. The new session starts with
// the checkpoint's transcript and inherits the source session's policy.
func (s *Service) Fork(ctx context.Context, req types.ForkRequest) (*types.SessionRecord, error) {
	if req.NewName == "" {
		return nil, errors.New("fork name is required")
	}
	cp, err := s.Get(ctx, req.SourceSessionID, req.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	transcript, err := s.Transcript(ctx, req.SourceSessionID, req.CheckpointID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load checkpoint transcript: %w", err)
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID = cp.ProjectID
	}
	newID := req.NewSessionID
	if newID == "" {
		newID = uuid.NewString()
	}
	parent := req.SourceSessionID

	record := &types.SessionRecord{
		ID:               newID,
		ProjectID:        projectID,
		ProjectPath:      req.ProjectPath,
		Name:             req.NewName,
		ParentID:         &parent,
		ForkCheckpointID: cp.ID,
		Created:          time.Now().UnixMilli(),
	}

	if s.transcripts != nil {
		if err := s.transcripts.WriteLines(ctx, []string{projectID, newID}, transcript); err != nil {
			return nil, fmt.Errorf("failed to write forked transcript: %w", err)
		}
	}
	if err := s.copyPolicy(ctx, req.SourceSessionID, newID); err != nil {
		return nil, err
	}
	if err := s.storage.Put(ctx, SessionKey(projectID, newID), record); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	clog := logging.Component("checkpoint")
	clog.Info().
		Str("sessionID", newID).
		Str("parentID", parent).
		Str("checkpointID", cp.ID).
		Msg("session forked")
	if s.bus != nil {
		s.bus.PublishSync(event.Event{
			Channel: event.SessionForked,
			Payload: event.SessionForkedData{Session: record},
		})
	}
	return record, nil
}

func (s *Service) copyPolicy(ctx context.Context, from, to string) error {
	var policy types.CheckpointPolicy
	err := s.storage.Get(ctx, policyKey(from), &policy)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read checkpoint policy: %w", err)
	}
	return s.storage.Put(ctx, policyKey(to), policy)
}
