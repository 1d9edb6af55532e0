package types

// CheckpointStrategy decides when automatic checkpoints are taken.
type CheckpointStrategy string

const (
	StrategyManual     CheckpointStrategy = "manual"
	StrategyPerPrompt  CheckpointStrategy = "per_prompt"
	StrategyPerToolUse CheckpointStrategy = "per_tool_use"
	StrategySmart      CheckpointStrategy = "smart"
)

// Valid reports whether s is a known strategy.
func (s CheckpointStrategy) Valid() bool {
	switch s {
	case StrategyManual, StrategyPerPrompt, StrategyPerToolUse, StrategySmart:
		return true
	}
	return false
}

// CheckpointPolicy is the per-session checkpoint configuration.
type CheckpointPolicy struct {
	AutoEnabled bool               `json:"autoEnabled"`
	Strategy    CheckpointStrategy `json:"strategy"`
}

// FileSnapshot records one file captured by a checkpoint.
type FileSnapshot struct {
	Path      string `json:"path"`
	Hash      string `json:"hash,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Checkpoint is an opaque snapshot of session state at a position.
type Checkpoint struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionID"`
	ProjectID    string         `json:"projectID"`
	ParentID     string         `json:"parentID,omitempty"`
	Index        int            `json:"index"`
	MessageCount int            `json:"messageCount"`
	Prompt       string         `json:"prompt"`
	Strategy     string         `json:"strategy,omitempty"`
	Files        []FileSnapshot `json:"files,omitempty"`
	Created      int64          `json:"created"`
}

// ToolUse summarises a tool invocation seen during a turn.
type ToolUse struct {
	Name     string `json:"name"`
	FilePath string `json:"filePath,omitempty"`
	Command  string `json:"command,omitempty"`
}

// CheckpointRequest asks the checkpoint service to snapshot a finished turn.
type CheckpointRequest struct {
	SessionID   string
	ProjectID   string
	ProjectPath string
	Prompt      string
	ToolUses    []ToolUse
	// Transcript is the raw ledger at the end of the turn.
	Transcript [][]byte
	// Manual bypasses the strategy check.
	Manual bool
}

// ForkRequest asks the checkpoint service to branch a new session.
type ForkRequest struct {
	CheckpointID    string
	SourceSessionID string
	ProjectID       string
	ProjectPath     string
	NewSessionID    string
	NewName         string
}

// ToolUseOf summarises a tool_use block. File-oriented tools name their target
// in file_path, notebook_path or path.
func ToolUseOf(b ContentBlock) ToolUse {
	use := ToolUse{Name: b.Name, Command: b.InputField("command")}
	for _, field := range []string{"file_path", "notebook_path", "path"} {
		if v := b.InputField(field); v != "" {
			use.FilePath = v
			break
		}
	}
	return use
}
