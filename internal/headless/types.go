package headless

import (
	"time"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// Valid reports whether f names a known format.
func (f OutputFormat) Valid() bool {
	switch f {
	case OutputText, OutputJSON, OutputJSONL:
		return true
	}
	return false
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	// ExitSuccess indicates successful completion.
	ExitSuccess ExitCode = 0
	// ExitError indicates a general/unknown error.
	ExitError ExitCode = 1
	// ExitTimeout indicates timeout exceeded.
	ExitTimeout ExitCode = 2
	// ExitAgentNotFound indicates the claude binary could not be located.
	ExitAgentNotFound ExitCode = 4
	// ExitInvalidInput indicates bad prompt or missing required flags.
	ExitInvalidInput ExitCode = 5
	// ExitSessionNotFound indicates session not found when resuming.
	ExitSessionNotFound ExitCode = 6
)

// Config holds configuration for headless mode execution.
type Config struct {
	// Prompt is the instruction to execute.
	Prompt string
	// WorkDir is the project the agent runs in.
	WorkDir string
	// OutputFormat specifies the output format (text, json, jsonl).
	OutputFormat OutputFormat
	// Timeout is the maximum execution time. The turn is cancelled when it
	// runs out.
	Timeout time.Duration
	// ReadStdin indicates whether to read prompt from stdin.
	ReadStdin bool
	// SessionID is an existing session to resume.
	SessionID string
	// ContinueLast continues the project's most recent conversation.
	ContinueLast bool
	// Files is a list of files to attach as context.
	Files []string
	// Quiet suppresses progress output, only shows result.
	Quiet bool
	// Verbose shows hidden messages and all events.
	Verbose bool
	// Model overrides the default model selector.
	Model string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
		Timeout:      30 * time.Minute,
	}
}

// ToolCall represents a tool call in the result.
type ToolCall struct {
	ID      string `json:"id"`
	Tool    string `json:"tool"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result holds the final result of a headless execution.
type Result struct {
	SessionID    string     `json:"session_id"`
	Status       string     `json:"status"` // "success", "error", "timeout"
	Model        string     `json:"model"`
	DurationMS   int64      `json:"duration_ms"`
	Tokens       int        `json:"tokens"`
	CostUSD      float64    `json:"cost_usd,omitempty"`
	Turns        int        `json:"turns"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Checkpoints  []string   `json:"checkpoints,omitempty"`
	FinalMessage string     `json:"final_message,omitempty"`
	Error        string     `json:"error,omitempty"`
	ExitCode     ExitCode   `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
