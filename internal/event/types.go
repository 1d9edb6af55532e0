package event

import "github.com/opencode-ai/claudia/pkg/types"

// Agent transport channels. Before the agent reports its session id, output
// is published on the generic channels; afterwards on the scoped variants
// returned by Scoped.
const (
	ChannelOutput   = "claude-output"
	ChannelError    = "claude-error"
	ChannelComplete = "claude-complete"
)

// Notification channels published by the session controller and services.
const (
	SessionMessage    = "session.message"
	SessionStatus     = "session.status"
	SessionForked     = "session.forked"
	CheckpointCreated = "checkpoint.created"
	CheckpointFailed  = "checkpoint.failed"
	ProcessStarted    = "process.started"
	ProcessExited     = "process.exited"
)

// Scoped returns the session-scoped variant of a transport channel.
func Scoped(channel, sessionID string) string {
	return channel + ":" + sessionID
}

// OutputChannels returns the output, error and completion channel names for
// a session. An empty id yields the generic channels.
func OutputChannels(sessionID string) (output, errs, complete string) {
	if sessionID == "" {
		return ChannelOutput, ChannelError, ChannelComplete
	}
	return Scoped(ChannelOutput, sessionID), Scoped(ChannelError, sessionID), Scoped(ChannelComplete, sessionID)
}

// SessionMessageData is the data for session.message events.
type SessionMessageData struct {
	SessionID string               `json:"sessionID"`
	Message   *types.StreamMessage `json:"message"`
	// Visible reports whether the message survives the display filter.
	Visible bool `json:"visible"`
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	Status types.SessionStatus `json:"status"`
}

// SessionForkedData is the data for session.forked events.
type SessionForkedData struct {
	Session *types.SessionRecord `json:"session"`
}

// CheckpointCreatedData is the data for checkpoint.created events.
type CheckpointCreatedData struct {
	Checkpoint *types.Checkpoint `json:"checkpoint"`
}

// CheckpointFailedData is the data for checkpoint.failed events.
type CheckpointFailedData struct {
	SessionID string `json:"sessionID"`
	Error     string `json:"error"`
}

// ProcessStartedData is the data for process.started events.
type ProcessStartedData struct {
	RunID       string `json:"runID"`
	PID         int    `json:"pid"`
	ProjectPath string `json:"projectPath"`
	SessionID   string `json:"sessionID,omitempty"`
}

// ProcessExitedData is the data for process.exited events.
type ProcessExitedData struct {
	RunID     string `json:"runID"`
	SessionID string `json:"sessionID,omitempty"`
	Success   bool   `json:"success"`
	ExitCode  int    `json:"exitCode"`
}
