// Package types provides the core data types shared by the claudia packages.
package types

// SessionRecord is the persisted description of an agent session.
// The agent assigns ID; it is read-only to the controller.
type SessionRecord struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"projectID"`
	ProjectPath string  `json:"projectPath"`
	Name        string  `json:"name,omitempty"`
	ParentID    *string `json:"parentID,omitempty"`
	// ForkCheckpointID is the checkpoint the session was seeded from.
	ForkCheckpointID string `json:"forkCheckpointID,omitempty"`
	Created          int64  `json:"created"`
}

// QueuedPrompt is a prompt submitted while a turn was in flight.
type QueuedPrompt struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// SessionStatus is the observable state of a controller.
type SessionStatus struct {
	SessionID   string         `json:"sessionID,omitempty"`
	ProjectPath string         `json:"projectPath"`
	Busy        bool           `json:"busy"`
	Error       *string        `json:"error,omitempty"`
	Listening   string         `json:"listening"`
	Queue       []QueuedPrompt `json:"queue"`
	Tokens      int            `json:"tokens"`
	Messages    int            `json:"messages"`
}
