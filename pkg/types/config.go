package types

import "time"

// Config represents the claudia configuration. Files may be JSON, JSONC or YAML.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// ClaudePath is an explicit path to the agent binary.
	ClaudePath string `json:"claudePath,omitempty" yaml:"claudePath,omitempty"`

	// Model is the default model selector ("sonnet", "opus", or a full id).
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// ExtraArgs are appended to every agent invocation, shell-quoted.
	ExtraArgs string `json:"extraArgs,omitempty" yaml:"extraArgs,omitempty"`

	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`

	Queue      *QueueConfig      `json:"queue,omitempty" yaml:"queue,omitempty"`
	Cancel     *CancelConfig     `json:"cancel,omitempty" yaml:"cancel,omitempty"`
	Checkpoint *CheckpointConfig `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	Server     *ServerConfig     `json:"server,omitempty" yaml:"server,omitempty"`
}

// QueueConfig tunes the prompt queue.
type QueueConfig struct {
	// MaxDepth bounds the number of waiting prompts; 0 means unbounded.
	MaxDepth int `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty"`
	// ReleaseDelayMs delays starting the next queued prompt.
	ReleaseDelayMs int `json:"releaseDelayMs,omitempty" yaml:"releaseDelayMs,omitempty"`
}

// CancelConfig tunes cancellation.
type CancelConfig struct {
	// KillGraceMs is how long to wait after SIGTERM before SIGKILL.
	KillGraceMs int `json:"killGraceMs,omitempty" yaml:"killGraceMs,omitempty"`
}

// CheckpointConfig holds the default checkpoint policy for new sessions.
type CheckpointConfig struct {
	AutoEnabled *bool  `json:"autoEnabled,omitempty" yaml:"autoEnabled,omitempty"`
	Strategy    string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// ServerConfig configures `claudia serve`.
type ServerConfig struct {
	Port       int   `json:"port,omitempty" yaml:"port,omitempty"`
	EnableCORS *bool `json:"cors,omitempty" yaml:"cors,omitempty"`
}

// Defaults applied when a field is unset.
const (
	DefaultModel       = "sonnet"
	DefaultKillGraceMs = 3000
	DefaultServerPort  = 8787
	DefaultLogLevel    = "INFO"
	DefaultStrategy    = StrategySmart
	defaultAutoEnabled = true
	defaultCORSEnabled = true
)

// DefaultModelOrFallback returns the configured model or DefaultModel.
func (c *Config) DefaultModelOrFallback() string {
	if c == nil || c.Model == "" {
		return DefaultModel
	}
	return c.Model
}

// QueueMaxDepth returns the queue bound; 0 means unbounded.
func (c *Config) QueueMaxDepth() int {
	if c == nil || c.Queue == nil || c.Queue.MaxDepth < 0 {
		return 0
	}
	return c.Queue.MaxDepth
}

// QueueReleaseDelay returns the delay before a queued prompt starts.
func (c *Config) QueueReleaseDelay() time.Duration {
	if c == nil || c.Queue == nil || c.Queue.ReleaseDelayMs <= 0 {
		return 0
	}
	return time.Duration(c.Queue.ReleaseDelayMs) * time.Millisecond
}

// KillGrace returns how long Cancel waits between SIGTERM and SIGKILL.
func (c *Config) KillGrace() time.Duration {
	if c == nil || c.Cancel == nil || c.Cancel.KillGraceMs <= 0 {
		return DefaultKillGraceMs * time.Millisecond
	}
	return time.Duration(c.Cancel.KillGraceMs) * time.Millisecond
}

// DefaultCheckpointPolicy returns the policy for sessions without a stored one.
func (c *Config) DefaultCheckpointPolicy() CheckpointPolicy {
	policy := CheckpointPolicy{AutoEnabled: defaultAutoEnabled, Strategy: DefaultStrategy}
	if c == nil || c.Checkpoint == nil {
		return policy
	}
	if c.Checkpoint.AutoEnabled != nil {
		policy.AutoEnabled = *c.Checkpoint.AutoEnabled
	}
	if s := CheckpointStrategy(c.Checkpoint.Strategy); s.Valid() {
		policy.Strategy = s
	}
	return policy
}

// ServerPort returns the port for `claudia serve`.
func (c *Config) ServerPort() int {
	if c == nil || c.Server == nil || c.Server.Port <= 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// CORSEnabled reports whether the server adds CORS headers.
func (c *Config) CORSEnabled() bool {
	if c == nil || c.Server == nil || c.Server.EnableCORS == nil {
		return defaultCORSEnabled
	}
	return *c.Server.EnableCORS
}
