package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/pkg/types"
)

// Checkpoints is the checkpoint service consumed by the controller.
type Checkpoints interface {
	GetPolicy(ctx context.Context, sessionID, projectID, projectPath string) (types.CheckpointPolicy, error)
	CreateIfDue(ctx context.Context, req types.CheckpointRequest) (*types.Checkpoint, error)
	Fork(ctx context.Context, req types.ForkRequest) (*types.SessionRecord, error)
}

// CheckpointTrigger asks the checkpoint service for a snapshot after a
// successful turn. Failures are logged and published; they never reach the
// ledger or the controller's error field.
type CheckpointTrigger struct {
	svc Checkpoints
	bus *event.Bus
	log zerolog.Logger
}

// NewCheckpointTrigger creates a trigger. bus may be nil.
func NewCheckpointTrigger(svc Checkpoints, bus *event.Bus, log zerolog.Logger) *CheckpointTrigger {
	return &CheckpointTrigger{svc: svc, bus: bus, log: log}
}

// Run consults the session's policy and creates a checkpoint when enabled.
func (t *CheckpointTrigger) Run(ctx context.Context, req types.CheckpointRequest) {
	if t == nil || t.svc == nil || req.SessionID == "" {
		return
	}

	policy, err := t.svc.GetPolicy(ctx, req.SessionID, req.ProjectID, req.ProjectPath)
	if err != nil {
		t.fail(req.SessionID, err)
		return
	}
	if !policy.AutoEnabled {
		return
	}

	cp, err := t.svc.CreateIfDue(ctx, req)
	if err != nil {
		t.fail(req.SessionID, err)
		return
	}
	if cp != nil {
		t.log.Debug().Str("sessionID", req.SessionID).Str("checkpointID", cp.ID).Msg("auto checkpoint created")
	}
}

func (t *CheckpointTrigger) fail(sessionID string, err error) {
	t.log.Warn().Err(err).Str("sessionID", sessionID).Msg("checkpoint failed")
	if t.bus == nil {
		return
	}
	t.bus.PublishSync(event.Event{
		Channel: event.CheckpointFailed,
		Payload: event.CheckpointFailedData{SessionID: sessionID, Error: err.Error()},
	})
}
