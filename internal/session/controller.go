package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/model"
	"github.com/opencode-ai/claudia/internal/process"
	"github.com/opencode-ai/claudia/pkg/types"
)

var (
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("session controller closed")
	// ErrBusy is returned by operations that need an idle controller.
	ErrBusy = errors.New("session is busy")
	// ErrEmptyPrompt is returned when submitting a blank prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrNoSession is returned by operations that need a known session id.
	ErrNoSession = errors.New("no active session")
)

// Launcher starts and cancels agent processes.
type Launcher interface {
	Start(ctx context.Context, projectPath, prompt, model string) error
	Resume(ctx context.Context, projectPath, sessionID, prompt, model string) error
	Cancel(ctx context.Context, sessionID string) (bool, error)
}

// Continuer is implemented by launchers that can continue the project's most
// recent conversation without a session id.
type Continuer interface {
	Continue(ctx context.Context, projectPath, prompt, model string) error
}

// RunCanceller is implemented by launchers that can stop a run by the id
// reported through process.WithRunObserver. The controller uses it when a
// turn is cancelled before its session id is known.
type RunCanceller interface {
	CancelRun(ctx context.Context, runID string) (bool, error)
}

// RecordStore persists session records discovered by the controller.
type RecordStore interface {
	Save(ctx context.Context, record *types.SessionRecord) error
}

// Options configures a Controller.
type Options struct {
	ProjectPath string
	// Session, when set, makes the first turn resume it.
	Session *types.SessionRecord
	// History seeds the ledger.
	History []*types.StreamMessage

	Launcher    Launcher
	Transport   Transport
	Checkpoints Checkpoints // optional
	Records     RecordStore // optional
	// Notify receives session.message and session.status events. Optional.
	Notify *event.Bus

	DefaultModel  string
	MaxQueueDepth int
	ReleaseDelay  time.Duration
}

// phase is the lifecycle state of the current turn.
type phase int

const (
	phaseIdle phase = iota
	phaseStarting
	phaseStreaming
	phaseCancelling
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseStarting:
		return "starting"
	case phaseStreaming:
		return "streaming"
	case phaseCancelling:
		return "cancelling"
	}
	return "unknown"
}

type launchMode int

const (
	launchAuto launchMode = iota // resume when the session is known, else start
	launchContinue
)

// turn is the bookkeeping of the turn in flight.
type turn struct {
	id       uint64
	prompt   string
	model    string
	runID    string
	toolUses []types.ToolUse
}

// Snapshot is a consistent view of a controller's state.
type Snapshot struct {
	SessionID   string                 `json:"sessionID,omitempty"`
	ProjectPath string                 `json:"projectPath"`
	Messages    []*types.StreamMessage `json:"messages"`
	Displayable []*types.StreamMessage `json:"displayable"`
	Busy        bool                   `json:"busy"`
	Phase       string                 `json:"phase"`
	Error       *string                `json:"error,omitempty"`
	Queue       []types.QueuedPrompt   `json:"queue"`
	Tokens      int                    `json:"tokens"`
	Listening   ListenerState          `json:"listening"`
}

// Controller drives one agent session: it launches turns, follows the
// agent's output across the generic-to-scoped listener handoff, keeps the
// message ledger, queues prompts submitted mid-turn, and triggers checkpoints.
//
// All state is guarded by mu. Launcher and checkpoint calls run without it,
// and notifications are published after it is released so observers may call
// back into the controller.
type Controller struct {
	launcher    Launcher
	checkpoints Checkpoints
	trigger     *CheckpointTrigger
	records     RecordStore
	notify      *event.Bus

	projectPath  string
	projectID    string
	defaultModel string
	releaseDelay time.Duration
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	closed       bool
	phase        phase
	sessionID    string
	record       *types.SessionRecord
	errMsg       *string
	ledger       *Ledger
	queue        *Queue
	listeners    *ListenerManager
	identity     IdentityResolver
	seen         map[uint64]struct{}
	turn         turn
	turnSeq      uint64
	releaseTimer *time.Timer
}

// NewController creates a controller for a project.
func NewController(opts Options) (*Controller, error) {
	if opts.ProjectPath == "" {
		return nil, errors.New("project path is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}

	log := logging.Component("session").With().Str("projectPath", opts.ProjectPath).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		launcher:     opts.Launcher,
		checkpoints:  opts.Checkpoints,
		records:      opts.Records,
		notify:       opts.Notify,
		projectPath:  opts.ProjectPath,
		projectID:    types.ProjectID(opts.ProjectPath),
		defaultModel: opts.DefaultModel,
		releaseDelay: opts.ReleaseDelay,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		ledger:       NewLedger(log),
		queue:        NewQueue(opts.MaxQueueDepth),
		seen:         make(map[uint64]struct{}),
	}
	if opts.Checkpoints != nil {
		c.trigger = NewCheckpointTrigger(opts.Checkpoints, opts.Notify, log)
	}
	if rec := opts.Session; rec != nil {
		r := *rec
		c.record = &r
		c.sessionID = rec.ID
		if rec.ProjectID != "" {
			c.projectID = rec.ProjectID
		}
	}
	c.ledger.Reset(opts.History)
	c.listeners = NewListenerManager(opts.Transport, c.deliver)
	return c, nil
}

// SessionID returns the effective session id, or "" before the agent has
// reported one.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ProjectPath returns the controller's project directory.
func (c *Controller) ProjectPath() string {
	return c.projectPath
}

// Submit starts a turn for prompt when idle. While a turn is in flight the
// prompt is queued instead and the queued entry is returned.
func (c *Controller) Submit(ctx context.Context, prompt, modelName string) (*types.QueuedPrompt, error) {
	return c.submit(ctx, prompt, modelName, launchAuto)
}

// Continue starts a turn that continues the project's most recent
// conversation. It needs an idle controller and a launcher that supports it.
func (c *Controller) Continue(ctx context.Context, prompt, modelName string) error {
	if _, ok := c.launcher.(Continuer); !ok {
		return errors.New("launcher cannot continue conversations")
	}
	queued, err := c.submit(ctx, prompt, modelName, launchContinue)
	if err != nil {
		return err
	}
	if queued != nil {
		return ErrBusy
	}
	return nil
}

func (c *Controller) submit(ctx context.Context, prompt, modelName string, mode launchMode) (*types.QueuedPrompt, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	resolved, err := model.Resolve(modelName, c.defaultModel)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	// Busy, or a delayed release is pending: queue to keep FIFO order.
	if c.phase != phaseIdle || c.releaseTimer != nil {
		if mode == launchContinue {
			c.mu.Unlock()
			return nil, ErrBusy
		}
		item, err := c.queue.Push(prompt, resolved)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		notes := []event.Event{c.statusLocked()}
		c.mu.Unlock()

		c.log.Debug().Str("queuedID", item.ID).Msg("prompt queued")
		c.publish(notes)
		return &item, nil
	}

	launch, notes, err := c.beginTurnLocked(prompt, resolved, mode)
	c.mu.Unlock()

	c.publish(notes)
	if err != nil {
		return nil, err
	}
	return nil, launch(ctx)
}

// beginTurnLocked resets per-turn state, records the user echo and attaches
// the generic listeners. It returns the launch step to run after unlocking;
// on error the turn has already been failed.
func (c *Controller) beginTurnLocked(prompt, modelName string, mode launchMode) (func(context.Context) error, []event.Event, error) {
	c.turnSeq++
	c.turn = turn{id: c.turnSeq, prompt: prompt, model: modelName}
	c.seen = make(map[uint64]struct{})
	c.identity.Reset()
	c.errMsg = nil
	c.phase = phaseStarting

	notes := c.appendLocked(types.NewUserEcho(prompt))

	c.listeners.DetachAll()
	if err := c.listeners.AttachGeneric(); err != nil {
		c.log.Error().Err(err).Msg("failed to attach listeners")
		notes = append(notes, c.failTurnLocked(fmt.Sprintf("Failed to listen for agent output: %v", err))...)
		return nil, notes, fmt.Errorf("attach listeners: %w", err)
	}

	turnID := c.turn.id
	sessionID := c.sessionID
	notes = append(notes, c.statusLocked())

	return func(ctx context.Context) error {
		return c.launch(ctx, turnID, mode, sessionID, prompt, modelName)
	}, notes, nil
}

func (c *Controller) launch(ctx context.Context, turnID uint64, mode launchMode, sessionID, prompt, modelName string) error {
	ctx = process.WithRunObserver(ctx, func(runID string) {
		c.mu.Lock()
		if c.turn.id == turnID {
			c.turn.runID = runID
		}
		c.mu.Unlock()
	})

	var err error
	switch {
	case mode == launchContinue:
		err = c.launcher.(Continuer).Continue(ctx, c.projectPath, prompt, modelName)
	case sessionID != "":
		err = c.launcher.Resume(ctx, c.projectPath, sessionID, prompt, modelName)
	default:
		err = c.launcher.Start(ctx, c.projectPath, prompt, modelName)
	}

	c.mu.Lock()
	var notes []event.Event
	if c.turn.id == turnID {
		switch {
		case err != nil && (c.phase == phaseStarting || c.phase == phaseStreaming):
			c.listeners.DetachAll()
			c.phase = phaseIdle
			c.setErrorLocked(fmt.Sprintf("Failed to start agent: %v", err))
			notes = append(notes, c.statusLocked())
		case err == nil && c.phase == phaseStarting:
			c.phase = phaseStreaming
		}
	}
	c.mu.Unlock()
	c.publish(notes)

	if err != nil {
		c.log.Error().Err(err).Str("sessionID", sessionID).Msg("failed to launch agent")
		return fmt.Errorf("launch agent: %w", err)
	}
	return nil
}

// followUp is the work a delivery leaves for after the lock is released.
type followUp struct {
	notes      []event.Event
	record     *types.SessionRecord
	orphan     string
	checkpoint *types.CheckpointRequest
	next       func(context.Context) error
}

// deliver handles one event from a listener set. Events from a set that is no
// longer active, and sequence numbers already handled, are ignored.
func (c *Controller) deliver(d Delivery) {
	c.mu.Lock()
	if c.closed || !c.listeners.IsActive(d.Set) {
		c.mu.Unlock()
		return
	}
	if _, dup := c.seen[d.Event.Seq]; dup {
		c.mu.Unlock()
		return
	}
	c.seen[d.Event.Seq] = struct{}{}

	var f followUp
	switch d.Kind {
	case DeliverOutput:
		f = c.onOutputLocked(payloadString(d.Event.Payload))
	case DeliverError:
		f = c.onErrorLocked(payloadString(d.Event.Payload))
	case DeliverComplete:
		success, _ := d.Event.Payload.(bool)
		f = c.onCompleteLocked(success)
	}
	c.mu.Unlock()

	c.runFollowUp(f)
}

func (c *Controller) onOutputLocked(raw string) followUp {
	var f followUp
	msg, ok := c.ledger.Append(raw)
	if !ok {
		return f
	}
	for _, b := range msg.ToolUses() {
		c.turn.toolUses = append(c.turn.toolUses, types.ToolUseOf(b))
	}

	id, discovered := c.identity.Observe(msg)
	if !discovered && msg.IsInit() && msg.SessionID != "" && msg.SessionID != id {
		c.log.Warn().Str("sessionID", id).Str("reported", msg.SessionID).Msg("ignoring second session id in turn")
	}
	if discovered {
		if c.sessionID != "" && c.sessionID != id {
			c.log.Info().Str("requested", c.sessionID).Str("reported", id).Msg("agent reported a different session id")
		}
		c.sessionID = id
		if c.record == nil || c.record.ID != id {
			rec := &types.SessionRecord{
				ID:          id,
				ProjectID:   c.projectID,
				ProjectPath: c.projectPath,
				Created:     time.Now().UnixMilli(),
			}
			if c.record != nil {
				rec.Name = c.record.Name
			}
			c.record = rec
			saved := *rec
			f.record = &saved
		}
	}
	f.notes = append(f.notes, c.messageNoteLocked(msg, c.ledger.Len()-1))
	if !discovered {
		return f
	}

	if c.listeners.State() == GenericListening {
		if err := c.listeners.AttachScoped(id); err != nil {
			c.log.Error().Err(err).Str("sessionID", id).Msg("failed to attach session listeners")
			f.notes = append(f.notes, c.failTurnLocked(fmt.Sprintf("Failed to listen for session %s: %v", id, err))...)
			f.orphan = id
			return f
		}
		c.log.Debug().Str("sessionID", id).Msg("listeners handed off to session")
	}
	f.notes = append(f.notes, c.statusLocked())
	return f
}

func (c *Controller) onErrorLocked(line string) followUp {
	if strings.TrimSpace(line) == "" {
		return followUp{}
	}
	c.log.Warn().Str("stderr", truncate(line, 500)).Msg("agent error output")
	c.setErrorLocked(line)
	return followUp{notes: []event.Event{c.statusLocked()}}
}

func (c *Controller) onCompleteLocked(success bool) followUp {
	var f followUp
	// A cancel in flight owns the reset; the turn may also have failed already.
	if c.phase == phaseIdle || c.phase == phaseCancelling {
		return f
	}

	c.listeners.DetachAll()
	c.phase = phaseIdle
	c.log.Info().Bool("success", success).Str("sessionID", c.sessionID).Int("messages", c.ledger.Len()).Msg("turn complete")

	if success && c.sessionID != "" && c.trigger != nil {
		f.checkpoint = &types.CheckpointRequest{
			SessionID:   c.sessionID,
			ProjectID:   c.projectID,
			ProjectPath: c.projectPath,
			Prompt:      c.turn.prompt,
			ToolUses:    append([]types.ToolUse(nil), c.turn.toolUses...),
			Transcript:  c.ledger.Raw(),
		}
	}

	var notes []event.Event
	f.next, notes = c.releaseLocked()
	f.notes = append(f.notes, notes...)
	f.notes = append(f.notes, c.statusLocked())
	return f
}

// releaseLocked hands the queue head to the next turn, immediately or after
// the release delay.
func (c *Controller) releaseLocked() (func(context.Context) error, []event.Event) {
	if c.queue.Len() == 0 {
		return nil, nil
	}
	if c.releaseDelay > 0 {
		if c.releaseTimer == nil {
			c.releaseTimer = time.AfterFunc(c.releaseDelay, c.releaseQueued)
		}
		return nil, nil
	}
	return c.startNextLocked()
}

func (c *Controller) startNextLocked() (func(context.Context) error, []event.Event) {
	item, ok := c.queue.Pop()
	if !ok {
		return nil, nil
	}
	c.log.Debug().Str("queuedID", item.ID).Int("remaining", c.queue.Len()).Msg("releasing queued prompt")
	launch, notes, err := c.beginTurnLocked(item.Prompt, item.Model, launchAuto)
	if err != nil {
		return nil, notes
	}
	return launch, notes
}

// releaseQueued runs when the release delay expires.
func (c *Controller) releaseQueued() {
	c.mu.Lock()
	c.releaseTimer = nil
	if c.closed || c.phase != phaseIdle {
		c.mu.Unlock()
		return
	}
	launch, notes := c.startNextLocked()
	c.mu.Unlock()

	c.publish(notes)
	if launch != nil {
		_ = launch(c.ctx)
	}
}

func (c *Controller) runFollowUp(f followUp) {
	c.publish(f.notes)

	if f.record != nil && c.records != nil {
		if err := c.records.Save(c.ctx, f.record); err != nil {
			c.log.Warn().Err(err).Str("sessionID", f.record.ID).Msg("failed to save session record")
		}
	}
	if f.orphan != "" {
		// The agent keeps running after a failed handoff; stop it.
		go func(id string) {
			if _, err := c.safeCancel(c.ctx, id, ""); err != nil {
				c.log.Warn().Err(err).Str("sessionID", id).Msg("failed to stop orphaned agent")
			}
		}(f.orphan)
	}
	if f.checkpoint != nil {
		c.trigger.Run(c.ctx, *f.checkpoint)
	}
	if f.next != nil {
		_ = f.next(c.ctx)
	}
}

// Cancel aborts the turn in flight. Whatever the launcher reports, listeners
// are detached, the queue is cleared and the outcome is recorded in the
// ledger. The only error returned is ErrClosed.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase == phaseCancelling {
		c.mu.Unlock()
		return nil
	}
	if c.phase == phaseIdle {
		// No process is running, but a delayed release may still start the
		// queue head; cancelling drops it.
		if c.releaseTimer == nil {
			c.mu.Unlock()
			return nil
		}
		c.stopReleaseLocked()
		dropped := c.queue.Clear()
		sessionID := c.sessionID
		notes := []event.Event{c.statusLocked()}
		c.mu.Unlock()

		c.log.Info().Str("sessionID", sessionID).Int("droppedQueue", dropped).Msg("pending release cancelled")
		c.publish(notes)
		return nil
	}
	c.phase = phaseCancelling
	c.stopReleaseLocked()
	sessionID := c.sessionID
	runID := c.turn.runID
	c.mu.Unlock()

	killed, err := c.safeCancel(ctx, sessionID, runID)

	c.mu.Lock()
	c.listeners.DetachAll()
	c.phase = phaseIdle
	dropped := c.queue.Clear()
	c.seen = make(map[uint64]struct{})

	var msg *types.StreamMessage
	switch {
	case err != nil:
		text := fmt.Sprintf("Failed to cancel execution: %v. The process may still be running in the background.", err)
		c.setErrorLocked(text)
		msg = types.NewErrorMessage(text)
	case !killed:
		text := "Failed to cancel execution: no running process was found. The process may still be running in the background."
		c.setErrorLocked(text)
		msg = types.NewErrorMessage(text)
	default:
		msg = types.NewCancelledMessage()
	}
	notes := c.appendLocked(msg)
	notes = append(notes, c.statusLocked())
	c.mu.Unlock()

	c.log.Info().Str("sessionID", sessionID).Bool("killed", killed).Int("droppedQueue", dropped).Err(err).Msg("turn cancelled")
	c.publish(notes)
	return nil
}

// safeCancel calls the launcher, turning a panic into an error. Without a
// session id it stops the turn's run directly when the launcher allows it.
func (c *Controller) safeCancel(ctx context.Context, sessionID, runID string) (killed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			killed, err = false, fmt.Errorf("cancel panicked: %v", r)
		}
	}()
	if rc, ok := c.launcher.(RunCanceller); ok && sessionID == "" && runID != "" {
		return rc.CancelRun(ctx, runID)
	}
	return c.launcher.Cancel(ctx, sessionID)
}

// Remove drops a queued prompt that has not started.
func (c *Controller) Remove(id string) bool {
	c.mu.Lock()
	removed := c.queue.Remove(id)
	var notes []event.Event
	if removed {
		notes = append(notes, c.statusLocked())
	}
	c.mu.Unlock()

	c.publish(notes)
	return removed
}

// Fork branches a new session named newName from a checkpoint of the current
// session and returns its id. Without a name, a known session or a checkpoint
// service it does nothing. The ledger is left untouched.
func (c *Controller) Fork(ctx context.Context, checkpointID, newName string) (string, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if strings.TrimSpace(newName) == "" || sessionID == "" || c.checkpoints == nil {
		return "", nil
	}

	rec, err := c.checkpoints.Fork(ctx, types.ForkRequest{
		CheckpointID:    checkpointID,
		SourceSessionID: sessionID,
		ProjectID:       c.projectID,
		ProjectPath:     c.projectPath,
		NewSessionID:    uuid.NewString(),
		NewName:         newName,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("checkpointID", checkpointID).Msg("fork failed")
		return "", fmt.Errorf("fork session: %w", err)
	}
	c.log.Info().Str("sessionID", rec.ID).Str("parentID", sessionID).Msg("session forked")
	return rec.ID, nil
}

// Checkpoint creates a checkpoint of the current ledger regardless of policy.
func (c *Controller) Checkpoint(ctx context.Context) (*types.Checkpoint, error) {
	c.mu.Lock()
	if c.checkpoints == nil {
		c.mu.Unlock()
		return nil, errors.New("checkpoints are not configured")
	}
	if c.sessionID == "" {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	if c.phase != phaseIdle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	req := types.CheckpointRequest{
		SessionID:   c.sessionID,
		ProjectID:   c.projectID,
		ProjectPath: c.projectPath,
		Prompt:      c.turn.prompt,
		ToolUses:    append([]types.ToolUse(nil), c.turn.toolUses...),
		Transcript:  c.ledger.Raw(),
		Manual:      true,
	}
	c.mu.Unlock()

	return c.checkpoints.CreateIfDue(ctx, req)
}

// Load replaces the ledger with history, for example a transcript read from
// disk. The controller must be idle.
func (c *Controller) Load(history []*types.StreamMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != phaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.ledger.Reset(history)
	notes := []event.Event{c.statusLocked()}
	c.mu.Unlock()

	c.publish(notes)
	return nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		SessionID:   c.sessionID,
		ProjectPath: c.projectPath,
		Messages:    c.ledger.Messages(),
		Displayable: c.ledger.Displayable(),
		Busy:        c.busyLocked(),
		Phase:       c.phase.String(),
		Queue:       c.queue.Items(),
		Tokens:      c.ledger.TotalTokens(),
		Listening:   c.listeners.State(),
	}
	if c.errMsg != nil {
		e := *c.errMsg
		s.Error = &e
	}
	return s
}

// Status returns the observable status.
func (c *Controller) Status() types.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusValueLocked()
}

// Close detaches every listener and stops pending work. The agent process, if
// any, keeps running.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopReleaseLocked()
	c.listeners.DetachAll()
	c.mu.Unlock()

	c.cancel()
	return nil
}

func (c *Controller) stopReleaseLocked() {
	if c.releaseTimer != nil {
		c.releaseTimer.Stop()
		c.releaseTimer = nil
	}
}

// failTurnLocked ends the turn with an error entry and returns to idle.
func (c *Controller) failTurnLocked(text string) []event.Event {
	c.listeners.DetachAll()
	c.phase = phaseIdle
	c.setErrorLocked(text)
	notes := c.appendLocked(types.NewErrorMessage(text))
	return append(notes, c.statusLocked())
}

func (c *Controller) setErrorLocked(text string) {
	c.errMsg = &text
}

func (c *Controller) appendLocked(msg *types.StreamMessage) []event.Event {
	c.ledger.AppendMessage(msg)
	return []event.Event{c.messageNoteLocked(msg, c.ledger.Len()-1)}
}

func (c *Controller) messageNoteLocked(msg *types.StreamMessage, index int) event.Event {
	return event.Event{
		Channel: event.SessionMessage,
		Payload: event.SessionMessageData{
			SessionID: c.sessionID,
			Message:   msg,
			Visible:   c.ledger.Visible(index),
		},
	}
}

func (c *Controller) statusLocked() event.Event {
	return event.Event{
		Channel: event.SessionStatus,
		Payload: event.SessionStatusData{Status: c.statusValueLocked()},
	}
}

// busyLocked reports a running turn or a queued prompt waiting out the
// release delay.
func (c *Controller) busyLocked() bool {
	return c.phase != phaseIdle || c.releaseTimer != nil
}

func (c *Controller) statusValueLocked() types.SessionStatus {
	st := types.SessionStatus{
		SessionID:   c.sessionID,
		ProjectPath: c.projectPath,
		Busy:        c.busyLocked(),
		Listening:   c.listeners.State().String(),
		Queue:       c.queue.Items(),
		Tokens:      c.ledger.TotalTokens(),
		Messages:    c.ledger.Len(),
	}
	if c.errMsg != nil {
		e := *c.errMsg
		st.Error = &e
	}
	return st
}

func (c *Controller) publish(notes []event.Event) {
	if c.notify == nil {
		return
	}
	for _, e := range notes {
		c.notify.PublishSync(e)
	}
}

func payloadString(p any) string {
	switch v := p.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(p)
}
