package headless

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/launcher"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/model"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

// exitWait bounds how long the runner waits for the agent process to exit
// after its turn completed, so post-turn checkpoints can finish.
const exitWait = 10 * time.Second

// RecordLookup finds stored session records.
type RecordLookup interface {
	Get(ctx context.Context, sessionID string) (*types.SessionRecord, error)
}

// Deps are the services a Runner drives.
type Deps struct {
	// Options is the controller template. Launcher, Transport and Notify are
	// required; ProjectPath, Session and History are filled in by the runner.
	Options session.Options
	Records RecordLookup         // optional
	History session.HistorySource // optional
	Stdin   io.Reader            // defaults to os.Stdin
}

// Runner executes one prompt in headless mode.
type Runner struct {
	config *Config
	deps   Deps
}

// NewRunner creates a new headless runner.
func NewRunner(cfg *Config, deps Deps) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	return &Runner{config: cfg, deps: deps}
}

// Run executes the prompt, waits for the turn to finish and returns the
// result.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	bus := r.deps.Options.Notify
	if bus == nil {
		return nil, errors.New("headless runner needs a notification bus")
	}

	printer := NewPrinter(writer, r.config.OutputFormat, r.config.Quiet, r.config.Verbose)
	if err := printer.Subscribe(bus); err != nil {
		return nil, err
	}
	defer printer.Unsubscribe()

	fail := func(status string, code ExitCode, err error) (*Result, error) {
		printer.SetResult(status, code, err)
		printer.PrintFinalResult()
		return printer.Result(), err
	}

	prompt, err := r.getPrompt()
	if err != nil {
		return fail("error", ExitInvalidInput, err)
	}
	if prompt == "" {
		return fail("error", ExitInvalidInput, errors.New("prompt is required"))
	}
	resolved, err := model.Resolve(r.config.Model, r.deps.Options.DefaultModel)
	if err != nil {
		return fail("error", ExitInvalidInput, err)
	}

	opts := r.deps.Options
	opts.ProjectPath = r.config.WorkDir
	if r.config.SessionID != "" {
		record, history, err := r.loadSession(ctx)
		if err != nil {
			return fail("error", ExitSessionNotFound, err)
		}
		opts.Session = record
		opts.History = history
	}

	ctrl, err := session.NewController(opts)
	if err != nil {
		return fail("error", ExitError, err)
	}
	defer ctrl.Close()

	w := newTurnWatcher()
	unsub, err := w.watch(bus)
	if err != nil {
		return fail("error", ExitError, err)
	}
	defer unsub()

	if r.config.ContinueLast && r.config.SessionID == "" {
		err = ctrl.Continue(ctx, prompt, r.config.Model)
	} else {
		_, err = ctrl.Submit(ctx, prompt, r.config.Model)
	}
	if err != nil {
		code := ExitError
		switch {
		case errors.Is(err, launcher.ErrBinaryNotFound):
			code = ExitAgentNotFound
		case errors.Is(err, session.ErrEmptyPrompt), errors.Is(err, model.ErrUnknownModel):
			code = ExitInvalidInput
		}
		return fail("error", code, err)
	}

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	if err := w.waitIdle(runCtx, ctrl); err != nil {
		if cerr := ctrl.Cancel(context.Background()); cerr != nil {
			logging.Warn().Err(cerr).Msg("failed to cancel agent")
		}
		snap := ctrl.Snapshot()
		printer.SetSession(snap.SessionID, resolved, snap.Tokens)
		if errors.Is(err, context.DeadlineExceeded) {
			return fail("timeout", ExitTimeout, fmt.Errorf("turn exceeded %s", r.config.Timeout))
		}
		return fail("cancelled", ExitError, err)
	}
	w.waitExit(exitWait)

	snap := ctrl.Snapshot()
	printer.SetSession(snap.SessionID, resolved, snap.Tokens)
	if snap.Error != nil {
		return fail("error", ExitError, errors.New(*snap.Error))
	}
	if err := turnOutcome(snap.Messages); err != nil {
		return fail("error", ExitError, err)
	}

	printer.SetResult("success", ExitSuccess, nil)
	printer.PrintFinalResult()
	return printer.Result(), nil
}

// turnOutcome reports the failure carried by the turn's result message. A
// turn that ended without one did not finish.
func turnOutcome(msgs []*types.StreamMessage) error {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		switch {
		case m.Kind == types.KindUser && m.Message != nil && !m.Blocks().OnlyToolResults():
			return errors.New("agent exited without a result")
		case m.Kind != types.KindResult:
			continue
		case m.IsError || (m.Subtype != "" && m.Subtype != types.SubtypeSuccess):
			return fmt.Errorf("agent reported %s: %s", m.Subtype, m.Result)
		default:
			return nil
		}
	}
	return errors.New("agent exited without a result")
}

// loadSession finds the record and transcript of the session to resume.
func (r *Runner) loadSession(ctx context.Context) (*types.SessionRecord, []*types.StreamMessage, error) {
	return LoadSession(ctx, r.deps.Records, r.deps.History, r.config.WorkDir, r.config.SessionID)
}

// LoadSession finds the record and transcript of sessionID. A session is
// resumable when either one exists; without a record, one rooted at workDir
// is made up. records and history may be nil.
func LoadSession(ctx context.Context, records RecordLookup, history session.HistorySource, workDir, sessionID string) (*types.SessionRecord, []*types.StreamMessage, error) {
	record := &types.SessionRecord{
		ID:          sessionID,
		ProjectID:   types.ProjectID(workDir),
		ProjectPath: workDir,
	}
	found := false

	if records != nil {
		rec, err := records.Get(ctx, sessionID)
		switch {
		case err == nil:
			record, found = rec, true
		case !errors.Is(err, storage.ErrNotFound):
			return nil, nil, err
		}
	}

	var msgs []*types.StreamMessage
	if history != nil {
		loaded, err := history.Load(ctx, record.ProjectID, sessionID)
		if err == nil {
			msgs, found = loaded, true
		}
	}

	if !found {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return record, msgs, nil
}

// getPrompt retrieves the prompt from various sources.
func (r *Runner) getPrompt() (string, error) {
	var prompt string

	if r.config.ReadStdin {
		scanner := bufio.NewScanner(r.deps.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		prompt = strings.Join(lines, "\n")
	}

	// Combine the direct prompt with stdin
	if r.config.Prompt != "" {
		if prompt != "" {
			prompt = r.config.Prompt + "\n\n" + prompt
		} else {
			prompt = r.config.Prompt
		}
	}

	// Attach file contents if specified
	if len(r.config.Files) > 0 {
		var fileContent strings.Builder
		for _, file := range r.config.Files {
			content, err := os.ReadFile(file)
			if err != nil {
				return "", fmt.Errorf("failed to read file %s: %w", file, err)
			}
			fmt.Fprintf(&fileContent, "\n\n--- File: %s ---\n%s", file, content)
		}
		prompt += fileContent.String()
	}

	return strings.TrimSpace(prompt), nil
}

// turnWatcher follows status and process notifications of a run.
type turnWatcher struct {
	idle   chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	started int
	exits   int
}

func newTurnWatcher() *turnWatcher {
	return &turnWatcher{
		idle:   make(chan struct{}, 1),
		exited: make(chan struct{}, 1),
	}
}

func (w *turnWatcher) watch(bus *event.Bus) (func(), error) {
	var unsubs []func()
	stop := func() {
		for _, u := range unsubs {
			u()
		}
	}
	handlers := map[string]event.Handler{
		event.SessionStatus: func(e event.Event) {
			if data, ok := e.Payload.(event.SessionStatusData); ok && !data.Status.Busy {
				wake(w.idle)
			}
		},
		event.ProcessStarted: func(event.Event) {
			w.mu.Lock()
			w.started++
			w.mu.Unlock()
		},
		event.ProcessExited: func(event.Event) {
			w.mu.Lock()
			w.exits++
			w.mu.Unlock()
			wake(w.exited)
		},
	}
	for ch, fn := range handlers {
		unsub, err := bus.Subscribe(ch, fn)
		if err != nil {
			stop()
			return nil, err
		}
		unsubs = append(unsubs, unsub)
	}
	return stop, nil
}

// waitIdle blocks until the controller has no turn in flight.
func (w *turnWatcher) waitIdle(ctx context.Context, ctrl *session.Controller) error {
	for ctrl.Status().Busy {
		select {
		case <-w.idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// waitExit waits for every agent process the run started to exit.
func (w *turnWatcher) waitExit(limit time.Duration) {
	deadline := time.After(limit)
	for {
		w.mu.Lock()
		pending := w.started > w.exits
		w.mu.Unlock()
		if !pending {
			return
		}
		select {
		case <-w.exited:
		case <-deadline:
			logging.Debug().Msg("agent process still running after turn")
			return
		}
	}
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
