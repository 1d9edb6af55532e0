// Package launcher runs the claude CLI in stream-json mode and publishes its
// output onto the event bus.
//
// Until the agent reports its session id (the system/init line), stdout and
// stderr lines are published on the generic channels. The init line is
// published on both the generic and the scoped output channel under one
// sequence number; everything after it, including the completion event, goes
// to the scoped channels only.
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/shell"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/process"
	"github.com/opencode-ai/claudia/pkg/types"
)

// maxLineSize bounds a single stream-json line.
const maxLineSize = 16 * 1024 * 1024

// Mode selects how a turn is launched.
type Mode string

const (
	ModeStart    Mode = "start"
	ModeResume   Mode = "resume"
	ModeContinue Mode = "continue"
)

// Request describes one agent invocation.
type Request struct {
	Mode        Mode
	ProjectPath string
	SessionID   string // required for ModeResume
	Prompt      string
	Model       string
}

// Options configures a Launcher.
type Options struct {
	// Binary is the agent executable. When empty it is located with
	// FindBinary(ClaudePath) on first use.
	Binary     string
	ClaudePath string
	// ExtraArgs are appended to every invocation, split with shell quoting rules.
	ExtraArgs string
	// KillGrace is how long Cancel waits between SIGTERM and SIGKILL.
	KillGrace time.Duration
	Bus       *event.Bus
	Registry  *process.Registry
}

// Launcher starts, resumes and cancels agent processes.
type Launcher struct {
	bus       *event.Bus
	registry  *process.Registry
	extra     []string
	killGrace time.Duration

	mu         sync.Mutex
	binary     string
	claudePath string
}

// New creates a launcher.
func New(opts Options) (*Launcher, error) {
	extra, err := shell.Fields(opts.ExtraArgs, nil)
	if err != nil {
		return nil, fmt.Errorf("parse extra args %q: %w", opts.ExtraArgs, err)
	}
	if opts.Bus == nil {
		opts.Bus = event.Default()
	}
	if opts.Registry == nil {
		opts.Registry = process.NewRegistry(0)
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = types.DefaultKillGraceMs * time.Millisecond
	}
	return &Launcher{
		bus:        opts.Bus,
		registry:   opts.Registry,
		extra:      extra,
		killGrace:  opts.KillGrace,
		binary:     opts.Binary,
		claudePath: opts.ClaudePath,
	}, nil
}

// FromConfig creates a launcher from loaded configuration.
func FromConfig(cfg *types.Config, bus *event.Bus, registry *process.Registry) (*Launcher, error) {
	return New(Options{
		ClaudePath: cfg.ClaudePath,
		ExtraArgs:  cfg.ExtraArgs,
		KillGrace:  cfg.KillGrace(),
		Bus:        bus,
		Registry:   registry,
	})
}

// Registry returns the process registry the launcher reports into.
func (l *Launcher) Registry() *process.Registry {
	return l.registry
}

// Running lists agent processes that have not exited.
func (l *Launcher) Running() []process.Info {
	return l.registry.Running()
}

// Start launches a new session.
func (l *Launcher) Start(ctx context.Context, projectPath, prompt, model string) error {
	return l.Launch(ctx, Request{Mode: ModeStart, ProjectPath: projectPath, Prompt: prompt, Model: model})
}

// Resume launches a turn on an existing session.
func (l *Launcher) Resume(ctx context.Context, projectPath, sessionID, prompt, model string) error {
	return l.Launch(ctx, Request{Mode: ModeResume, ProjectPath: projectPath, SessionID: sessionID, Prompt: prompt, Model: model})
}

// Continue launches a turn on the project's most recent conversation.
func (l *Launcher) Continue(ctx context.Context, projectPath, prompt, model string) error {
	return l.Launch(ctx, Request{Mode: ModeContinue, ProjectPath: projectPath, Prompt: prompt, Model: model})
}

// Cancel stops the process serving sessionID. It reports false when no such
// process is known.
func (l *Launcher) Cancel(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	return l.registry.KillSession(ctx, sessionID, l.killGrace)
}

// CancelRun stops the run registered under runID. It covers a cold start
// cancelled before the agent reported its session id.
func (l *Launcher) CancelRun(ctx context.Context, runID string) (bool, error) {
	if runID == "" {
		return false, nil
	}
	return l.registry.Kill(ctx, runID, l.killGrace)
}

func (l *Launcher) resolveBinary(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.binary != "" {
		return l.binary, nil
	}
	bin, err := FindBinary(ctx, l.claudePath)
	if err != nil {
		return "", err
	}
	l.binary = bin
	return bin, nil
}

// BuildArgs returns the agent command line for req.
func BuildArgs(req Request, extra []string) []string {
	var args []string
	switch req.Mode {
	case ModeResume:
		args = append(args, "--resume", req.SessionID)
	case ModeContinue:
		args = append(args, "-c")
	}
	args = append(args, "-p", req.Prompt)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	)
	return append(args, extra...)
}

// Launch starts the agent process for req and returns once it is running.
// Output is delivered asynchronously on the bus.
func (l *Launcher) Launch(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.ProjectPath == "" {
		return errors.New("project path is required")
	}
	if info, err := os.Stat(req.ProjectPath); err != nil || !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", req.ProjectPath)
	}
	if req.Mode == ModeResume && req.SessionID == "" {
		return errors.New("resume requires a session id")
	}

	bin, err := l.resolveBinary(ctx)
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, BuildArgs(req, l.extra)...)
	cmd.Dir = req.ProjectPath
	cmd.Env = commandEnv(bin)
	// Own process group so Cancel reaches the agent's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}

	// A resumed session is cancellable by its requested id until the agent
	// reports the id it actually uses.
	runID := l.registry.Register(process.Info{
		PID:         cmd.Process.Pid,
		SessionID:   req.SessionID,
		ProjectPath: req.ProjectPath,
		Prompt:      req.Prompt,
		Model:       req.Model,
	})

	process.ReportRun(ctx, runID)

	r := &run{
		l:   l,
		id:  runID,
		cmd: cmd,
		log: logging.Component("launcher").With().Str("runID", runID).Logger(),
	}

	r.log.Info().
		Str("mode", string(req.Mode)).
		Str("projectPath", req.ProjectPath).
		Str("model", req.Model).
		Int("pid", cmd.Process.Pid).
		Msg("agent started")

	l.bus.PublishSync(event.Event{
		Channel: event.ProcessStarted,
		Payload: event.ProcessStartedData{
			RunID:       runID,
			PID:         cmd.Process.Pid,
			ProjectPath: req.ProjectPath,
			SessionID:   req.SessionID,
		},
	})

	go r.supervise(stdout, stderr)
	return nil
}

// run is one live agent process.
type run struct {
	l   *Launcher
	id  string
	cmd *exec.Cmd
	log zerolog.Logger

	mu        sync.Mutex
	sessionID string
}

func (r *run) session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *run) supervise(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pumpStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		r.pumpStderr(stderr)
	}()
	wg.Wait()

	err := r.cmd.Wait()
	success := err == nil
	exitCode := -1
	if r.cmd.ProcessState != nil {
		exitCode = r.cmd.ProcessState.ExitCode()
	}

	r.l.registry.Finish(r.id)
	sessionID := r.session()

	logEvent := r.log.Info()
	if !success {
		logEvent = r.log.Warn().Err(err)
	}
	logEvent.Str("sessionID", sessionID).Int("exitCode", exitCode).Msg("agent exited")

	_, _, complete := event.OutputChannels(sessionID)
	r.l.bus.Emit(success, complete)

	r.l.bus.PublishSync(event.Event{
		Channel: event.ProcessExited,
		Payload: event.ProcessExitedData{
			RunID:     r.id,
			SessionID: sessionID,
			Success:   success,
			ExitCode:  exitCode,
		},
	})
}

func (r *run) pumpStdout(rd io.Reader) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.l.registry.AppendOutput(r.id, line)

		current := r.session()
		if current != "" {
			r.l.bus.Emit(line, event.Scoped(event.ChannelOutput, current))
			continue
		}

		if id := initSessionID(line); id != "" {
			r.mu.Lock()
			r.sessionID = id
			r.mu.Unlock()
			r.l.registry.BindSession(r.id, id)
			r.log.Debug().Str("sessionID", id).Msg("agent reported session id")
			r.l.bus.Emit(line, event.ChannelOutput, event.Scoped(event.ChannelOutput, id))
			continue
		}
		r.l.bus.Emit(line, event.ChannelOutput)
	}
	r.drain(rd, scanner.Err(), "stdout")
}

func (r *run) pumpStderr(rd io.Reader) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		_, errs, _ := event.OutputChannels(r.session())
		r.l.bus.Emit(line, errs)
	}
	r.drain(rd, scanner.Err(), "stderr")
}

// drain keeps the pipe flowing after a scanner failure so the child never
// blocks on a full pipe.
func (r *run) drain(rd io.Reader, err error, stream string) {
	if err == nil {
		return
	}
	r.log.Warn().Err(err).Str("stream", stream).Msg("agent output unreadable, discarding rest")
	_, _ = io.Copy(io.Discard, rd)
}

// initSessionID returns the session id of a system/init line, or "".
func initSessionID(line string) string {
	if !strings.Contains(line, `"init"`) {
		return ""
	}
	msg, err := types.ParseStreamMessage(line)
	if err != nil || !msg.IsInit() {
		return ""
	}
	return msg.SessionID
}
