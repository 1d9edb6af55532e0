package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/internal/headless"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/internal/model"
	"github.com/opencode-ai/claudia/internal/session"
)

var (
	chatWorkDir   string
	chatSessionID string
	chatContinue  bool
	chatModel     string
	chatVerbose   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session with the claude CLI.

Each line is sent as a prompt. Lines typed while a turn is running are
queued and sent in order once it finishes. Ctrl-C cancels the running turn.

Commands:
  /cancel                 cancel the running turn and clear the queue
  /queue                  list queued prompts
  /drop <id>              remove a queued prompt
  /checkpoint             checkpoint the session now
  /fork <checkpoint> <name>  branch a new session from a checkpoint
  /model [name]           show or switch the model
  /status                 show session status
  /quit                   leave (a running agent keeps running)`,
}

func init() {
	// Set here rather than in the literal: runChat refers back to chatCmd.
	chatCmd.RunE = runChat
	chatCmd.Flags().StringVarP(&chatWorkDir, "workdir", "w", "", "Working directory")
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "", "Resume existing session ID")
	chatCmd.Flags().BoolVarP(&chatContinue, "continue", "c", false, "Continue the last conversation")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model alias or full model id")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Show hidden messages and checkpoints")
}

// chat is one interactive session.
type chat struct {
	ctrl  *session.Controller
	out   io.Writer
	model string
	// fallback is the configured default model.
	fallback string
	first    bool
	notice   func(format string, a ...any) string
}

func runChat(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(chatWorkDir)
	if err != nil {
		return err
	}
	if chatModel != "" {
		if _, err := model.Resolve(chatModel, ""); err != nil {
			return err
		}
	}

	a, err := newApp(workDir)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.sessionOptions()
	if chatSessionID != "" {
		record, history, err := headless.LoadSession(cmd.Context(), a.records, a.history, workDir, chatSessionID)
		if err != nil {
			return err
		}
		opts.Session = record
		opts.History = history
	}

	ctrl, err := session.NewController(opts)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	printer := headless.NewPrinter(os.Stdout, headless.OutputText, false, chatVerbose)
	if err := printer.Subscribe(a.bus); err != nil {
		return err
	}
	defer printer.Unsubscribe()

	c := &chat{
		ctrl:     ctrl,
		out:      os.Stdout,
		model:    chatModel,
		fallback: a.config.DefaultModelOrFallback(),
		first:    true,
		notice:   color.New(color.FgCyan).SprintfFunc(),
	}

	// Ctrl-C cancels the running turn instead of leaving.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	snap := ctrl.Snapshot()
	if snap.SessionID != "" {
		fmt.Fprintln(c.out, c.notice("resuming %s (%d messages)", snap.SessionID, len(snap.Messages)))
	}
	fmt.Fprintln(c.out, c.notice("claudia %s in %s. /help for commands.", Version, workDir))

	ctx := cmd.Context()
	for {
		select {
		case <-interrupts:
			if ctrl.Status().Busy {
				fmt.Fprintln(c.out, c.notice("cancelling..."))
				if err := ctrl.Cancel(ctx); err != nil {
					logging.Warn().Err(err).Msg("cancel failed")
				}
			} else {
				fmt.Fprintln(c.out, c.notice("use /quit to leave"))
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// readLines sends stdin lines to out and closes it at EOF.
func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// handle runs one input line and reports whether the session should end.
func (c *chat) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.submit(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, chatCmd.Long)
	case "/cancel":
		if err := c.ctrl.Cancel(ctx); err != nil {
			c.fail(err)
		}
	case "/queue":
		queue := c.ctrl.Snapshot().Queue
		if len(queue) == 0 {
			fmt.Fprintln(c.out, c.notice("queue is empty"))
		}
		for i, item := range queue {
			fmt.Fprintln(c.out, c.notice("%d. %s [%s] %s", i+1, item.ID, item.Model, truncate(item.Prompt, 60)))
		}
	case "/drop":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, c.notice("usage: /drop <id>"))
			break
		}
		if c.ctrl.Remove(fields[1]) {
			fmt.Fprintln(c.out, c.notice("dropped %s", fields[1]))
		} else {
			fmt.Fprintln(c.out, c.notice("%s is not queued", fields[1]))
		}
	case "/checkpoint":
		cp, err := c.ctrl.Checkpoint(ctx)
		switch {
		case err != nil:
			c.fail(err)
		case cp == nil:
			fmt.Fprintln(c.out, c.notice("no checkpoint created"))
		default:
			fmt.Fprintln(c.out, c.notice("checkpoint %s (%d files)", cp.ID, len(cp.Files)))
		}
	case "/fork":
		if len(fields) < 3 {
			fmt.Fprintln(c.out, c.notice("usage: /fork <checkpoint> <name>"))
			break
		}
		id, err := c.ctrl.Fork(ctx, fields[1], strings.Join(fields[2:], " "))
		switch {
		case err != nil:
			c.fail(err)
		case id == "":
			fmt.Fprintln(c.out, c.notice("nothing to fork yet"))
		default:
			fmt.Fprintln(c.out, c.notice("forked as %s; resume with claudia chat -s %s", id, id))
		}
	case "/model":
		if len(fields) == 1 {
			fmt.Fprintln(c.out, c.notice("model: %s", c.currentModel()))
			break
		}
		if _, err := model.Resolve(fields[1], ""); err != nil {
			c.fail(err)
			break
		}
		c.model = fields[1]
		fmt.Fprintln(c.out, c.notice("model: %s", c.currentModel()))
	case "/status":
		st := c.ctrl.Status()
		state := "idle"
		if st.Busy {
			state = "busy"
		}
		fmt.Fprintln(c.out, c.notice("session %s: %s, %d messages, %d tokens, %d queued",
			orDash(st.SessionID), state, st.Messages, st.Tokens, len(st.Queue)))
		if st.Error != nil {
			fmt.Fprintln(c.out, c.notice("last error: %s", *st.Error))
		}
	default:
		fmt.Fprintln(c.out, c.notice("unknown command %s", fields[0]))
	}
	return false
}

// submit sends a prompt, continuing the last conversation first when asked.
func (c *chat) submit(ctx context.Context, prompt string) {
	first := c.first
	c.first = false

	if first && chatContinue && c.ctrl.SessionID() == "" {
		if err := c.ctrl.Continue(ctx, prompt, c.model); err != nil {
			c.fail(err)
		}
		return
	}

	queued, err := c.ctrl.Submit(ctx, prompt, c.model)
	switch {
	case err != nil:
		c.fail(err)
	case queued != nil:
		fmt.Fprintln(c.out, c.notice("[queued] %s", queued.ID))
	}
}

func (c *chat) currentModel() string {
	resolved, err := model.Resolve(c.model, c.fallback)
	if err != nil {
		return c.model
	}
	return resolved
}

func (c *chat) fail(err error) {
	fmt.Fprintln(c.out, color.RedString("error: %v", err))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
