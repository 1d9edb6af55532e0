package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/pkg/types"
)

var (
	dim     = color.New(color.FgHiBlack)
	toolTag = color.New(color.FgYellow)
	errTag  = color.New(color.FgRed)
	doneTag = color.New(color.FgGreen, color.Bold)
)

// printedChannels are the notifications the printer follows.
var printedChannels = []string{
	event.SessionMessage,
	event.SessionStatus,
	event.CheckpointCreated,
	event.CheckpointFailed,
}

// Printer handles event output in various formats for headless mode.
type Printer struct {
	mu          sync.Mutex
	writer      io.Writer
	format      OutputFormat
	quiet       bool
	verbose     bool
	unsubscribe []func()
	startTime   time.Time
	result      *Result
	wasBusy     bool
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		startTime: time.Now(),
		result: &Result{
			Status:   "running",
			ExitCode: ExitSuccess,
		},
	}
}

// Subscribe starts listening to the bus's notifications.
func (p *Printer) Subscribe(bus *event.Bus) error {
	for _, ch := range printedChannels {
		unsub, err := bus.Subscribe(ch, p.handleEvent)
		if err != nil {
			p.Unsubscribe()
			return err
		}
		p.unsubscribe = append(p.unsubscribe, unsub)
	}
	return nil
}

// Unsubscribe stops listening to events.
func (p *Printer) Unsubscribe() {
	for _, unsub := range p.unsubscribe {
		unsub()
	}
	p.unsubscribe = nil
}

// Result returns the current result.
func (p *Printer) Result() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := *p.result
	r.DurationMS = time.Since(p.startTime).Milliseconds()
	r.ToolCalls = append([]ToolCall(nil), p.result.ToolCalls...)
	r.Checkpoints = append([]string(nil), p.result.Checkpoints...)
	return &r
}

// SetResult records the outcome of the run.
func (p *Printer) SetResult(status string, exitCode ExitCode, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Status = status
	p.result.ExitCode = exitCode
	if err != nil {
		p.result.Error = err.Error()
	}
}

// SetSession fills in what the controller knows when the run ends.
func (p *Printer) SetSession(sessionID, model string, tokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sessionID != "" {
		p.result.SessionID = sessionID
	}
	if p.result.Model == "" {
		p.result.Model = model
	}
	p.result.Tokens = tokens
}

// PrintFinalResult prints the final JSON result (for json format).
func (p *Printer) PrintFinalResult() {
	if p.format != OutputJSON {
		return
	}

	data, err := json.MarshalIndent(p.Result(), "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// handleEvent processes incoming events and outputs them according to format.
func (p *Printer) handleEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trackEvent(e)

	switch p.format {
	case OutputText:
		p.handleTextEvent(e)
	case OutputJSONL:
		p.handleJSONLEvent(e)
	}
}

// handleTextEvent outputs events in human-readable text format.
func (p *Printer) handleTextEvent(e event.Event) {
	switch data := e.Payload.(type) {
	case event.SessionMessageData:
		if data.Message == nil || (!data.Visible && !p.verbose) {
			return
		}
		p.printMessage(data.Message)

	case event.SessionStatusData:
		busy := data.Status.Busy
		finished := p.wasBusy && !busy
		p.wasBusy = busy
		if !finished || p.quiet {
			return
		}
		if data.Status.Error != nil {
			fmt.Fprintln(p.writer, errTag.Sprintf("[error] %s", *data.Status.Error))
		}
		fmt.Fprintln(p.writer, doneTag.Sprintf("[done] turn finished in %s (%d tokens)",
			formatDuration(time.Since(p.startTime)), data.Status.Tokens))

	case event.CheckpointCreatedData:
		if p.verbose && !p.quiet && data.Checkpoint != nil {
			fmt.Fprintln(p.writer, dim.Sprintf("[checkpoint] %s (%d files)", data.Checkpoint.ID, len(data.Checkpoint.Files)))
		}

	case event.CheckpointFailedData:
		if !p.quiet {
			fmt.Fprintln(p.writer, toolTag.Sprintf("[checkpoint] failed: %s", data.Error))
		}
	}
}

// printMessage renders one stream message.
func (p *Printer) printMessage(m *types.StreamMessage) {
	if p.quiet {
		if m.Kind == types.KindAssistant {
			if text := m.Text(); text != "" {
				fmt.Fprintln(p.writer, text)
			}
		}
		return
	}

	switch m.Kind {
	case types.KindSystem:
		if m.IsInit() {
			fmt.Fprintln(p.writer, dim.Sprintf("[session:%s] %s", truncateID(m.SessionID), m.Model))
		} else if p.verbose {
			fmt.Fprintln(p.writer, dim.Sprintf("[system:%s] %s", m.Subtype, m.Summary))
		}

	case types.KindAssistant:
		for _, b := range m.Blocks() {
			switch b.Kind {
			case types.BlockText:
				fmt.Fprintln(p.writer, b.Text)
			case types.BlockThinking:
				if p.verbose {
					fmt.Fprintln(p.writer, dim.Sprint(b.Thinking))
				}
			case types.BlockToolUse:
				if info := formatToolInfo(b); info != "" {
					fmt.Fprintln(p.writer, toolTag.Sprintf("[tool:%s] %s", b.Name, info))
				} else {
					fmt.Fprintln(p.writer, toolTag.Sprintf("[tool:%s]", b.Name))
				}
			}
		}

	case types.KindUser:
		for _, b := range m.Blocks() {
			if b.Kind == types.BlockToolResult && b.IsError {
				fmt.Fprintln(p.writer, errTag.Sprintf("[tool] error: %s", truncateOutput(b.ResultText(), 200)))
			} else if b.Kind == types.BlockToolResult && p.verbose {
				fmt.Fprintln(p.writer, dim.Sprint(truncateOutput(b.ResultText(), 200)))
			}
		}

	case types.KindResult:
		if m.IsError || (m.Subtype != "" && m.Subtype != types.SubtypeSuccess) {
			fmt.Fprintln(p.writer, errTag.Sprintf("[result:%s] %s", m.Subtype, m.Result))
		}
	}
}

// handleJSONLEvent outputs events in JSONL format.
func (p *Printer) handleJSONLEvent(e event.Event) {
	if data, ok := e.Payload.(event.SessionMessageData); ok && !data.Visible && !p.verbose {
		return
	}

	data, err := json.Marshal(NewEvent(e.Channel, e.Payload))
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// trackEvent tracks events for the final result.
func (p *Printer) trackEvent(e event.Event) {
	switch data := e.Payload.(type) {
	case event.SessionMessageData:
		m := data.Message
		if m == nil {
			return
		}
		if data.SessionID != "" {
			p.result.SessionID = data.SessionID
		}
		switch m.Kind {
		case types.KindSystem:
			if m.IsInit() && m.Model != "" {
				p.result.Model = m.Model
			}
		case types.KindAssistant:
			for _, b := range m.ToolUses() {
				p.result.ToolCalls = append(p.result.ToolCalls, ToolCall{ID: b.ID, Tool: b.Name, Summary: formatToolInfo(b)})
			}
			if text := m.Text(); text != "" {
				p.result.FinalMessage = text
			}
		case types.KindUser:
			for _, b := range m.Blocks() {
				if b.Kind == types.BlockToolResult && b.IsError {
					p.markToolError(b.ToolUseID, truncateOutput(b.ResultText(), 500))
				}
			}
		case types.KindResult:
			if m.Result != "" {
				p.result.FinalMessage = m.Result
			}
			p.result.CostUSD = m.TotalCostUSD
			p.result.Turns = m.NumTurns
		}

	case event.SessionStatusData:
		p.result.Tokens = data.Status.Tokens
		if data.Status.SessionID != "" {
			p.result.SessionID = data.Status.SessionID
		}

	case event.CheckpointCreatedData:
		if data.Checkpoint != nil {
			p.result.Checkpoints = append(p.result.Checkpoints, data.Checkpoint.ID)
		}
	}
}

func (p *Printer) markToolError(id, msg string) {
	for i := range p.result.ToolCalls {
		if p.result.ToolCalls[i].ID == id {
			p.result.ToolCalls[i].Error = msg
			return
		}
	}
}

// Helper functions

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatToolInfo(b types.ContentBlock) string {
	switch b.Name {
	case "Read":
		if path := b.InputField("file_path"); path != "" {
			return fmt.Sprintf("Reading %s", path)
		}
	case "Write":
		if path := b.InputField("file_path"); path != "" {
			return fmt.Sprintf("Writing %s", path)
		}
	case "Edit", "MultiEdit":
		if path := b.InputField("file_path"); path != "" {
			return fmt.Sprintf("Editing %s", path)
		}
	case "Bash":
		if cmd := b.InputField("command"); cmd != "" {
			cmd = strings.Split(cmd, "\n")[0]
			if len(cmd) > 60 {
				cmd = cmd[:60] + "..."
			}
			return fmt.Sprintf("$ %s", cmd)
		}
	case "Glob":
		if pattern := b.InputField("pattern"); pattern != "" {
			return fmt.Sprintf("Searching: %s", pattern)
		}
	case "Grep":
		if pattern := b.InputField("pattern"); pattern != "" {
			return fmt.Sprintf("Grepping: %s", pattern)
		}
	case "WebFetch":
		if url := b.InputField("url"); url != "" {
			return fmt.Sprintf("Fetching: %s", url)
		}
	case "Task":
		if desc := b.InputField("description"); desc != "" {
			return desc
		}
	}
	return ""
}
