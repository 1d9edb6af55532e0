package session

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/claudia/pkg/types"
)

// widgetTools render their own results, so a user message carrying only
// their tool_result is redundant in the display.
var widgetTools = map[string]bool{
	"task":      true,
	"edit":      true,
	"multiedit": true,
	"todowrite": true,
	"ls":        true,
	"read":      true,
	"glob":      true,
	"bash":      true,
	"write":     true,
	"grep":      true,
}

func rendersOwnWidget(name string) bool {
	name = strings.ToLower(name)
	return widgetTools[name] || strings.HasPrefix(name, "mcp__")
}

// Ledger is the ordered, append-only log of a session's stream messages.
// It is not safe for concurrent use.
type Ledger struct {
	entries []*types.StreamMessage
	log     zerolog.Logger
}

// NewLedger creates an empty ledger that reports dropped lines to log.
func NewLedger(log zerolog.Logger) *Ledger {
	return &Ledger{log: log}
}

// Append parses raw and appends it. Lines that fail to parse are logged and
// dropped; Append reports whether the line was kept.
func (l *Ledger) Append(raw string) (*types.StreamMessage, bool) {
	msg, err := types.ParseStreamMessage(raw)
	if err != nil {
		l.log.Warn().Err(err).Str("line", truncate(raw, 200)).Msg("dropping unparseable stream line")
		return nil, false
	}
	l.entries = append(l.entries, msg)
	return msg, true
}

// AppendMessage appends an already-built message.
func (l *Ledger) AppendMessage(msg *types.StreamMessage) {
	if msg != nil {
		l.entries = append(l.entries, msg)
	}
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Messages returns a copy of the entries in order.
func (l *Ledger) Messages() []*types.StreamMessage {
	return append([]*types.StreamMessage(nil), l.entries...)
}

// Raw returns the wire form of every entry, for transcripts.
func (l *Ledger) Raw() [][]byte {
	out := make([][]byte, 0, len(l.entries))
	for _, m := range l.entries {
		if data := m.Encode(); len(data) > 0 {
			out = append(out, data)
		}
	}
	return out
}

// Reset replaces the entries with msgs.
func (l *Ledger) Reset(msgs []*types.StreamMessage) {
	l.entries = append([]*types.StreamMessage(nil), msgs...)
}

// Displayable returns the entries worth presenting, in order.
func (l *Ledger) Displayable() []*types.StreamMessage {
	out := make([]*types.StreamMessage, 0, len(l.entries))
	for i := range l.entries {
		if l.Visible(i) {
			out = append(out, l.entries[i])
		}
	}
	return out
}

// Visible reports whether entry i belongs in the displayable projection.
func (l *Ledger) Visible(i int) bool {
	msg := l.entries[i]
	switch msg.Kind {
	case types.KindSystem:
		return !(msg.IsMeta && msg.Summary == "" && msg.LeafUUID == "")
	case types.KindUser:
		return !l.redundantToolResults(i)
	}
	return true
}

// redundantToolResults reports whether user entry i holds only tool results,
// each answering a prior tool_use of a widget-rendering tool. A result with no
// matching tool_use keeps the entry visible.
func (l *Ledger) redundantToolResults(i int) bool {
	blocks := l.entries[i].Blocks()
	if !blocks.OnlyToolResults() {
		return false
	}
	for _, b := range blocks {
		use, ok := l.findToolUse(i, b.ToolUseID)
		if !ok || !rendersOwnWidget(use.Name) {
			return false
		}
	}
	return true
}

// findToolUse scans backwards from entry i for the assistant tool_use with id.
func (l *Ledger) findToolUse(i int, id string) (types.ContentBlock, bool) {
	if id == "" {
		return types.ContentBlock{}, false
	}
	for j := i - 1; j >= 0; j-- {
		if use, ok := l.entries[j].FindToolUse(id); ok {
			return use, true
		}
	}
	return types.ContentBlock{}, false
}

// TotalTokens sums input and output tokens over every entry, displayed or not.
func (l *Ledger) TotalTokens() int {
	total := 0
	for _, m := range l.entries {
		total += m.EffectiveUsage().Total()
	}
	return total
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
