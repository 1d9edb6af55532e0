package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageKind is the top-level "type" tag of a stream message.
type MessageKind string

const (
	KindSystem    MessageKind = "system"
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
	KindResult    MessageKind = "result"
)

// Subtypes used on system and result messages.
const (
	SubtypeInit      = "init"
	SubtypeSuccess   = "success"
	SubtypeError     = "error"
	SubtypeCancelled = "cancelled"
)

// ErrUnknownKind is returned when a stream line carries an unsupported type tag.
var ErrUnknownKind = errors.New("unknown stream message type")

// Usage holds token counts reported by the agent.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Total returns input plus output tokens.
func (u *Usage) Total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// MessageBody is the nested message carried by user and assistant entries.
type MessageBody struct {
	ID      string  `json:"id,omitempty"`
	Role    string  `json:"role,omitempty"`
	Model   string  `json:"model,omitempty"`
	Content Content `json:"content,omitempty"`
	Usage   *Usage  `json:"usage,omitempty"`
}

// StreamMessage is one line of the agent's stream-json output.
// Kind selects which of the payload fields are meaningful:
//
//	system:    Subtype, SessionID, Model, Cwd, Tools, IsMeta, Summary, LeafUUID, Error
//	user:      Message (tool results or prompt text)
//	assistant: Message (text, thinking, tool_use blocks)
//	result:    Subtype, Result, IsError, Usage, DurationMS, NumTurns, TotalCostUSD
type StreamMessage struct {
	Kind      MessageKind  `json:"type"`
	Subtype   string       `json:"subtype,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	UUID      string       `json:"uuid,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	IsMeta    bool         `json:"isMeta,omitempty"`
	Summary   string       `json:"summary,omitempty"`
	LeafUUID  string       `json:"leafUuid,omitempty"`
	Model     string       `json:"model,omitempty"`
	Cwd       string       `json:"cwd,omitempty"`
	Tools     []string     `json:"tools,omitempty"`
	Message   *MessageBody `json:"message,omitempty"`
	Usage     *Usage       `json:"usage,omitempty"`
	Result    string       `json:"result,omitempty"`
	IsError   bool         `json:"is_error,omitempty"`
	Error     string       `json:"error,omitempty"`

	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`

	// Raw is the line as received; synthetic messages carry their own encoding.
	Raw json.RawMessage `json:"-"`
}

// ParseStreamMessage decodes one stream line. Lines that are not JSON objects
// or carry an unknown type tag are rejected.
func ParseStreamMessage(line string) (*StreamMessage, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.New("empty stream line")
	}

	var msg StreamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode stream line: %w", err)
	}

	switch msg.Kind {
	case KindSystem, KindUser, KindAssistant, KindResult:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}

	msg.Raw = json.RawMessage(line)
	return &msg, nil
}

// IsInit reports whether the message is a system/init announcement.
func (m *StreamMessage) IsInit() bool {
	return m.Kind == KindSystem && m.Subtype == SubtypeInit
}

// EffectiveUsage returns the top-level usage, falling back to the nested
// message usage.
func (m *StreamMessage) EffectiveUsage() *Usage {
	if m.Usage != nil {
		return m.Usage
	}
	if m.Message != nil {
		return m.Message.Usage
	}
	return nil
}

// Blocks returns the content blocks of the nested message, if any.
func (m *StreamMessage) Blocks() Content {
	if m.Message == nil {
		return nil
	}
	return m.Message.Content
}

// ToolUses returns the tool_use blocks of an assistant message.
func (m *StreamMessage) ToolUses() []ContentBlock {
	if m.Kind != KindAssistant {
		return nil
	}
	var uses []ContentBlock
	for _, b := range m.Blocks() {
		if b.Kind == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// FindToolUse returns the tool_use block with the given id.
func (m *StreamMessage) FindToolUse(id string) (ContentBlock, bool) {
	for _, b := range m.ToolUses() {
		if b.ID == id {
			return b, true
		}
	}
	return ContentBlock{}, false
}

// Text concatenates the text blocks of the message, or returns the result
// text for result messages.
func (m *StreamMessage) Text() string {
	if m.Kind == KindResult {
		return m.Result
	}
	var sb strings.Builder
	for _, b := range m.Blocks() {
		if b.Kind == BlockText {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Encode returns the wire form of the message.
func (m *StreamMessage) Encode() json.RawMessage {
	if len(m.Raw) > 0 {
		return m.Raw
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// MarshalJSON emits the raw line when the message was received from the agent.
func (m StreamMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type alias StreamMessage
	return json.Marshal(alias(m))
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewUserEcho builds the synthetic user entry recorded when a prompt starts.
func NewUserEcho(prompt string) *StreamMessage {
	msg := &StreamMessage{
		Kind:      KindUser,
		Timestamp: now(),
		Message: &MessageBody{
			Role:    "user",
			Content: Content{{Kind: BlockText, Text: prompt}},
		},
	}
	msg.Raw = msg.Encode()
	return msg
}

// NewErrorMessage builds a synthetic system/error entry.
func NewErrorMessage(text string) *StreamMessage {
	msg := &StreamMessage{
		Kind:      KindSystem,
		Subtype:   SubtypeError,
		Timestamp: now(),
		Error:     text,
	}
	msg.Raw = msg.Encode()
	return msg
}

// NewCancelledMessage builds the synthetic entry recorded after a successful cancel.
func NewCancelledMessage() *StreamMessage {
	msg := &StreamMessage{
		Kind:      KindSystem,
		Subtype:   SubtypeCancelled,
		Timestamp: now(),
		Result:    "Session cancelled by user",
	}
	msg.Raw = msg.Encode()
	return msg
}
