package types

import (
	"encoding/json"
	"strings"
)

// BlockKind is the "type" tag of a content block.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is one element of a message's content array.
// Unknown kinds are preserved but carry no special meaning.
type ContentBlock struct {
	Kind BlockKind `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// InputField returns a string field of a tool_use input object.
func (b ContentBlock) InputField(name string) string {
	if len(b.Input) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(b.Input, &fields); err != nil {
		return ""
	}
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// ResultText returns the textual content of a tool_result block.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var parts Content
	if err := json.Unmarshal(b.Content, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Kind == BlockText {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(b.Content)
}

// Content is a message's content. On the wire it is either a plain string or
// an array of blocks; a string decodes to a single text block.
type Content []ContentBlock

// UnmarshalJSON accepts both the string and the array form.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{{Kind: BlockText, Text: s}}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}

// OnlyToolResults reports whether the content is non-empty and made up
// entirely of tool_result blocks.
func (c Content) OnlyToolResults() bool {
	if len(c) == 0 {
		return false
	}
	for _, b := range c {
		if b.Kind != BlockToolResult {
			return false
		}
	}
	return true
}
