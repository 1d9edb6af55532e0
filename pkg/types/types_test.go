package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseStreamMessage_Init(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"abc","model":"claude-sonnet-4","cwd":"/tmp/p","tools":["Bash","Edit"]}`

	msg, err := ParseStreamMessage(line)
	if err != nil {
		t.Fatalf("ParseStreamMessage failed: %v", err)
	}
	if !msg.IsInit() {
		t.Errorf("Expected init message, got %s/%s", msg.Kind, msg.Subtype)
	}
	if msg.SessionID != "abc" {
		t.Errorf("SessionID mismatch: got %s", msg.SessionID)
	}
	if string(msg.Raw) != line {
		t.Errorf("Raw should keep the original line")
	}
}

func TestParseStreamMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", "   "},
		{"not json", "Error: something went wrong"},
		{"array", `[1,2,3]`},
		{"unknown type", `{"type":"stream_event"}`},
		{"missing type", `{"subtype":"init"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseStreamMessage(tt.line); err == nil {
				t.Errorf("Expected error for %q", tt.line)
			}
		})
	}

	_, err := ParseStreamMessage(`{"type":"bogus"}`)
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestParseStreamMessage_AssistantToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"text","text":"Let me edit."},` +
		`{"type":"tool_use","id":"tu_1","name":"Edit","input":{"file_path":"/tmp/p/a.go"}}],` +
		`"usage":{"input_tokens":12,"output_tokens":3}}}`

	msg, err := ParseStreamMessage(line)
	if err != nil {
		t.Fatalf("ParseStreamMessage failed: %v", err)
	}

	uses := msg.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("Expected 1 tool use, got %d", len(uses))
	}
	if uses[0].Name != "Edit" || uses[0].InputField("file_path") != "/tmp/p/a.go" {
		t.Errorf("Unexpected tool use: %+v", uses[0])
	}
	if _, ok := msg.FindToolUse("tu_1"); !ok {
		t.Error("FindToolUse should locate tu_1")
	}
	if msg.Text() != "Let me edit." {
		t.Errorf("Text mismatch: %q", msg.Text())
	}
	if got := msg.EffectiveUsage().Total(); got != 15 {
		t.Errorf("Expected nested usage total 15, got %d", got)
	}
}

func TestContent_StringForm(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":"hello"}}`

	msg, err := ParseStreamMessage(line)
	if err != nil {
		t.Fatalf("ParseStreamMessage failed: %v", err)
	}
	blocks := msg.Blocks()
	if len(blocks) != 1 || blocks[0].Kind != BlockText || blocks[0].Text != "hello" {
		t.Errorf("Expected single text block, got %+v", blocks)
	}
	if blocks.OnlyToolResults() {
		t.Error("Text content is not tool results only")
	}
}

func TestContentBlock_ResultText(t *testing.T) {
	var c Content
	data := `[{"type":"tool_result","tool_use_id":"x","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]},` +
		`{"type":"tool_result","tool_use_id":"y","content":"plain"}]`
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !c.OnlyToolResults() {
		t.Error("Expected tool results only")
	}
	if c[0].ResultText() != "a\nb" {
		t.Errorf("Unexpected result text: %q", c[0].ResultText())
	}
	if c[1].ResultText() != "plain" {
		t.Errorf("Unexpected result text: %q", c[1].ResultText())
	}
}

func TestSyntheticMessages(t *testing.T) {
	echo := NewUserEcho("fix bug")
	if echo.Kind != KindUser || echo.Text() != "fix bug" {
		t.Errorf("Unexpected echo: %+v", echo)
	}

	// Synthetic messages round-trip through the parser.
	parsed, err := ParseStreamMessage(string(echo.Encode()))
	if err != nil {
		t.Fatalf("Echo should re-parse: %v", err)
	}
	if parsed.Text() != "fix bug" {
		t.Errorf("Re-parsed echo text mismatch: %q", parsed.Text())
	}

	cancelled := NewCancelledMessage()
	if cancelled.Kind != KindSystem || cancelled.Subtype != SubtypeCancelled {
		t.Errorf("Unexpected cancelled message: %+v", cancelled)
	}

	errMsg := NewErrorMessage("boom")
	if errMsg.Subtype != SubtypeError || errMsg.Error != "boom" {
		t.Errorf("Unexpected error message: %+v", errMsg)
	}
}

func TestUsage_NilTotal(t *testing.T) {
	var u *Usage
	if u.Total() != 0 {
		t.Error("nil usage should total 0")
	}
}

func TestProjectID(t *testing.T) {
	if got := ProjectID("/home/user/my.project"); got != "-home-user-my-project" {
		t.Errorf("Unexpected project id: %s", got)
	}
}

func TestCheckpointStrategy_Valid(t *testing.T) {
	for _, s := range []CheckpointStrategy{StrategyManual, StrategyPerPrompt, StrategyPerToolUse, StrategySmart} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if CheckpointStrategy("sometimes").Valid() {
		t.Error("unknown strategy should be invalid")
	}
}

func TestConfig_Defaults(t *testing.T) {
	var cfg *Config
	if cfg.DefaultModelOrFallback() != DefaultModel {
		t.Errorf("Expected default model, got %s", cfg.DefaultModelOrFallback())
	}
	if cfg.QueueMaxDepth() != 0 || cfg.QueueReleaseDelay() != 0 {
		t.Error("Expected unbounded queue without delay")
	}
	if cfg.KillGrace() != 3*time.Second {
		t.Errorf("Unexpected kill grace: %v", cfg.KillGrace())
	}
	policy := cfg.DefaultCheckpointPolicy()
	if !policy.AutoEnabled || policy.Strategy != StrategySmart {
		t.Errorf("Unexpected default policy: %+v", policy)
	}
	if cfg.ServerPort() != DefaultServerPort || !cfg.CORSEnabled() {
		t.Error("Unexpected server defaults")
	}
}

func TestConfig_Overrides(t *testing.T) {
	off := false
	cfg := &Config{
		Model:      "opus",
		Queue:      &QueueConfig{MaxDepth: 2, ReleaseDelayMs: 150},
		Cancel:     &CancelConfig{KillGraceMs: 500},
		Checkpoint: &CheckpointConfig{AutoEnabled: &off, Strategy: "bogus"},
		Server:     &ServerConfig{Port: 9000, EnableCORS: &off},
	}

	if cfg.DefaultModelOrFallback() != "opus" {
		t.Errorf("Unexpected model: %s", cfg.DefaultModelOrFallback())
	}
	if cfg.QueueMaxDepth() != 2 || cfg.QueueReleaseDelay() != 150*time.Millisecond {
		t.Error("Unexpected queue settings")
	}
	if cfg.KillGrace() != 500*time.Millisecond {
		t.Errorf("Unexpected kill grace: %v", cfg.KillGrace())
	}
	policy := cfg.DefaultCheckpointPolicy()
	if policy.AutoEnabled || policy.Strategy != StrategySmart {
		t.Errorf("Invalid strategy should fall back to smart with auto off: %+v", policy)
	}
	if cfg.ServerPort() != 9000 || cfg.CORSEnabled() {
		t.Error("Unexpected server settings")
	}
}

func TestToolUseOf(t *testing.T) {
	edit := ContentBlock{Kind: BlockToolUse, Name: "Edit", Input: []byte(`{"file_path":"a.go","old_string":"x"}`)}
	if use := ToolUseOf(edit); use.Name != "Edit" || use.FilePath != "a.go" || use.Command != "" {
		t.Errorf("Unexpected edit summary: %+v", use)
	}

	bash := ContentBlock{Kind: BlockToolUse, Name: "Bash", Input: []byte(`{"command":"rm -rf build"}`)}
	if use := ToolUseOf(bash); use.Command != "rm -rf build" || use.FilePath != "" {
		t.Errorf("Unexpected bash summary: %+v", use)
	}
}
