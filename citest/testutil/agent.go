package testutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AgentSessionID is the session id the scripted agent reports for new
// conversations.
const AgentSessionID = "5b7d3c1e-0a4f-4c2e-9d61-7f3a2b8e4c10"

// AgentScript mimics `claude -p ... --output-format stream-json`. It writes
// the prompt to notes.txt through a Write tool call, answers "done: <prompt>"
// and reports a successful result. A prompt of "slow" blocks after the init
// line until killed; "fail" reports an error on stderr, once the init line
// has had time to move the listeners to the session, and exits 1.
const AgentScript = `
SID="` + AgentSessionID + `"
PROMPT=""
while [ $# -gt 0 ]; do
  case "$1" in
    --resume) SID="$2"; shift 2 ;;
    -p) PROMPT="$2"; shift 2 ;;
    *) shift ;;
  esac
done

echo '{"type":"system","subtype":"init","session_id":"'"$SID"'","model":"claude-sonnet-4","cwd":"'"$PWD"'"}'

case "$PROMPT" in
  slow) exec sleep 30 ;;
  fail) sleep 1; echo "rate limited" >&2; exit 1 ;;
esac

FILE="$PWD/notes.txt"
echo '{"type":"assistant","session_id":"'"$SID"'","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"Write","input":{"file_path":"'"$FILE"'","content":"'"$PROMPT"'"}}]}}'
printf '%s\n' "$PROMPT" > "$FILE"
echo '{"type":"user","session_id":"'"$SID"'","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu1","content":"ok"}]}}'
echo '{"type":"assistant","session_id":"'"$SID"'","message":{"role":"assistant","content":[{"type":"text","text":"done: '"$PROMPT"'"}],"usage":{"input_tokens":10,"output_tokens":5}}}'
echo '{"type":"result","subtype":"success","is_error":false,"session_id":"'"$SID"'","num_turns":1,"total_cost_usd":0.01,"usage":{"input_tokens":10,"output_tokens":5}}'
`

// WriteAgent writes an executable agent script named claude into dir and
// returns its path.
func WriteAgent(dir, body string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create agent dir: %w", err)
	}
	path := filepath.Join(dir, "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		return "", fmt.Errorf("failed to write agent: %w", err)
	}
	return path, nil
}
