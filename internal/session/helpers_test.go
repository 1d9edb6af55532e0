package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/pkg/types"
)

const projectPath = "/work/demo"

// Stream lines as the claude CLI prints them.
func initLine(id string) string {
	return fmt.Sprintf(`{"type":"system","subtype":"init","session_id":%q,"model":"claude-sonnet-4","cwd":"/work/demo"}`, id)
}

func assistantLine(id, text string) string {
	return fmt.Sprintf(`{"type":"assistant","session_id":%q,"message":{"role":"assistant","content":[{"type":"text","text":%q}],"usage":{"input_tokens":10,"output_tokens":5}}}`, id, text)
}

func toolUseLine(id, useID, tool, input string) string {
	return fmt.Sprintf(`{"type":"assistant","session_id":%q,"message":{"role":"assistant","content":[{"type":"tool_use","id":%q,"name":%q,"input":%s}]}}`, id, useID, tool, input)
}

func toolResultLine(id, useID string) string {
	return fmt.Sprintf(`{"type":"user","session_id":%q,"message":{"role":"user","content":[{"type":"tool_result","tool_use_id":%q,"content":"ok"}]}}`, id, useID)
}

func resultLine(id string) string {
	return fmt.Sprintf(`{"type":"result","subtype":"success","session_id":%q,"result":"done","usage":{"input_tokens":20,"output_tokens":8}}`, id)
}

type launchCall struct {
	Mode      string
	SessionID string
	Prompt    string
	Model     string
}

// fakeLauncher records launches and answers cancels as configured.
type fakeLauncher struct {
	mu       sync.Mutex
	calls    []launchCall
	cancels  []string
	startErr error

	killed      bool
	cancelErr   error
	cancelPanic bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{killed: true}
}

func (f *fakeLauncher) record(call launchCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.startErr
}

func (f *fakeLauncher) Start(ctx context.Context, dir, prompt, model string) error {
	return f.record(launchCall{Mode: "start", Prompt: prompt, Model: model})
}

func (f *fakeLauncher) Resume(ctx context.Context, dir, sessionID, prompt, model string) error {
	return f.record(launchCall{Mode: "resume", SessionID: sessionID, Prompt: prompt, Model: model})
}

func (f *fakeLauncher) Continue(ctx context.Context, dir, prompt, model string) error {
	return f.record(launchCall{Mode: "continue", Prompt: prompt, Model: model})
}

func (f *fakeLauncher) Cancel(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, sessionID)
	if f.cancelPanic {
		panic("boom")
	}
	return f.killed, f.cancelErr
}

func (f *fakeLauncher) Calls() []launchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]launchCall(nil), f.calls...)
}

func (f *fakeLauncher) Cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

// fakeCheckpoints records checkpoint requests.
type fakeCheckpoints struct {
	mu        sync.Mutex
	policy    types.CheckpointPolicy
	requests  []types.CheckpointRequest
	forks     []types.ForkRequest
	createErr error
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{policy: types.CheckpointPolicy{AutoEnabled: true, Strategy: types.StrategyPerPrompt}}
}

func (f *fakeCheckpoints) GetPolicy(ctx context.Context, sessionID, projectID, projectPath string) (types.CheckpointPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policy, nil
}

func (f *fakeCheckpoints) CreateIfDue(ctx context.Context, req types.CheckpointRequest) (*types.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &types.Checkpoint{ID: fmt.Sprintf("cp-%d", len(f.requests)), SessionID: req.SessionID}, nil
}

func (f *fakeCheckpoints) Fork(ctx context.Context, req types.ForkRequest) (*types.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forks = append(f.forks, req)
	parent := req.SourceSessionID
	return &types.SessionRecord{ID: req.NewSessionID, Name: req.NewName, ParentID: &parent}, nil
}

func (f *fakeCheckpoints) Requests() []types.CheckpointRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.CheckpointRequest(nil), f.requests...)
}

// fakeRecords collects saved session records.
type fakeRecords struct {
	mu    sync.Mutex
	saved []types.SessionRecord
}

func (f *fakeRecords) Save(ctx context.Context, record *types.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *record)
	return nil
}

func (f *fakeRecords) Saved() []types.SessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.SessionRecord(nil), f.saved...)
}

// agent plays the launcher's side of the bus.
type agent struct {
	bus *event.Bus
}

// stdout publishes a line before the session id is known.
func (a agent) stdout(line string) {
	a.bus.Emit(line, event.ChannelOutput)
}

// init publishes the init line on the generic and scoped channels at once.
func (a agent) init(id string) {
	a.bus.Emit(initLine(id), event.ChannelOutput, event.Scoped(event.ChannelOutput, id))
}

func (a agent) say(id, line string) {
	a.bus.Emit(line, event.Scoped(event.ChannelOutput, id))
}

func (a agent) stderr(id, line string) {
	_, errs, _ := event.OutputChannels(id)
	a.bus.Emit(line, errs)
}

func (a agent) complete(id string, success bool) {
	_, _, done := event.OutputChannels(id)
	a.bus.Emit(success, done)
}

// turn plays a whole successful turn for session id.
func (a agent) turn(id, reply string) {
	a.init(id)
	a.say(id, assistantLine(id, reply))
	a.say(id, resultLine(id))
	a.complete(id, true)
}

// failingTransport refuses subscriptions to scoped channels.
type failingTransport struct {
	bus *event.Bus
}

func (t failingTransport) Subscribe(channel string, fn event.Handler) (func(), error) {
	if strings.Contains(channel, ":") {
		return nil, errors.New("transport unavailable")
	}
	return t.bus.Subscribe(channel, fn)
}

// testingT is satisfied by *testing.T and GinkgoT().
type testingT interface {
	require.TestingT
	Helper()
	Cleanup(func())
}

type harness struct {
	ctrl        *session.Controller
	launcher    *fakeLauncher
	checkpoints *fakeCheckpoints
	records     *fakeRecords
	bus         *event.Bus
	notify      *event.Bus
	agent       agent
}

func newHarness(t testingT, mutate func(*session.Options)) *harness {
	t.Helper()
	bus := event.NewBus()
	notify := event.NewBus()
	t.Cleanup(func() {
		bus.Close()
		notify.Close()
	})

	h := &harness{
		launcher:    newFakeLauncher(),
		checkpoints: newFakeCheckpoints(),
		records:     &fakeRecords{},
		bus:         bus,
		notify:      notify,
		agent:       agent{bus: bus},
	}
	opts := session.Options{
		ProjectPath: projectPath,
		Launcher:    h.launcher,
		Transport:   bus,
		Checkpoints: h.checkpoints,
		Records:     h.records,
		Notify:      notify,
	}
	if mutate != nil {
		mutate(&opts)
	}

	ctrl, err := session.NewController(opts)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	h.ctrl = ctrl
	return h
}

func kinds(msgs []*types.StreamMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		k := string(m.Kind)
		if m.Subtype != "" {
			k += "/" + m.Subtype
		}
		out = append(out, k)
	}
	return out
}
