package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/claudia/internal/checkpoint"
	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/history"
	"github.com/opencode-ai/claudia/internal/process"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

const demoPath = "/work/demo"

// stubLauncher records launches without starting anything.
type stubLauncher struct {
	mu    sync.Mutex
	modes []string
}

func (l *stubLauncher) add(mode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modes = append(l.modes, mode)
	return nil
}

func (l *stubLauncher) Start(ctx context.Context, dir, prompt, model string) error {
	return l.add("start")
}

func (l *stubLauncher) Resume(ctx context.Context, dir, sessionID, prompt, model string) error {
	return l.add("resume:" + sessionID)
}

func (l *stubLauncher) Cancel(ctx context.Context, sessionID string) (bool, error) {
	return true, l.add("cancel:" + sessionID)
}

func (l *stubLauncher) Modes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.modes...)
}

type testEnv struct {
	srv      *Server
	bus      *event.Bus
	launcher *stubLauncher
	records  *session.Records
	history  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	store := storage.New(t.TempDir())
	historyRoot := t.TempDir()
	loader := history.NewLoader(historyRoot)
	records := session.NewRecords(store)
	checkpoints := checkpoint.NewService(store, checkpoint.Options{
		Defaults: types.CheckpointPolicy{AutoEnabled: true, Strategy: types.StrategyPerPrompt},
		Bus:      bus,
	})
	launcher := &stubLauncher{}

	manager := session.NewManager(session.Options{
		Launcher:    launcher,
		Transport:   bus,
		Checkpoints: checkpoints,
		Records:     records,
		Notify:      bus,
	}, loader)
	t.Cleanup(manager.CloseAll)

	srv := New(&Config{Directory: demoPath}, Deps{
		AppConfig:   &types.Config{},
		Bus:         bus,
		Sessions:    manager,
		Records:     records,
		Checkpoints: checkpoints,
		History:     loader,
		Processes:   process.NewRegistry(0),
	})

	return &testEnv{srv: srv, bus: bus, launcher: launcher, records: records, history: historyRoot}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

// playTurn publishes a complete successful turn of session id.
func (e *testEnv) playTurn(id string) {
	e.bus.Emit(fmt.Sprintf(`{"type":"system","subtype":"init","session_id":%q,"model":"claude-sonnet-4"}`, id),
		event.ChannelOutput, event.Scoped(event.ChannelOutput, id))
	e.bus.Emit(fmt.Sprintf(`{"type":"assistant","session_id":%q,"message":{"role":"assistant","content":[{"type":"text","text":"Fixed."}],"usage":{"input_tokens":10,"output_tokens":5}}}`, id),
		event.Scoped(event.ChannelOutput, id))
	e.bus.Emit(fmt.Sprintf(`{"type":"result","subtype":"success","session_id":%q,"result":"done","usage":{"input_tokens":20,"output_tokens":8}}`, id),
		event.Scoped(event.ChannelOutput, id))
	e.bus.Emit(true, event.Scoped(event.ChannelComplete, id))
}

func TestControllerLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/controller", OpenControllerRequest{ProjectPath: demoPath})
	require.Equal(t, http.StatusCreated, w.Code)
	opened := decode[OpenControllerResponse](t, w)
	require.NotEmpty(t, opened.ID)
	base := "/controller/" + opened.ID

	w = env.do(t, http.MethodPost, base+"/prompt", PromptRequest{Prompt: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/prompt", PromptRequest{Prompt: "fix bug"})
	require.Equal(t, http.StatusOK, w.Code)
	started := decode[PromptResponse](t, w)
	assert.Nil(t, started.Queued)
	assert.True(t, started.Status.Busy)
	assert.Equal(t, []string{"start"}, env.launcher.Modes())

	w = env.do(t, http.MethodPost, base+"/prompt", PromptRequest{Prompt: "then add tests"})
	require.Equal(t, http.StatusAccepted, w.Code)
	queued := decode[PromptResponse](t, w)
	require.NotNil(t, queued.Queued)

	w = env.do(t, http.MethodDelete, base+"/queue/"+queued.Queued.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, base+"/queue/"+queued.Queued.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.playTurn("abc")

	w = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[session.Snapshot](t, w)
	assert.Equal(t, "abc", snap.SessionID)
	assert.False(t, snap.Busy)
	assert.Equal(t, 43, snap.Tokens)
	assert.Empty(t, snap.Queue)

	// The discovered session is stored and checkpointed.
	w = env.do(t, http.MethodGet, "/session/abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	record := decode[types.SessionRecord](t, w)
	assert.Equal(t, demoPath, record.ProjectPath)

	w = env.do(t, http.MethodGet, "/session/abc/checkpoint", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.Checkpoint](t, w), 1)

	// Opening the same session again returns the open controller.
	w = env.do(t, http.MethodPost, "/controller", OpenControllerRequest{ProjectPath: demoPath, SessionID: "abc"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, opened.ID, decode[OpenControllerResponse](t, w).ID)

	w = env.do(t, http.MethodGet, "/controller", nil)
	assert.Len(t, decode[[]session.Handle](t, w), 1)

	w = env.do(t, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, base+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpenController_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.srv.config.Directory = ""

	w := env.do(t, http.MethodPost, "/controller", OpenControllerRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/controller", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = env.do(t, http.MethodGet, "/controller/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decode[ErrorResponse](t, w).Error.Code)
}

func TestOpenController_ResumesUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/controller", OpenControllerRequest{ProjectPath: demoPath, SessionID: "external"})
	require.Equal(t, http.StatusCreated, w.Code)
	opened := decode[OpenControllerResponse](t, w)

	w = env.do(t, http.MethodPost, "/controller/"+opened.ID+"/prompt", PromptRequest{Prompt: "keep going"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"resume:external"}, env.launcher.Modes())

	// A running session cannot be deleted or restored.
	w = env.do(t, http.MethodDelete, "/session/external", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, "/session/external/checkpoint/cp/restore", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	parent := "root"
	require.NoError(t, env.records.Save(ctx, &types.SessionRecord{ID: "root", Name: "root", ProjectPath: demoPath}))
	require.NoError(t, env.records.Save(ctx, &types.SessionRecord{ID: "child", Name: "child", ProjectPath: demoPath, ParentID: &parent}))

	w := env.do(t, http.MethodGet, "/session?directory="+demoPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.SessionRecord](t, w), 2)

	w = env.do(t, http.MethodGet, "/session/root/children", nil)
	require.Equal(t, http.StatusOK, w.Code)
	children := decode[[]types.SessionRecord](t, w)
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].ID)

	w = env.do(t, http.MethodPatch, "/session/root", UpdateSessionRequest{Name: "renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "renamed", decode[types.SessionRecord](t, w).Name)

	w = env.do(t, http.MethodPut, "/session/root/policy", types.CheckpointPolicy{AutoEnabled: true, Strategy: "hourly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/session/root/policy", types.CheckpointPolicy{AutoEnabled: false, Strategy: types.StrategyManual})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/session/root/policy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.StrategyManual, decode[types.CheckpointPolicy](t, w).Strategy)

	w = env.do(t, http.MethodGet, "/session/root/checkpoint/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/session/child", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/session/child", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProjectRoutes(t *testing.T) {
	env := newTestEnv(t)

	projectID := types.ProjectID(demoPath)
	dir := filepath.Join(env.history, projectID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	transcript := `{"type":"user","session_id":"old","cwd":"/work/demo","message":{"role":"user","content":"hello"}}
{"type":"assistant","session_id":"old","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.jsonl"), []byte(transcript), 0o644))

	w := env.do(t, http.MethodGet, "/project", nil)
	require.Equal(t, http.StatusOK, w.Code)
	projects := decode[[]history.Project](t, w)
	require.Len(t, projects, 1)
	assert.Equal(t, projectID, projects[0].ID)
	assert.Equal(t, 1, projects[0].Sessions)

	w = env.do(t, http.MethodGet, "/project/"+projectID+"/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[[]history.Session](t, w)
	require.Len(t, sessions, 1)
	assert.Equal(t, "old", sessions[0].ID)

	w = env.do(t, http.MethodGet, "/project/"+projectID+"/session/old", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[TranscriptResponse](t, w).Messages, 2)

	w = env.do(t, http.MethodGet, "/project/unknown/session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Resuming a session with a transcript seeds the ledger.
	w = env.do(t, http.MethodPost, "/controller", OpenControllerRequest{ProjectPath: demoPath, SessionID: "old"})
	require.Equal(t, http.StatusCreated, w.Code)
	opened := decode[OpenControllerResponse](t, w)
	w = env.do(t, http.MethodGet, "/controller/"+opened.ID, nil)
	assert.Len(t, decode[session.Snapshot](t, w).Messages, 2)
}

func TestMiscRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/model", nil)
	require.Equal(t, http.StatusOK, w.Code)
	models := decode[ModelsResponse](t, w)
	assert.Equal(t, "sonnet", models.Default)
	assert.NotEmpty(t, models.Aliases)

	w = env.do(t, http.MethodGet, "/process", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]process.Info](t, w))

	w = env.do(t, http.MethodGet, "/process/run-1/output", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckpointsNotConfigured(t *testing.T) {
	srv := New(&Config{}, Deps{Bus: event.NewBus()})

	req := httptest.NewRequest(http.MethodGet, "/session/abc/checkpoint", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, ErrCodeNotConfigured, result.Error.Code)
}
