// Package testutil runs a claudia server against a scripted agent binary for
// end-to-end tests.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/opencode-ai/claudia/internal/checkpoint"
	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/history"
	"github.com/opencode-ai/claudia/internal/launcher"
	"github.com/opencode-ai/claudia/internal/process"
	"github.com/opencode-ai/claudia/internal/server"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

// TestServer wraps a server instance for testing
type TestServer struct {
	Server    *server.Server
	BaseURL   string
	Config    *types.Config
	Bus       *event.Bus
	Processes *process.Registry
	TempDir   string
	WorkDir   string
	// ProjectsDir stands in for the agent's ~/.claude/projects.
	ProjectsDir string

	http *httptest.Server
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	workDir  string
	script   string
	strategy types.CheckpointStrategy
}

// WithWorkDir sets the working directory
func WithWorkDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.workDir = dir
	}
}

// WithScript replaces the default scripted agent.
func WithScript(body string) TestServerOption {
	return func(c *testServerConfig) {
		c.script = body
	}
}

// WithStrategy sets the default checkpoint strategy.
func WithStrategy(s types.CheckpointStrategy) TestServerOption {
	return func(c *testServerConfig) {
		c.strategy = s
	}
}

// StartTestServer creates and starts a test server
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{script: AgentScript, strategy: types.StrategySmart}
	for _, opt := range opts {
		opt(cfg)
	}

	// Create temp directory for test data
	tempDir, err := os.MkdirTemp("", "claudia-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	workDir := cfg.workDir
	if workDir == "" {
		workDir = filepath.Join(tempDir, "project")
		if err := os.MkdirAll(workDir, 0755); err != nil {
			os.RemoveAll(tempDir)
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
	}

	binary, err := WriteAgent(filepath.Join(tempDir, "bin"), cfg.script)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	auto := true
	appConfig := &types.Config{
		ClaudePath: binary,
		Cancel:     &types.CancelConfig{KillGraceMs: 500},
		Checkpoint: &types.CheckpointConfig{AutoEnabled: &auto, Strategy: string(cfg.strategy)},
	}

	bus := event.NewBus()
	processes := process.NewRegistry(0)
	l, err := launcher.FromConfig(appConfig, bus, processes)
	if err != nil {
		bus.Close()
		os.RemoveAll(tempDir)
		return nil, err
	}

	// Initialize storage
	store := storage.New(filepath.Join(tempDir, "storage"))
	projectsDir := filepath.Join(tempDir, "projects")
	records := session.NewRecords(store)
	checkpoints := checkpoint.NewService(store, checkpoint.Options{
		Defaults:    appConfig.DefaultCheckpointPolicy(),
		Transcripts: storage.New(projectsDir),
		Bus:         bus,
	})
	loader := history.NewLoader(projectsDir)

	sessions := session.NewManager(session.Options{
		Launcher:     l,
		Transport:    bus,
		Checkpoints:  checkpoints,
		Records:      records,
		Notify:       bus,
		DefaultModel: appConfig.DefaultModelOrFallback(),
	}, loader)

	// Configure server
	serverConfig := server.DefaultConfig()
	serverConfig.Directory = workDir

	srv := server.New(serverConfig, server.Deps{
		AppConfig:   appConfig,
		Bus:         bus,
		Sessions:    sessions,
		Records:     records,
		Checkpoints: checkpoints,
		History:     loader,
		Processes:   processes,
	})
	ts := httptest.NewServer(srv.Router())

	// Wait for server to be ready
	if err := waitForServer(ts.URL, 10*time.Second); err != nil {
		ts.Close()
		bus.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:      srv,
		BaseURL:     ts.URL,
		Config:      appConfig,
		Bus:         bus,
		Processes:   processes,
		TempDir:     tempDir,
		WorkDir:     workDir,
		ProjectsDir: projectsDir,
		http:        ts,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := ts.Server.Shutdown(ctx)
	ts.http.CloseClientConnections()
	ts.http.Close()
	ts.Bus.Close()

	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}
	return err
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/config")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
