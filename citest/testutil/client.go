package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencode-ai/claudia/internal/server"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put performs HTTP PUT request with JSON body
func (c *TestClient) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// expect decodes a response with the wanted status into v.
func expect(resp *Response, err error, status int, v any) error {
	if err != nil {
		return err
	}
	if resp.StatusCode != status {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, resp.String())
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}

// OpenController opens a controller on projectPath, resuming sessionID when
// set.
func (c *TestClient) OpenController(ctx context.Context, projectPath, sessionID string) (*server.OpenControllerResponse, error) {
	resp, err := c.Post(ctx, "/controller", server.OpenControllerRequest{ProjectPath: projectPath, SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, resp.String())
	}
	var out server.OpenControllerResponse
	return &out, resp.JSON(&out)
}

// Prompt submits a prompt. The raw response is returned so callers can tell
// a started turn (200) from a queued one (202).
func (c *TestClient) Prompt(ctx context.Context, handle, prompt string) (*Response, error) {
	return c.Post(ctx, "/controller/"+handle+"/prompt", server.PromptRequest{Prompt: prompt})
}

// Cancel cancels the running turn.
func (c *TestClient) Cancel(ctx context.Context, handle string) error {
	resp, err := c.Post(ctx, "/controller/"+handle+"/cancel", nil)
	return expect(resp, err, http.StatusOK, nil)
}

// Status returns a controller's status.
func (c *TestClient) Status(ctx context.Context, handle string) (types.SessionStatus, error) {
	var st types.SessionStatus
	resp, err := c.Get(ctx, "/controller/"+handle+"/status")
	return st, expect(resp, err, http.StatusOK, &st)
}

// Snapshot returns a controller's full state.
func (c *TestClient) Snapshot(ctx context.Context, handle string) (*session.Snapshot, error) {
	var snap session.Snapshot
	resp, err := c.Get(ctx, "/controller/"+handle)
	return &snap, expect(resp, err, http.StatusOK, &snap)
}

// Checkpoints lists the checkpoints of a session.
func (c *TestClient) Checkpoints(ctx context.Context, sessionID string) ([]*types.Checkpoint, error) {
	var cps []*types.Checkpoint
	resp, err := c.Get(ctx, "/session/"+sessionID+"/checkpoint")
	return cps, expect(resp, err, http.StatusOK, &cps)
}

// Restore rewrites project files to a checkpoint.
func (c *TestClient) Restore(ctx context.Context, sessionID, checkpointID string) ([]string, error) {
	var out server.RestoreResponse
	resp, err := c.Post(ctx, "/session/"+sessionID+"/checkpoint/"+checkpointID+"/restore", nil)
	return out.Files, expect(resp, err, http.StatusOK, &out)
}

// Fork branches a new session from a checkpoint.
func (c *TestClient) Fork(ctx context.Context, sessionID, checkpointID, name string) (*types.SessionRecord, error) {
	var rec types.SessionRecord
	resp, err := c.Post(ctx, "/session/"+sessionID+"/checkpoint/"+checkpointID+"/fork", server.ForkRequest{Name: name})
	return &rec, expect(resp, err, http.StatusCreated, &rec)
}

// Session returns a stored session record.
func (c *TestClient) Session(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	var rec types.SessionRecord
	resp, err := c.Get(ctx, "/session/"+sessionID)
	return &rec, expect(resp, err, http.StatusOK, &rec)
}
