package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/claudia/internal/event"
)

// SSEEvent is one decoded message of the /event stream.
type SSEEvent struct {
	Type       string          `json:"type"`
	Seq        uint64          `json:"seq,omitempty"`
	Properties json.RawMessage `json:"properties"`
}

// SSEClient provides SSE client utilities for testing
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	events   []SSEEvent
	eventsCh chan SSEEvent
	errCh    chan error
	cancel   context.CancelFunc
	body     io.ReadCloser
}

// NewSSEClient creates a new SSE test client
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		eventsCh: make(chan SSEEvent, 256),
		errCh:    make(chan error, 1),
	}
}

// Connect starts the SSE connection and waits for the server's greeting, so
// every event published afterwards is received.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	c.body = resp.Body

	// Start reading events in background
	go c.readEvents(resp.Body)

	_, err = c.WaitForEvent("server.connected", 5*time.Second)
	return err
}

// readEvents reads SSE events from the connection
func (c *SSEClient) readEvents(body io.Reader) {
	defer func() {
		close(c.eventsCh)
		close(c.errCh)
	}()

	reader := bufio.NewReader(body)
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && err != context.Canceled {
				c.errCh <- err
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Empty line = event complete
			if data.Len() == 0 {
				continue
			}
			var evt SSEEvent
			if err := json.Unmarshal([]byte(data.String()), &evt); err == nil {
				c.record(evt)
			}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			c.record(SSEEvent{Type: "heartbeat"})
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (c *SSEClient) record(evt SSEEvent) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
	select {
	case c.eventsCh <- evt:
	default:
		// Channel full, drop event
	}
}

// WaitForEvent waits for a specific event type with timeout
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	return c.WaitFor(func(evt SSEEvent) bool { return evt.Type == eventType }, timeout)
}

// WaitFor waits for the first event matching fn.
func (c *SSEClient) WaitFor(fn func(SSEEvent) bool, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			if fn(evt) {
				return &evt, nil
			}
		case err, ok := <-c.errCh:
			if ok && err != nil {
				return nil, err
			}
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event")
		}
	}
}

// WaitForIdle waits for a session.status event reporting an idle session.
func (c *SSEClient) WaitForIdle(timeout time.Duration) (*event.SessionStatusData, error) {
	var status event.SessionStatusData
	_, err := c.WaitFor(func(evt SSEEvent) bool {
		if evt.Type != event.SessionStatus {
			return false
		}
		if err := json.Unmarshal(evt.Properties, &status); err != nil {
			return false
		}
		return !status.Status.Busy
	}, timeout)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// GetAllEvents returns all received events
func (c *SSEClient) GetAllEvents() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]SSEEvent, len(c.events))
	copy(result, c.events)
	return result
}

// CountEventType counts events of a specific type
func (c *SSEClient) CountEventType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, evt := range c.events {
		if evt.Type == eventType {
			count++
		}
	}
	return count
}

// Messages decodes the session.message events received so far.
func (c *SSEClient) Messages() []event.SessionMessageData {
	var out []event.SessionMessageData
	for _, evt := range c.GetAllEvents() {
		if evt.Type != event.SessionMessage {
			continue
		}
		var data event.SessionMessageData
		if err := json.Unmarshal(evt.Properties, &data); err == nil {
			out = append(out, data)
		}
	}
	return out
}

// Close closes the SSE connection
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}
