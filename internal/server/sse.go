package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opencode-ai/claudia/internal/event"
	"github.com/opencode-ai/claudia/internal/logging"
)

// StreamEvent is the JSON body of one SSE message.
type StreamEvent struct {
	Type       string `json:"type"`
	Seq        uint64 `json:"seq,omitempty"`
	Properties any    `json:"properties"`
}

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second

	sseBuffer = 64
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}

	// ResponseController reaches through middleware wrappers; fall back to
	// the plain flusher when it cannot.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events handles GET /event. With ?sessionID only that session's events are
// sent; with ?transport=false the raw agent channels are left out.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionID")
	transport := r.URL.Query().Get("transport") != "false"

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	events := make(chan event.Event, sseBuffer)
	unsub, err := s.bus.SubscribeAll(func(e event.Event) {
		if !transport && isTransportChannel(e.Channel) {
			return
		}
		if sessionID != "" && !eventBelongsToSession(e, sessionID) {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("channel", e.Channel).
				Str("sessionID", sessionID).
				Msg("SSE event dropped: channel full")
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, err.Error())
		return
	}
	defer unsub()

	// Explicitly write status and flush headers immediately
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", StreamEvent{Type: "server.connected", Properties: map[string]any{}}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent("message", toStreamEvent(e)); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// toStreamEvent converts a bus event. Agent output lines are JSON already and
// are embedded as is.
func toStreamEvent(e event.Event) StreamEvent {
	props := e.Payload
	if line, ok := e.Payload.(string); ok && json.Valid([]byte(line)) {
		props = json.RawMessage(line)
	}
	return StreamEvent{Type: e.Channel, Seq: e.Seq, Properties: props}
}

func isTransportChannel(channel string) bool {
	for _, base := range []string{event.ChannelOutput, event.ChannelError, event.ChannelComplete} {
		if channel == base || strings.HasPrefix(channel, base+":") {
			return true
		}
	}
	return false
}

// eventBelongsToSession checks if an event belongs to a session.
func eventBelongsToSession(e event.Event, sessionID string) bool {
	switch data := e.Payload.(type) {
	case event.SessionMessageData:
		return data.SessionID == sessionID
	case event.SessionStatusData:
		return data.Status.SessionID == sessionID
	case event.SessionForkedData:
		if data.Session == nil {
			return false
		}
		return data.Session.ID == sessionID || (data.Session.ParentID != nil && *data.Session.ParentID == sessionID)
	case event.CheckpointCreatedData:
		return data.Checkpoint != nil && data.Checkpoint.SessionID == sessionID
	case event.CheckpointFailedData:
		return data.SessionID == sessionID
	case event.ProcessStartedData:
		return data.SessionID == sessionID
	case event.ProcessExitedData:
		return data.SessionID == sessionID
	}
	return strings.HasSuffix(e.Channel, ":"+sessionID)
}
