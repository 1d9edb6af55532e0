package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-ai/claudia/internal/checkpoint"
	"github.com/opencode-ai/claudia/internal/launcher"
	"github.com/opencode-ai/claudia/internal/model"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/internal/storage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBusy           = "BUSY"
	ErrCodeQueueFull      = "QUEUE_FULL"
	ErrCodeClosed         = "CLOSED"
	ErrCodeAgentMissing   = "AGENT_NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyPrompt),
		errors.Is(err, model.ErrUnknownModel),
		errors.Is(err, checkpoint.ErrInvalidStrategy):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, session.ErrNotOpen):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusConflict, ErrCodeBusy, err.Error())
	case errors.Is(err, session.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, ErrCodeQueueFull, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusGone, ErrCodeClosed, err.Error())
	case errors.Is(err, launcher.ErrBinaryNotFound):
		writeError(w, http.StatusServiceUnavailable, ErrCodeAgentMissing, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return false
	}
	return true
}
