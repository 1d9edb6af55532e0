package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/claudia/internal/checkpoint"
	"github.com/opencode-ai/claudia/internal/launcher"
	"github.com/opencode-ai/claudia/internal/model"
	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/internal/storage"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	writeJSON(w, http.StatusOK, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "hello", result["message"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, ErrCodeInvalidRequest, result.Error.Code)
	assert.Equal(t, "Invalid input", result.Error.Message)
	assert.Nil(t, result.Error.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	details := map[string]any{
		"field":  "prompt",
		"reason": "empty",
	}

	writeErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeInvalidRequest, "Validation failed", details)

	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "prompt", result.Error.Details["field"])
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	writeSuccess(w)

	assert.Equal(t, http.StatusOK, w.Code)
	var result map[string]bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.True(t, result["success"])
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrEmptyPrompt, http.StatusBadRequest, ErrCodeInvalidRequest},
		{fmt.Errorf("resolve: %w", model.ErrUnknownModel), http.StatusBadRequest, ErrCodeInvalidRequest},
		{checkpoint.ErrInvalidStrategy, http.StatusBadRequest, ErrCodeInvalidRequest},
		{fmt.Errorf("record x: %w", storage.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{session.ErrNotOpen, http.StatusNotFound, ErrCodeNotFound},
		{session.ErrBusy, http.StatusConflict, ErrCodeBusy},
		{session.ErrNoSession, http.StatusConflict, ErrCodeBusy},
		{session.ErrQueueFull, http.StatusTooManyRequests, ErrCodeQueueFull},
		{session.ErrClosed, http.StatusGone, ErrCodeClosed},
		{launcher.ErrBinaryNotFound, http.StatusServiceUnavailable, ErrCodeAgentMissing},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var result ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
			assert.Equal(t, tt.code, result.Error.Code)
			assert.Equal(t, tt.err.Error(), result.Error.Message)
		})
	}
}
