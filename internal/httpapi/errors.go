package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"studycore/internal/chunking"
	"studycore/internal/download"
	"studycore/internal/engine"
	"studycore/internal/tasks"
	"studycore/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string   { return e.msg }
func (e statusError) StatusCode() int { return e.code }

// BadRequest reports invalid input.
func BadRequest(msg string) error { return statusError{code: http.StatusBadRequest, msg: msg} }

// Conflict reports a request that clashes with current state.
func Conflict(msg string) error { return statusError{code: http.StatusConflict, msg: msg} }

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case engine.IsModelNotFound(err), errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound
	case engine.IsInsufficientMemory(err):
		return http.StatusInsufficientStorage
	case engine.IsDependencyUnavailable(err), errors.Is(err, tasks.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case engine.IsGenerationFailed(err), engine.IsEmbeddingFailed(err):
		return http.StatusConflict
	case engine.IsLoadFailed(err):
		return http.StatusUnprocessableEntity
	case download.IsDownloadFailed(err):
		return http.StatusBadGateway
	case chunking.IsExtractionFailed(err), chunking.IsChunkingFailed(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInsufficientStorage {
		IncrementBackpressure("insufficient_memory")
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
