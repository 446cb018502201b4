package engine

import (
	"errors"
	"fmt"
)

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for an unknown model id.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether err indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

type loadFailedError struct {
	id     string
	reason string
}

func (e loadFailedError) Error() string { return fmt.Sprintf("load %s failed: %s", e.id, e.reason) }

// ErrLoadFailed returns an error for a failed model load.
func ErrLoadFailed(id, reason string) error { return loadFailedError{id: id, reason: reason} }

// IsLoadFailed reports whether err indicates a failed load.
func IsLoadFailed(err error) bool {
	var e loadFailedError
	return errors.As(err, &e)
}

type generationFailedError struct{ reason string }

func (e generationFailedError) Error() string { return "generation failed: " + e.reason }

// ErrGenerationFailed returns an error for a failed or impossible generation.
func ErrGenerationFailed(reason string) error { return generationFailedError{reason: reason} }

// IsGenerationFailed reports whether err is a generation failure.
func IsGenerationFailed(err error) bool {
	var e generationFailedError
	return errors.As(err, &e)
}

type embeddingFailedError struct{ reason string }

func (e embeddingFailedError) Error() string { return "embedding failed: " + e.reason }

// ErrEmbeddingFailed returns an error for a failed or impossible embedding.
func ErrEmbeddingFailed(reason string) error { return embeddingFailedError{reason: reason} }

// IsEmbeddingFailed reports whether err is an embedding failure.
func IsEmbeddingFailed(err error) bool {
	var e embeddingFailedError
	return errors.As(err, &e)
}

type insufficientMemoryError struct {
	id         string
	requiredMB int64
}

func (e insufficientMemoryError) Error() string {
	return fmt.Sprintf("insufficient memory to load %s (%d MB required)", e.id, e.requiredMB)
}

// ErrInsufficientMemory returns an error when the memory gate refuses a load.
func ErrInsufficientMemory(id string, requiredMB int64) error {
	return insufficientMemoryError{id: id, requiredMB: requiredMB}
}

// IsInsufficientMemory reports whether err came from the memory gate.
func IsInsufficientMemory(err error) bool {
	var e insufficientMemoryError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing runtime (e.g. llama.cpp not built in).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}
