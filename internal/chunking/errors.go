package chunking

import "errors"

// extractionFailedError reports that a document produced no usable text.
type extractionFailedError struct{ reason string }

func (e extractionFailedError) Error() string { return "extraction failed: " + e.reason }

// ErrExtractionFailed constructs an extraction error.
func ErrExtractionFailed(reason string) error { return extractionFailedError{reason: reason} }

// IsExtractionFailed reports whether err is an extraction error.
func IsExtractionFailed(err error) bool {
	var e extractionFailedError
	return errors.As(err, &e)
}

// chunkingFailedError is reserved for malformed input. Blank input is not an
// error; it yields no chunks.
type chunkingFailedError struct{ reason string }

func (e chunkingFailedError) Error() string { return "chunking failed: " + e.reason }

// ErrChunkingFailed constructs a chunking error.
func ErrChunkingFailed(reason string) error { return chunkingFailedError{reason: reason} }

// IsChunkingFailed reports whether err is a chunking error.
func IsChunkingFailed(err error) bool {
	var e chunkingFailedError
	return errors.As(err, &e)
}
