// Package store defines the chunk persistence contract consumed by retrieval
// and ships two implementations: an in-memory store and a SQLite store.
package store

import "context"

// ChunkRecord is a persisted chunk. Embedding is a little-endian float32 blob
// (see EncodeEmbedding) and is nil until the chunk has been embedded.
type ChunkRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	PageNumber *int   `json:"page_number,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	Embedding  []byte `json:"-"`
}

// ChunkStore is the read side used by retrieval.
type ChunkStore interface {
	// EmbeddedChunks returns chunks that carry an embedding. An empty
	// scopeIDs means every document.
	EmbeddedChunks(ctx context.Context, scopeIDs []string) ([]ChunkRecord, error)
	// ChunksByIDs returns the chunks with the given ids; unknown ids are skipped.
	ChunksByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error)
}
