package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps chunks in a map. Reads return records ordered by
// document id, then chunk index.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]ChunkRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]ChunkRecord)}
}

// Put inserts or replaces records by ID.
func (s *MemoryStore) Put(ctx context.Context, recs ...ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.chunks[r.ID] = r
	}
	return nil
}

// DeleteDocument removes every chunk of a document.
func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.chunks {
		if r.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) EmbeddedChunks(ctx context.Context, scopeIDs []string) ([]ChunkRecord, error) {
	scope := make(map[string]struct{}, len(scopeIDs))
	for _, id := range scopeIDs {
		scope[id] = struct{}{}
	}
	s.mu.RLock()
	out := make([]ChunkRecord, 0, len(s.chunks))
	for _, r := range s.chunks {
		if len(r.Embedding) == 0 {
			continue
		}
		if len(scope) > 0 {
			if _, ok := scope[r.DocumentID]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) ChunksByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChunkRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.chunks[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func sortRecords(recs []ChunkRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].DocumentID != recs[j].DocumentID {
			return recs[i].DocumentID < recs[j].DocumentID
		}
		if recs[i].ChunkIndex != recs[j].ChunkIndex {
			return recs[i].ChunkIndex < recs[j].ChunkIndex
		}
		return recs[i].ID < recs[j].ID
	})
}
