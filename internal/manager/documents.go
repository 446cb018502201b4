package manager

import (
	"context"
	"fmt"
	"strings"

	"studycore/internal/chunking"
	"studycore/internal/httpapi"
	"studycore/internal/store"
	"studycore/internal/tasks"
	"studycore/pkg/types"
)

// embedBatchSize bounds how many chunks go to the embedder per call.
const embedBatchSize = 16

// Chunk splits text or pages without storing anything.
func (m *Manager) Chunk(req types.ChunkRequest) (types.ChunkResponse, error) {
	var chunks []chunking.TextChunk
	if len(req.Pages) > 0 {
		chunks = m.chunker.ChunkPages(toPages(req.Pages))
	} else {
		chunks = m.chunker.Chunk(req.Text)
	}
	out := make([]types.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = chunkView(c, m.chunker.CountTokens(c.Content))
	}
	return types.ChunkResponse{Chunks: out}, nil
}

// Ingest queues chunking, embedding and storage of a document. Existing
// chunks of the document are replaced once embedding succeeds.
func (m *Manager) Ingest(req types.IngestRequest) (string, error) {
	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		return "", httpapi.BadRequest("document_id is required")
	}
	title := req.Title
	if title == "" {
		title = docID
	}
	pages := toPages(req.Pages)
	return m.queue.Enqueue(tasks.Request{
		Type:     "ingest",
		Title:    "Process " + title,
		Priority: tasks.PriorityNormal,
		Work: func(ctx context.Context, progress func(float64)) error {
			return m.ingest(ctx, docID, pages, progress)
		},
	})
}

func (m *Manager) ingest(ctx context.Context, docID string, pages []chunking.ExtractedPage, progress func(float64)) error {
	chunks := m.chunker.ChunkPages(pages)
	if len(chunks) == 0 {
		return chunking.ErrExtractionFailed("no text in document " + docID)
	}
	progress(0.1)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embedBatchSize {
		end := min(i+embedBatchSize, len(texts))
		vs, err := m.eng.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return err
		}
		if len(vs) != end-i {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vs), end-i)
		}
		vecs = append(vecs, vs...)
		progress(0.1 + 0.8*float64(end)/float64(len(texts)))
	}

	recs := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		recs[i] = store.ChunkRecord{
			ID:         fmt.Sprintf("%s#%d", docID, c.Index),
			DocumentID: docID,
			Content:    c.Content,
			PageNumber: c.PageNumber,
			ChunkIndex: c.Index,
			Embedding:  store.EncodeEmbedding(vecs[i]),
		}
	}
	if err := m.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if err := m.store.Put(ctx, recs...); err != nil {
		return err
	}
	m.log.Info().Str("document", docID).Int("chunks", len(recs)).Msg("document ingested")
	return nil
}

// DeleteDocument removes every stored chunk of a document.
func (m *Manager) DeleteDocument(ctx context.Context, id string) error {
	return m.store.DeleteDocument(ctx, id)
}
