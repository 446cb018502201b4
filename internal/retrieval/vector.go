package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"studycore/internal/store"
)

const defaultTopK = 5

// SearchResult pairs a stored chunk with a similarity or hybrid score.
type SearchResult struct {
	Chunk store.ChunkRecord `json:"chunk"`
	Score float64           `json:"score"`
}

// WithScore returns a copy carrying score.
func (r SearchResult) WithScore(score float64) SearchResult {
	r.Score = score
	return r
}

// Cosine returns the cosine similarity of a and b. Zero-norm inputs and
// length mismatches score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// VectorSearchEngine ranks embedded chunks by cosine similarity.
type VectorSearchEngine struct {
	store store.ChunkStore
	log   zerolog.Logger
}

func NewVectorSearchEngine(s store.ChunkStore, logger *zerolog.Logger) *VectorSearchEngine {
	v := &VectorSearchEngine{store: s, log: zerolog.Nop()}
	if logger != nil {
		v.log = logger.With().Str("component", "vector_search").Logger()
	}
	return v
}

// Search returns up to topK chunks scoring at least threshold, best first.
// Chunks whose embedding cannot be decoded or has a different dimension are
// skipped.
func (v *VectorSearchEngine) Search(ctx context.Context, query []float32, scopeIDs []string, topK int, threshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	recs, err := v.store.EmbeddedChunks(ctx, scopeIDs)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(recs))
	skipped := 0
	for _, r := range recs {
		vec, err := store.DecodeEmbedding(r.Embedding)
		if err != nil || len(vec) != len(query) {
			skipped++
			continue
		}
		score := Cosine(query, vec)
		if score < threshold {
			continue
		}
		out = append(out, SearchResult{Chunk: r, Score: score})
	}
	if skipped > 0 {
		v.log.Debug().Int("skipped", skipped).Int("dim", len(query)).Msg("skipped chunks with incompatible embeddings")
	}
	sortResults(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// sortResults orders by score descending, then chunk id, so equal scores
// always come back in the same order.
func sortResults(rs []SearchResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].Chunk.ID < rs[j].Chunk.ID
	})
}
