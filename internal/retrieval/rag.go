package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studycore/internal/chunking"
	"studycore/internal/engine"
	"studycore/internal/store"
)

const (
	DefaultVectorWeight     = 0.7
	DefaultBM25Weight       = 0.3
	DefaultMaxContextTokens = 1500
)

// Embedder produces query embeddings; *engine.Orchestrator satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator streams completions; *engine.Orchestrator satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, params engine.GenerateParams, onToken func(string) error) (engine.GenerateResult, error)
}

// RagContext is the outcome of a retrieval: the results that made it into
// the context and the context text itself.
type RagContext struct {
	Results     []SearchResult `json:"results"`
	ContextText string         `json:"context_text"`
}

// Empty reports whether nothing was retrieved.
func (c RagContext) Empty() bool { return len(c.Results) == 0 }

// Config configures a RagEngine. Zero weights select 0.7/0.3.
type Config struct {
	Store     store.ChunkStore
	Embedder  Embedder
	Generator Generator
	// Counter measures context blocks; defaults to the heuristic counter.
	Counter chunking.TokenCounter

	VectorWeight float64
	BM25Weight   float64
	// NormalizeBM25 divides BM25 scores by the candidate maximum before
	// mixing, putting both signals on a [0,1] scale.
	NormalizeBM25    bool
	MaxContextTokens int

	// EmbeddingCacheSize > 0 enables the query-embedding LRU.
	EmbeddingCacheSize int
	// EmbeddingModelID names the active embedding model; it keys the cache.
	EmbeddingModelID func() string

	SystemPrompt string
	Logger       *zerolog.Logger
}

// RagEngine answers questions from stored study material.
type RagEngine struct {
	vector    *VectorSearchEngine
	lexical   LexicalScorer
	embedder  Embedder
	generator Generator
	counter   chunking.TokenCounter
	cache     *embeddingCache
	modelID   func() string

	vectorWeight float64
	bm25Weight   float64
	normalize    bool
	maxTokens    int
	system       string
	log          zerolog.Logger
}

func NewRagEngine(cfg Config) *RagEngine {
	r := &RagEngine{
		vector:       NewVectorSearchEngine(cfg.Store, cfg.Logger),
		lexical:      NewLexicalScorer(),
		embedder:     cfg.Embedder,
		generator:    cfg.Generator,
		counter:      cfg.Counter,
		cache:        newEmbeddingCache(cfg.EmbeddingCacheSize),
		modelID:      cfg.EmbeddingModelID,
		vectorWeight: cfg.VectorWeight,
		bm25Weight:   cfg.BM25Weight,
		normalize:    cfg.NormalizeBM25,
		maxTokens:    cfg.MaxContextTokens,
		system:       cfg.SystemPrompt,
		log:          zerolog.Nop(),
	}
	if r.vectorWeight == 0 && r.bm25Weight == 0 {
		r.vectorWeight, r.bm25Weight = DefaultVectorWeight, DefaultBM25Weight
	}
	if r.maxTokens <= 0 {
		r.maxTokens = DefaultMaxContextTokens
	}
	if r.counter == nil {
		r.counter = chunking.HeuristicCounter
	}
	if r.modelID == nil {
		r.modelID = func() string { return "" }
	}
	if cfg.Logger != nil {
		r.log = cfg.Logger.With().Str("component", "rag").Logger()
	}
	return r
}

// Retrieve finds up to topK chunks for query. It never fails: embedding or
// store errors and empty candidate sets produce an empty RagContext.
func (r *RagEngine) Retrieve(ctx context.Context, query string, scopeIDs []string, topK int, threshold float64) RagContext {
	start := time.Now()
	defer func() { retrievalDuration.Observe(time.Since(start).Seconds()) }()
	if topK <= 0 {
		topK = defaultTopK
	}

	qvec, err := r.embedQuery(ctx, query)
	if err != nil {
		retrievalsTotal.WithLabelValues("embed_error").Inc()
		r.log.Warn().Err(err).Msg("query embedding failed; returning empty context")
		return RagContext{}
	}

	cands, err := r.vector.Search(ctx, qvec, scopeIDs, 2*topK, threshold)
	if err != nil {
		retrievalsTotal.WithLabelValues("store_error").Inc()
		r.log.Warn().Err(err).Msg("vector search failed; returning empty context")
		return RagContext{}
	}
	if len(cands) == 0 {
		retrievalsTotal.WithLabelValues("empty").Inc()
		return RagContext{}
	}

	ranked := r.rerank(query, cands)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	rc := r.assemble(ranked)
	retrievalsTotal.WithLabelValues("ok").Inc()
	r.log.Debug().Int("candidates", len(cands)).Int("selected", len(rc.Results)).Dur("dur", time.Since(start)).Msg("retrieved")
	return rc
}

func (r *RagEngine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.embedder == nil {
		return nil, engine.ErrEmbeddingFailed("no embedder configured")
	}
	model := r.modelID()
	if v, ok := r.cache.get(model, query); ok {
		embeddingCacheHits.Inc()
		return v, nil
	}
	v, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if model != "" {
		r.cache.add(model, query, v)
	}
	return v, nil
}

// rerank mixes vector and BM25 scores over the vector candidates only.
func (r *RagEngine) rerank(query string, cands []SearchResult) []SearchResult {
	docs := make([]string, len(cands))
	for i, c := range cands {
		docs[i] = c.Chunk.Content
	}
	lex := r.lexical.Score(query, docs)
	if r.normalize {
		max := 0.0
		for _, s := range lex {
			if s > max {
				max = s
			}
		}
		if max > 0 {
			for i := range lex {
				lex[i] /= max
			}
		}
	}
	out := make([]SearchResult, len(cands))
	for i, c := range cands {
		out[i] = c.WithScore(r.vectorWeight*c.Score + r.bm25Weight*lex[i])
	}
	sortResults(out)
	return out
}

// assemble appends source blocks in rank order and stops at the first block
// that would exceed the token budget.
func (r *RagEngine) assemble(ranked []SearchResult) RagContext {
	var (
		b    strings.Builder
		used int
		sel  []SearchResult
	)
	for i, res := range ranked {
		block := fmt.Sprintf("[Source %d]\n%s\n\n", i+1, res.Chunk.Content)
		n := r.counter.CountTokens(block)
		if used+n > r.maxTokens {
			break
		}
		used += n
		b.WriteString(block)
		sel = append(sel, res)
	}
	return RagContext{Results: sel, ContextText: strings.TrimSpace(b.String())}
}

// GenerateStream builds the prompt for query and streams the answer to
// onToken. It does not retry or alter the stream.
func (r *RagEngine) GenerateStream(ctx context.Context, query string, rc RagContext, history []Turn, maxTokens int, temperature float32, onToken func(string) error) (engine.GenerateResult, error) {
	if r.generator == nil {
		return engine.GenerateResult{}, engine.ErrGenerationFailed("no generator configured")
	}
	prompt := BuildPrompt(r.system, rc.ContextText, history, query)
	return r.generator.Generate(ctx, prompt, engine.GenerateParams{
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stop:        []string{stopSequence},
	}, onToken)
}

// AnswerRequest bundles the inputs of Answer.
type AnswerRequest struct {
	Query       string
	ScopeIDs    []string
	History     []Turn
	TopK        int
	Threshold   float64
	MaxTokens   int
	Temperature float32
}

// Answer retrieves context for the query and streams a grounded answer.
func (r *RagEngine) Answer(ctx context.Context, req AnswerRequest, onToken func(string) error) (RagContext, engine.GenerateResult, error) {
	rc := r.Retrieve(ctx, req.Query, req.ScopeIDs, req.TopK, req.Threshold)
	res, err := r.GenerateStream(ctx, req.Query, rc, req.History, req.MaxTokens, req.Temperature, onToken)
	return rc, res, err
}
