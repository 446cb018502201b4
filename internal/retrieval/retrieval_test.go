package retrieval

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studycore/internal/chunking"
	"studycore/internal/engine"
	"studycore/internal/store"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

type fakeGenerator struct {
	prompt string
	params engine.GenerateParams
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, params engine.GenerateParams, onToken func(string) error) (engine.GenerateResult, error) {
	f.prompt, f.params = prompt, params
	for _, t := range []string{"Light", " drives", " it."} {
		if err := onToken(t); err != nil {
			return engine.GenerateResult{}, err
		}
	}
	return engine.GenerateResult{Content: "Light drives it.", FinishReason: "stop"}, nil
}

func rec(id, doc, content string, emb ...float32) store.ChunkRecord {
	return store.ChunkRecord{ID: id, DocumentID: doc, Content: content, Embedding: store.EncodeEmbedding(emb)}
}

func newStore(t *testing.T, recs ...store.ChunkRecord) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(context.Background(), recs...))
	return s
}

func TestCosineProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	randVec := func() []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}
	for i := 0; i < 200; i++ {
		a, b := randVec(), randVec()
		assert.InDelta(t, Cosine(a, b), Cosine(b, a), 1e-12)
		assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
		c := Cosine(a, b)
		assert.True(t, c >= -1-1e-9 && c <= 1+1e-9)
	}
	zero := make([]float32, 8)
	assert.Equal(t, 0.0, Cosine(zero, randVec()))
	assert.Equal(t, 0.0, Cosine(randVec(), zero))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"the", "krebs", "cycle", "co2", "atp"}, Tokenize("The Krebs-cycle: CO2 & ATP (a) x!"))
	assert.Empty(t, Tokenize("a b c !!"))
}

func TestBM25Scores(t *testing.T) {
	docs := []string{"photosynthesis uses light", "light light energy", "mitochondria"}
	scores := NewLexicalScorer().Score("Light!", docs)
	require.Len(t, scores, 3)

	idf := math.Log((3-2+0.5)/(2+0.5) + 1)
	avgdl := 7.0 / 3.0
	want0 := idf * 1 * 2.5 / (1 + 1.5*(1-0.75+0.75*3/avgdl))
	want1 := idf * 2 * 2.5 / (2 + 1.5*(1-0.75+0.75*3/avgdl))
	assert.InDelta(t, want0, scores[0], 1e-12)
	assert.InDelta(t, want1, scores[1], 1e-12)
	assert.Equal(t, 0.0, scores[2])
	assert.Greater(t, scores[1], scores[0])

	assert.Equal(t, []float64{0, 0}, NewLexicalScorer().Score("a !", []string{"x", "y"}))
	assert.Empty(t, NewLexicalScorer().Score("light", nil))
}

func TestVectorSearch(t *testing.T) {
	s := newStore(t,
		rec("a", "bio", "A", 1, 0),
		rec("b", "bio", "B", 0, 1),
		rec("c", "chem", "C", 1, 1),
		rec("d", "chem", "D", 1, 0, 0), // wrong dimension
	)
	v := NewVectorSearchEngine(s, nil)

	res, err := v.Search(context.Background(), []float32{1, 0}, nil, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].Chunk.ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.Equal(t, "c", res[1].Chunk.ID)
	assert.InDelta(t, math.Sqrt2/2, res[1].Score, 1e-6)

	res, err = v.Search(context.Background(), []float32{1, 0}, []string{"chem"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "c", res[0].Chunk.ID)

	res, err = v.Search(context.Background(), []float32{1, 0}, nil, 1, -1)
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestRetrieveEmptyStore(t *testing.T) {
	r := NewRagEngine(Config{Store: store.NewMemoryStore(), Embedder: &fakeEmbedder{vec: []float32{1, 0}}})
	rc := r.Retrieve(context.Background(), "photosynthesis", nil, 3, 0.2)
	assert.Empty(t, rc.Results)
	assert.Equal(t, "", rc.ContextText)
	assert.True(t, rc.Empty())
}

func TestRetrieveEmbeddingFailureDegrades(t *testing.T) {
	s := newStore(t, rec("a", "bio", "light", 1, 0))
	r := NewRagEngine(Config{Store: s, Embedder: &fakeEmbedder{err: engine.ErrEmbeddingFailed("No embedding model loaded")}})
	rc := r.Retrieve(context.Background(), "light", nil, 3, 0)
	assert.True(t, rc.Empty())
	assert.Equal(t, "", rc.ContextText)

	noEmbedder := NewRagEngine(Config{Store: s})
	assert.True(t, noEmbedder.Retrieve(context.Background(), "light", nil, 3, 0).Empty())
}

type failingStore struct{}

func (failingStore) EmbeddedChunks(context.Context, []string) ([]store.ChunkRecord, error) {
	return nil, errors.New("disk gone")
}

func (failingStore) ChunksByIDs(context.Context, []string) ([]store.ChunkRecord, error) {
	return nil, errors.New("disk gone")
}

func TestRetrieveStoreFailureDegrades(t *testing.T) {
	r := NewRagEngine(Config{Store: failingStore{}, Embedder: &fakeEmbedder{vec: []float32{1}}})
	assert.True(t, r.Retrieve(context.Background(), "q", nil, 3, 0).Empty())
}

func TestRetrieveHybridRanking(t *testing.T) {
	s := newStore(t,
		rec("a", "bio", "The cell wall is rigid.", 1, 0),
		rec("z", "bio", "Light energy powers photosynthesis.", 1, 0),
		rec("m", "bio", "Unrelated and far away.", 0, 1),
	)
	r := NewRagEngine(Config{Store: s, Embedder: &fakeEmbedder{vec: []float32{1, 0}}})
	rc := r.Retrieve(context.Background(), "light", nil, 2, 0.5)
	require.Len(t, rc.Results, 2)
	// Equal cosine; the lexical match wins over id order.
	assert.Equal(t, "z", rc.Results[0].Chunk.ID)
	assert.Equal(t, "a", rc.Results[1].Chunk.ID)
	assert.Greater(t, rc.Results[0].Score, 0.7)
	assert.InDelta(t, 0.7, rc.Results[1].Score, 1e-9)
	assert.True(t, strings.HasPrefix(rc.ContextText, "[Source 1]\nLight energy powers photosynthesis.\n\n[Source 2]\nThe cell wall is rigid."))
}

func TestRetrieveNormalizedBM25(t *testing.T) {
	s := newStore(t,
		rec("a", "bio", "light light light", 1, 0),
		rec("b", "bio", "dark", 1, 0),
	)
	r := NewRagEngine(Config{Store: s, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, NormalizeBM25: true})
	rc := r.Retrieve(context.Background(), "light", nil, 2, 0)
	require.Len(t, rc.Results, 2)
	assert.InDelta(t, 1.0, rc.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.7, rc.Results[1].Score, 1e-9)
}

func TestRetrieveDeterministicTies(t *testing.T) {
	var recs []store.ChunkRecord
	for _, id := range []string{"q", "c", "x", "a", "m", "f"} {
		recs = append(recs, rec(id, "doc", "same words here", 0.6, 0.8))
	}
	r := NewRagEngine(Config{Store: newStore(t, recs...), Embedder: &fakeEmbedder{vec: []float32{0.6, 0.8}}})
	first := r.Retrieve(context.Background(), "words", nil, 4, 0)
	require.Len(t, first.Results, 4)
	got := make([]string, 0, 4)
	for _, res := range first.Results {
		got = append(got, res.Chunk.ID)
	}
	assert.Equal(t, []string{"a", "c", "f", "m"}, got)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Retrieve(context.Background(), "words", nil, 4, 0))
	}
}

func TestRetrieveStrictPrefixCutoff(t *testing.T) {
	s := newStore(t,
		rec("c1", "d", "aaaa", 1, 0),
		rec("c2", "d", strings.Repeat("b", 500), 1, 0.2),
		rec("c3", "d", "cc", 1, 0.5),
	)
	runes := chunking.TokenCounterFunc(func(s string) int { return len([]rune(s)) })
	r := NewRagEngine(Config{Store: s, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Counter: runes, MaxContextTokens: 100})
	rc := r.Retrieve(context.Background(), "zzz", nil, 3, 0)
	require.Len(t, rc.Results, 1)
	assert.Equal(t, "c1", rc.Results[0].Chunk.ID)
	assert.Equal(t, "[Source 1]\naaaa", rc.ContextText)
}

func TestRetrieveEmbeddingCache(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	model := "emb-a"
	r := NewRagEngine(Config{
		Store:              newStore(t, rec("a", "d", "light", 1, 0)),
		Embedder:           emb,
		EmbeddingCacheSize: 4,
		EmbeddingModelID:   func() string { return model },
	})
	r.Retrieve(context.Background(), "light", nil, 1, 0)
	r.Retrieve(context.Background(), "light", nil, 1, 0)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, 1, r.cache.len())

	model = "emb-b"
	r.Retrieve(context.Background(), "light", nil, 1, 0)
	assert.Equal(t, 2, emb.calls)

	// no active model: never cached
	model = ""
	r.Retrieve(context.Background(), "light", nil, 1, 0)
	r.Retrieve(context.Background(), "light", nil, 1, 0)
	assert.Equal(t, 4, emb.calls)
}

func TestAnswerBuildsGroundedPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	r := NewRagEngine(Config{
		Store:     newStore(t, rec("a", "d", "Light energy powers photosynthesis.", 1, 0)),
		Embedder:  &fakeEmbedder{vec: []float32{1, 0}},
		Generator: gen,
	})
	var out strings.Builder
	rc, res, err := r.Answer(context.Background(), AnswerRequest{
		Query:       "What powers photosynthesis?",
		History:     []Turn{{Role: "user", Content: "Hi"}, {Role: "assistant", Content: "Hello!"}},
		TopK:        3,
		MaxTokens:   64,
		Temperature: 0.2,
	}, func(tok string) error { out.WriteString(tok); return nil })
	require.NoError(t, err)
	assert.Len(t, rc.Results, 1)
	assert.Equal(t, "Light drives it.", out.String())
	assert.Equal(t, "stop", res.FinishReason)

	assert.Contains(t, gen.prompt, "[Source 1]\nLight energy powers photosynthesis.")
	assert.Contains(t, gen.prompt, "Student: Hi\nAssistant: Hello!\n")
	assert.True(t, strings.HasSuffix(gen.prompt, "Student: What powers photosynthesis?\nAssistant:"))
	assert.Equal(t, 64, gen.params.MaxTokens)
	assert.Equal(t, float32(0.2), gen.params.Temperature)
	assert.Equal(t, []string{"\nStudent:"}, gen.params.Stop)
}

func TestGenerateStreamWithoutGenerator(t *testing.T) {
	r := NewRagEngine(Config{Store: store.NewMemoryStore()})
	_, err := r.GenerateStream(context.Background(), "q", RagContext{}, nil, 16, 0.5, func(string) error { return nil })
	assert.True(t, engine.IsGenerationFailed(err))
}

func TestBuildPromptWithoutMaterial(t *testing.T) {
	p := BuildPrompt("", "", nil, "  why?  ")
	assert.True(t, strings.HasPrefix(p, DefaultSystemPrompt))
	assert.Contains(t, p, noMaterial)
	assert.True(t, strings.HasSuffix(p, "Student: why?\nAssistant:"))
}
