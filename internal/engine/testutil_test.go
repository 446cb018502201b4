package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeBackend is an in-memory backend serving both purposes in tests.
type fakeBackend struct {
	guard handleGuard

	mu       sync.Mutex
	loaded   string
	loadErr  error
	loads    []string
	unloads  int
	tokens   []string
	count    int
	countErr error
	vec      []float32
	// block makes Generate wait for cancellation after the first token.
	block bool

	inLoad     atomic.Int32
	overlapped atomic.Bool
}

func (f *fakeBackend) Load(ctx context.Context, req LoadRequest) error {
	if f.inLoad.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inLoad.Add(-1)
	time.Sleep(2 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, req.ModelID)
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = req.ModelID
	f.guard.open()
	return nil
}

func (f *fakeBackend) Unload() error {
	f.guard.close()
	f.mu.Lock()
	f.unloads++
	f.loaded = ""
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (GenerateResult, error) {
	cctx, unloaded, release, ok := f.guard.acquire(ctx)
	if !ok {
		return GenerateResult{}, ErrGenerationFailed(noInferenceModel)
	}
	defer release()
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return GenerateResult{}, err
		}
		if f.block {
			<-cctx.Done()
			if unloaded() && ctx.Err() == nil {
				return GenerateResult{}, ErrGenerationFailed("model unloaded")
			}
			return GenerateResult{}, ctx.Err()
		}
	}
	return GenerateResult{FinishReason: "stop"}, nil
}

func (f *fakeBackend) CountTokens(text string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

func (f *fakeBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if !f.guard.loaded() {
		return nil, errors.New("not loaded")
	}
	return f.vec, nil
}

func (f *fakeBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fixedGate struct{ ok bool }

func (g fixedGate) CanAllocateMB(int64) bool { return g.ok }

func newTestOrchestrator(t *testing.T, gen, emb *fakeBackend, gate MemoryGate) (*Orchestrator, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	cfg := Config{Memory: gate, Publisher: pub}
	if gen != nil {
		cfg.Generators = map[EngineKind]GenerationBackend{EngineLlama: gen}
	}
	if emb != nil {
		cfg.Embedders = map[EngineKind]EmbeddingBackend{EngineLlama: emb}
	}
	return NewWithConfig(cfg), pub
}

func inferenceModel(id string) ModelConfig {
	return ModelConfig{ID: id, Purpose: PurposeInference, Engine: EngineLlama, FileSizeMB: 100}
}

func embeddingModel(id string) ModelConfig {
	return ModelConfig{ID: id, Purpose: PurposeEmbedding, Engine: EngineLlama, FileSizeMB: 50}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
