//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = true

// llamaBackend owns one in-process llama.cpp model. The same type serves
// generation and embeddings; embeddings is fixed at construction.
type llamaBackend struct {
	opts       LlamaOptions
	embeddings bool

	guard handleGuard
	// callMu serializes calls: a llama.cpp context is not safe for concurrent use.
	callMu  sync.Mutex
	model   *llama.LLama
	threads int
}

// NewLlamaGenerationBackend returns the in-process llama.cpp generation backend.
func NewLlamaGenerationBackend(opts LlamaOptions) GenerationBackend {
	return &llamaBackend{opts: opts}
}

// NewLlamaEmbeddingBackend returns the in-process llama.cpp embedding backend.
func NewLlamaEmbeddingBackend(opts LlamaOptions) EmbeddingBackend {
	return &llamaBackend{opts: opts, embeddings: true}
}

func (b *llamaBackend) Load(ctx context.Context, req LoadRequest) error {
	if strings.TrimSpace(req.Path) == "" {
		return errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = b.Unload()

	ctxSize := zn(req.ContextLength, zn(b.opts.DefaultContext, 2048))
	mo := []llama.ModelOption{llama.SetContext(ctxSize)}
	if b.opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(b.opts.GPULayers))
	}
	if b.opts.Batch > 0 {
		mo = append(mo, llama.SetNBatch(b.opts.Batch))
	}
	if b.embeddings {
		mo = append(mo, llama.EnableEmbeddings)
	}
	m, err := llama.New(req.Path, mo...)
	if err != nil {
		return err
	}
	b.callMu.Lock()
	b.model = m
	b.threads = max(1, req.Threads)
	b.callMu.Unlock()
	b.guard.open()
	return nil
}

func (b *llamaBackend) Unload() error {
	b.guard.close()
	b.callMu.Lock()
	defer b.callMu.Unlock()
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	return nil
}

func (b *llamaBackend) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (GenerateResult, error) {
	cctx, unloaded, release, ok := b.guard.acquire(ctx)
	if !ok {
		return GenerateResult{}, ErrGenerationFailed(noInferenceModel)
	}
	defer release()
	b.callMu.Lock()
	defer b.callMu.Unlock()
	if b.model == nil {
		return GenerateResult{}, ErrGenerationFailed("model unloaded")
	}

	var cbErr error
	b.model.SetTokenCallback(func(tok string) bool {
		if cctx.Err() != nil {
			return false
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	defer b.model.SetTokenCallback(nil)

	text, err := b.model.Predict(prompt, predictOptions(params, b.threads)...)
	switch {
	case ctx.Err() != nil:
		return GenerateResult{}, ctx.Err()
	case unloaded():
		return GenerateResult{}, ErrGenerationFailed("model unloaded")
	case cbErr != nil:
		return GenerateResult{}, cbErr
	case err != nil:
		return GenerateResult{}, err
	}
	return GenerateResult{Content: text, FinishReason: "stop"}, nil
}

func (b *llamaBackend) CountTokens(text string) (int, error) {
	_, _, release, ok := b.guard.acquire(context.Background())
	if !ok {
		return 0, ErrGenerationFailed(noInferenceModel)
	}
	defer release()
	b.callMu.Lock()
	defer b.callMu.Unlock()
	if b.model == nil {
		return 0, ErrGenerationFailed("model unloaded")
	}
	_, toks, err := b.model.TokenizeString(text, llama.SetThreads(b.threads))
	if err != nil {
		return 0, err
	}
	return len(toks), nil
}

func (b *llamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	_, unloaded, release, ok := b.guard.acquire(ctx)
	if !ok {
		return nil, ErrEmbeddingFailed(noEmbeddingModel)
	}
	defer release()
	b.callMu.Lock()
	defer b.callMu.Unlock()
	if b.model == nil || unloaded() {
		return nil, ErrEmbeddingFailed("model unloaded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.model.Embeddings(text, llama.SetThreads(b.threads))
}

func (b *llamaBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := b.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts GenerateParams into go-llama.cpp options.
func predictOptions(params GenerateParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
