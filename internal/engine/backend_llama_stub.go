//go:build !llama

package engine

// No-CGO stub for the in-process llama backend, compiled when the 'llama'
// build tag is not set. Loads fail fast so callers fall back to another
// engine instead of running mocked inference.

import "context"

const llamaBuilt = false

var errLlamaNotBuilt = ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")

type llamaBackend struct {
	opts       LlamaOptions
	embeddings bool
}

// NewLlamaGenerationBackend returns the in-process llama.cpp generation backend.
func NewLlamaGenerationBackend(opts LlamaOptions) GenerationBackend {
	return &llamaBackend{opts: opts}
}

// NewLlamaEmbeddingBackend returns the in-process llama.cpp embedding backend.
func NewLlamaEmbeddingBackend(opts LlamaOptions) EmbeddingBackend {
	return &llamaBackend{opts: opts, embeddings: true}
}

func (b *llamaBackend) Load(ctx context.Context, req LoadRequest) error { return errLlamaNotBuilt }

func (b *llamaBackend) Unload() error { return nil }

func (b *llamaBackend) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (GenerateResult, error) {
	return GenerateResult{}, errLlamaNotBuilt
}

func (b *llamaBackend) CountTokens(text string) (int, error) { return 0, errLlamaNotBuilt }

func (b *llamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errLlamaNotBuilt
}

func (b *llamaBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errLlamaNotBuilt
}
