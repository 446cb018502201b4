package engine

import (
	"context"
	"sync"
)

// LoadRequest is what a backend needs to bring a model into memory.
type LoadRequest struct {
	ModelID       string
	Path          string
	Threads       int
	ContextLength int
	TokenizerPath string
}

// GenerationBackend is a text generation runtime registered under an EngineKind.
// A backend holds at most one model at a time.
type GenerationBackend interface {
	Load(ctx context.Context, req LoadRequest) error
	// Unload cancels in-flight calls, waits for them to return and frees the model.
	Unload() error
	// Generate streams tokens to onToken and must return promptly once ctx is canceled.
	Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (GenerateResult, error)
	CountTokens(text string) (int, error)
}

// EmbeddingBackend is an embedding runtime registered under an EngineKind.
type EmbeddingBackend interface {
	Load(ctx context.Context, req LoadRequest) error
	Unload() error
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// handleGuard protects a loaded model handle. Calls acquire the current
// session before touching the handle; close cancels the session and drains
// it, so a handle is never freed while a call still uses it.
type handleGuard struct {
	mu  sync.Mutex
	cur *guardSession
}

type guardSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (g *handleGuard) open() {
	ctx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.cur = &guardSession{ctx: ctx, cancel: cancel}
	g.mu.Unlock()
}

func (g *handleGuard) loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur != nil
}

// acquire registers an in-flight call. The returned context is canceled when
// either parent is canceled or the handle is closed. ok is false when nothing
// is loaded.
func (g *handleGuard) acquire(parent context.Context) (ctx context.Context, unloaded func() bool, release func(), ok bool) {
	g.mu.Lock()
	s := g.cur
	if s == nil {
		g.mu.Unlock()
		return nil, nil, nil, false
	}
	s.wg.Add(1)
	g.mu.Unlock()

	cctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.ctx, cancel)
	release = func() {
		stop()
		cancel()
		s.wg.Done()
	}
	unloaded = func() bool { return s.ctx.Err() != nil }
	return cctx, unloaded, release, true
}

// close cancels and drains the current session. It reports whether a session existed.
func (g *handleGuard) close() bool {
	g.mu.Lock()
	s := g.cur
	g.cur = nil
	g.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	s.wg.Wait()
	return true
}

// LlamaOptions configures the in-process llama.cpp backends.
type LlamaOptions struct {
	GPULayers int
	Batch     int
	// DefaultContext is used when a model does not declare its context length.
	DefaultContext int
}

// LlamaBuilt reports whether the in-process llama backend was compiled in.
func LlamaBuilt() bool { return llamaBuilt }
