package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"studycore/internal/engine"
)

// TestLive_LlamaServerGenerate spawns a real llama-server for a local model.
// Skips unless STUDYCORE_LLAMA_SERVER points to the binary and
// STUDYCORE_TEST_MODEL to a GGUF file.
func TestLive_LlamaServerGenerate(t *testing.T) {
	bin := strings.TrimSpace(os.Getenv("STUDYCORE_LLAMA_SERVER"))
	model := strings.TrimSpace(os.Getenv("STUDYCORE_TEST_MODEL"))
	if bin == "" || model == "" {
		t.Skip("STUDYCORE_LLAMA_SERVER or STUDYCORE_TEST_MODEL not set")
	}
	gen := engine.NewServerGenerationBackend(engine.ServerOptions{Bin: bin, Host: "127.0.0.1", ReadyTimeout: 2 * time.Minute})
	eng := engine.NewWithConfig(engine.Config{
		Generators: map[engine.EngineKind]engine.GenerationBackend{engine.EngineLlamaServer: gen},
	})
	cfg := engine.ModelConfig{
		ID:            strings.TrimSuffix(filepath.Base(model), filepath.Ext(model)),
		Purpose:       engine.PurposeInference,
		Engine:        engine.EngineLlamaServer,
		ContextLength: 2048,
	}
	eng.RegisterModel(cfg)
	eng.SetState(cfg.ID, engine.Downloaded())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := eng.LoadModel(ctx, cfg, model, engine.LoadOptions{Threads: 2}); err != nil {
		t.Fatalf("load: %v", err)
	}
	defer func() { _ = eng.UnloadAll() }()

	out, err := eng.GenerateComplete(ctx, "Q: In one sentence, what does chlorophyll do?\nA:", engine.GenerateParams{MaxTokens: 64, Temperature: 0.2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatalf("expected non-empty answer")
	}
	t.Logf("answer: %s", out)
}
