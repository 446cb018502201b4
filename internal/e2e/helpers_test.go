// Package e2e drives the full HTTP stack: the chi mux over the service
// manager, the orchestrator, the task queue and a SQLite chunk store.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"studycore/internal/chunking"
	"studycore/internal/download"
	"studycore/internal/engine"
	"studycore/internal/httpapi"
	"studycore/internal/manager"
	"studycore/internal/memory"
	"studycore/internal/models"
	"studycore/internal/retrieval"
	"studycore/internal/store"
	"studycore/internal/tasks"
	"studycore/pkg/types"
)

// echoGen streams the words of a fixed answer.
type echoGen struct{ answer string }

func (g echoGen) Load(context.Context, engine.LoadRequest) error { return nil }
func (g echoGen) Unload() error                                  { return nil }
func (g echoGen) CountTokens(s string) (int, error)              { return engine.HeuristicTokenCount(s), nil }
func (g echoGen) Generate(ctx context.Context, prompt string, p engine.GenerateParams, on func(string) error) (engine.GenerateResult, error) {
	for i, w := range strings.Fields(g.answer) {
		if i > 0 {
			w = " " + w
		}
		if err := on(w); err != nil {
			return engine.GenerateResult{}, err
		}
	}
	return engine.GenerateResult{Content: g.answer, FinishReason: "stop"}, nil
}

// letterEmbedder embeds text as letter frequencies.
type letterEmbedder struct{}

func (letterEmbedder) Load(context.Context, engine.LoadRequest) error { return nil }
func (letterEmbedder) Unload() error                                  { return nil }
func (letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}
func (e letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

// createModelFile writes a sparse file big enough to count as a model.
func createModelFile(t *testing.T, dir, name string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create model %s: %v", name, err)
	}
	if err := f.Truncate(11 * 1024 * 1024); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	_ = f.Close()
}

// newServer wires the daemon around fake backends and starts it. Catalog
// models with a base URL download from downloads.
func newServer(t *testing.T, downloads *httptest.Server) (*httptest.Server, *manager.Manager) {
	t.Helper()
	dir := t.TempDir()
	createModelFile(t, dir, "tutor.gguf")
	createModelFile(t, dir, "minilm.gguf")

	mon := memory.NewMonitor(memory.Config{Sampler: memory.SamplerFunc(func() (memory.Raw, error) {
		return memory.Raw{TotalMB: 16000, AvailableMB: 12000}, nil
	})})
	eng := engine.NewWithConfig(engine.Config{
		Generators: map[engine.EngineKind]engine.GenerationBackend{engine.EngineLlama: echoGen{answer: "Plants use chlorophyll"}},
		Embedders:  map[engine.EngineKind]engine.EmbeddingBackend{engine.EngineLlama: letterEmbedder{}},
		Memory:     mon,
	})
	catalog := []engine.ModelConfig{
		{ID: "tutor", Purpose: engine.PurposeInference, FileSizeMB: 2000, MinRAMMB: 4000},
		{ID: "minilm", Purpose: engine.PurposeEmbedding, FileSizeMB: 25},
	}
	if downloads != nil {
		catalog = append(catalog, engine.ModelConfig{ID: "remote", Purpose: engine.PurposeInference, BaseURL: downloads.URL, FileName: "remote.gguf"})
	}
	mm, err := models.New(models.Config{
		ModelsDir:  dir,
		Catalog:    catalog,
		Engine:     eng,
		Downloader: download.New(download.Options{BaseDelay: time.Millisecond}),
		Memory:     mon,
	})
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	st, err := store.OpenSQLite(filepath.Join(dir, "db", "chunks.db"), nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	q := tasks.New(tasks.Config{})
	t.Cleanup(q.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mgr, err := manager.New(manager.Config{
		Engine:         eng,
		Models:         mm,
		Memory:         mon,
		Chunker:        chunking.New(chunking.Options{TargetTokens: 16, MaxTokens: 32}),
		Rag:            retrieval.NewRagEngine(retrieval.Config{Store: st, Embedder: eng, Generator: eng, Counter: eng}),
		Store:          st,
		Queue:          q,
		TopK:           3,
		DefaultModel:   "tutor",
		EmbeddingModel: "minilm",
		BaseContext:    ctx,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr, httpapi.Options{BaseContext: ctx}))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func do(t *testing.T, method, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("json: %v body=%s", err, body)
	}
	return v
}

// waitTask polls GET /tasks/{id} until the task is terminal.
func waitTask(t *testing.T, base, id string) types.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, body := do(t, http.MethodGet, base+"/tasks/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("/tasks/%s status=%d body=%s", id, resp.StatusCode, body)
		}
		task := decode[types.Task](t, body)
		switch task.Status {
		case "completed", "failed", "cancelled":
			return task
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s still %s", id, task.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// streamEvents splits an NDJSON body into events.
func streamEvents(t *testing.T, body []byte) []types.StreamEvent {
	t.Helper()
	var out []types.StreamEvent
	for _, ln := range strings.Split(string(body), "\n") {
		if ln = strings.TrimSpace(ln); ln == "" {
			continue
		}
		out = append(out, decode[types.StreamEvent](t, []byte(ln)))
	}
	return out
}
