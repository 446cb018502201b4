package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: :9999
models_dir: /tmp/models
catalog: /tmp/models.yaml
threads: 2
cors_origins: [http://localhost:5173]
memory:
  poll_seconds: 3
llama_server:
  bin: /opt/llama-server
  extra_args: ["--flash-attn"]
retrieval:
  vector_weight: 0.6
  bm25_weight: 0.4
  normalize_bm25: true
chunking:
  overlap_chars: -1
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp/models" || cfg.Catalog != "/tmp/models.yaml" || cfg.Threads != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.Memory.PollSeconds != 3 || cfg.LlamaServer.Bin != "/opt/llama-server" || len(cfg.LlamaServer.ExtraArgs) != 1 {
		t.Fatalf("unexpected nested cfg: %+v", cfg)
	}
	if cfg.Retrieval.VectorWeight != 0.6 || !cfg.Retrieval.NormalizeBM25 || cfg.Chunking.OverlapChars != -1 {
		t.Fatalf("unexpected retrieval/chunking: %+v %+v", cfg.Retrieval, cfg.Chunking)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","db_path":"/m/c.db","retrieval":{"top_k":8}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.DBPath != "/m/c.db" || cfg.Retrieval.TopK != 8 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\nlog_level=\"debug\"\n\n[chunking]\ntarget_tokens=128\nmax_tokens=256\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.LogLevel != "debug" || cfg.Chunking.TargetTokens != 128 || cfg.Chunking.MaxTokens != 256 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	for name, body := range map[string]string{
		"bad.yaml": "addr: :8080\n: broken\n",
		"bad.json": `{ "addr": ":8080", "models_dir": }`,
		"bad.toml": "addr=:8080\nmodels_dir\n",
	} {
		if _, err := Load(writeTempFile(t, d, name, body)); err == nil {
			t.Fatalf("expected parse error for %s", name)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{Chunking: ChunkingConfig{OverlapChars: -1}}.WithDefaults()
	if cfg.Addr == "" || cfg.ModelsDir == "" || cfg.DBPath == "" {
		t.Fatalf("paths not defaulted: %+v", cfg)
	}
	if cfg.Retrieval.VectorWeight != 0.7 || cfg.Retrieval.BM25Weight != 0.3 || cfg.Retrieval.MaxContextTokens != 1500 {
		t.Fatalf("retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.Chunking.TargetTokens != 256 || cfg.Chunking.MaxTokens != 512 || cfg.Chunking.OverlapChars != -1 {
		t.Fatalf("chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.PollInterval() != 5*time.Second || cfg.ReadyTimeout() != time.Minute {
		t.Fatalf("durations: %v %v", cfg.PollInterval(), cfg.ReadyTimeout())
	}

	// an explicit lexical-only mix is kept
	cfg = Config{Retrieval: RetrievalConfig{BM25Weight: 1}}.WithDefaults()
	if cfg.Retrieval.VectorWeight != 0 || cfg.Retrieval.BM25Weight != 1 {
		t.Fatalf("weights overridden: %+v", cfg.Retrieval)
	}
}

func TestValidate(t *testing.T) {
	if err := (Config{}).WithDefaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := []Config{
		{Retrieval: RetrievalConfig{VectorWeight: -1}},
		{Retrieval: RetrievalConfig{Threshold: 2}},
		{Chunking: ChunkingConfig{TargetTokens: 600, MaxTokens: 512}},
		{Threads: -2},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
