package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"studycore/internal/common/fsutil"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified"; WithDefaults fills them in.
type Config struct {
	Addr             string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir        string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Catalog          string   `json:"catalog" yaml:"catalog" toml:"catalog"`
	BundledDir       string   `json:"bundled_dir" yaml:"bundled_dir" toml:"bundled_dir"`
	DBPath           string   `json:"db_path" yaml:"db_path" toml:"db_path"`
	DiscoverUnlisted bool     `json:"discover_unlisted" yaml:"discover_unlisted" toml:"discover_unlisted"`
	Threads          int      `json:"threads" yaml:"threads" toml:"threads"`
	DefaultModel     string   `json:"default_model" yaml:"default_model" toml:"default_model"`
	EmbeddingModel   string   `json:"embedding_model" yaml:"embedding_model" toml:"embedding_model"`
	CORSOrigins      []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	LogLevel         string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogJSON          bool     `json:"log_json" yaml:"log_json" toml:"log_json"`

	Memory      MemoryConfig      `json:"memory" yaml:"memory" toml:"memory"`
	LlamaServer LlamaServerConfig `json:"llama_server" yaml:"llama_server" toml:"llama_server"`
	Retrieval   RetrievalConfig   `json:"retrieval" yaml:"retrieval" toml:"retrieval"`
	Chunking    ChunkingConfig    `json:"chunking" yaml:"chunking" toml:"chunking"`
}

type MemoryConfig struct {
	PollSeconds int `json:"poll_seconds" yaml:"poll_seconds" toml:"poll_seconds"`
}

// LlamaServerConfig configures the out-of-process llama-server engine.
type LlamaServerConfig struct {
	Bin            string   `json:"bin" yaml:"bin" toml:"bin"`
	Host           string   `json:"host" yaml:"host" toml:"host"`
	BaseURL        string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	ExtraArgs      []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	ReadyTimeoutMS int      `json:"ready_timeout_ms" yaml:"ready_timeout_ms" toml:"ready_timeout_ms"`
}

type RetrievalConfig struct {
	VectorWeight       float64 `json:"vector_weight" yaml:"vector_weight" toml:"vector_weight"`
	BM25Weight         float64 `json:"bm25_weight" yaml:"bm25_weight" toml:"bm25_weight"`
	NormalizeBM25      bool    `json:"normalize_bm25" yaml:"normalize_bm25" toml:"normalize_bm25"`
	MaxContextTokens   int     `json:"max_context_tokens" yaml:"max_context_tokens" toml:"max_context_tokens"`
	TopK               int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	Threshold          float64 `json:"threshold" yaml:"threshold" toml:"threshold"`
	EmbeddingCacheSize int     `json:"embedding_cache_size" yaml:"embedding_cache_size" toml:"embedding_cache_size"`
}

type ChunkingConfig struct {
	TargetTokens int `json:"target_tokens" yaml:"target_tokens" toml:"target_tokens"`
	MaxTokens    int `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	OverlapChars int `json:"overlap_chars" yaml:"overlap_chars" toml:"overlap_chars"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", p, err)
	}
	return cfg, nil
}

// WithDefaults returns a copy with unspecified fields filled.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8421"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/.studycore/models"
	}
	if c.DBPath == "" {
		c.DBPath = "~/.studycore/chunks.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Memory.PollSeconds <= 0 {
		c.Memory.PollSeconds = 5
	}
	if c.LlamaServer.Bin == "" {
		c.LlamaServer.Bin = "llama-server"
	}
	if c.LlamaServer.Host == "" {
		c.LlamaServer.Host = "127.0.0.1"
	}
	if c.LlamaServer.ReadyTimeoutMS <= 0 {
		c.LlamaServer.ReadyTimeoutMS = 60000
	}
	if c.Retrieval.VectorWeight == 0 && c.Retrieval.BM25Weight == 0 {
		c.Retrieval.VectorWeight = 0.7
		c.Retrieval.BM25Weight = 0.3
	}
	if c.Retrieval.MaxContextTokens <= 0 {
		c.Retrieval.MaxContextTokens = 1500
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.EmbeddingCacheSize == 0 {
		c.Retrieval.EmbeddingCacheSize = 256
	}
	if c.Chunking.TargetTokens <= 0 {
		c.Chunking.TargetTokens = 256
	}
	if c.Chunking.MaxTokens <= 0 {
		c.Chunking.MaxTokens = 512
	}
	if c.Chunking.OverlapChars == 0 {
		c.Chunking.OverlapChars = 200
	}
	return c
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.BM25Weight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval threshold %v outside [-1,1]", c.Retrieval.Threshold)
	}
	if c.Chunking.TargetTokens > 0 && c.Chunking.MaxTokens > 0 && c.Chunking.TargetTokens > c.Chunking.MaxTokens {
		return fmt.Errorf("chunking target_tokens %d exceeds max_tokens %d", c.Chunking.TargetTokens, c.Chunking.MaxTokens)
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0")
	}
	return nil
}

// PollInterval is the memory monitor interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Memory.PollSeconds) * time.Second
}

// ReadyTimeout bounds how long a llama-server may take to report healthy.
func (c Config) ReadyTimeout() time.Duration {
	return time.Duration(c.LlamaServer.ReadyTimeoutMS) * time.Millisecond
}
