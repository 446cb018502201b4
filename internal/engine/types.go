package engine

import (
	"fmt"
	"strings"
)

// Purpose tells which role a model plays.
type Purpose string

const (
	PurposeInference Purpose = "inference"
	PurposeEmbedding Purpose = "embedding"
)

// EngineKind keys a backend implementation.
type EngineKind string

const (
	EngineLlama       EngineKind = "llama"
	EngineLlamaServer EngineKind = "llama-server"
)

// ModelConfig statically describes a model. It is defined at startup and
// never mutated.
type ModelConfig struct {
	ID              string     `json:"id" yaml:"id" toml:"id"`
	DisplayName     string     `json:"display_name" yaml:"display_name" toml:"display_name"`
	BaseURL         string     `json:"base_url,omitempty" yaml:"base_url" toml:"base_url"`
	FileName        string     `json:"file_name" yaml:"file_name" toml:"file_name"`
	FileSizeMB      int64      `json:"file_size_mb" yaml:"file_size_mb" toml:"file_size_mb"`
	MinRAMMB        int64      `json:"min_ram_mb" yaml:"min_ram_mb" toml:"min_ram_mb"`
	ContextLength   int        `json:"context_length" yaml:"context_length" toml:"context_length"`
	Purpose         Purpose    `json:"purpose" yaml:"purpose" toml:"purpose"`
	Engine          EngineKind `json:"engine" yaml:"engine" toml:"engine"`
	Bundled         bool       `json:"bundled,omitempty" yaml:"bundled" toml:"bundled"`
	FallbackModelID string     `json:"fallback_model_id,omitempty" yaml:"fallback_model_id" toml:"fallback_model_id"`
	TokenizerFile   string     `json:"tokenizer_file,omitempty" yaml:"tokenizer_file" toml:"tokenizer_file"`
}

// URL is the download location of the model file.
func (c ModelConfig) URL() string {
	if c.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + c.FileName
}

// StateKind tags a ModelState.
type StateKind string

const (
	StateNotDownloaded  StateKind = "not_downloaded"
	StateDownloading    StateKind = "downloading"
	StateDownloadFailed StateKind = "download_failed"
	StateDownloaded     StateKind = "downloaded"
	StateLoading        StateKind = "loading"
	StateReady          StateKind = "ready"
	StateLoadFailed     StateKind = "load_failed"
)

// ModelState is the lifecycle state of one model. Progress is set only for
// Downloading and Reason only for the failure kinds.
type ModelState struct {
	Kind     StateKind `json:"kind"`
	Progress float64   `json:"progress,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

func NotDownloaded() ModelState               { return ModelState{Kind: StateNotDownloaded} }
func Downloading(progress float64) ModelState { return ModelState{Kind: StateDownloading, Progress: progress} }
func DownloadFailed(reason string) ModelState { return ModelState{Kind: StateDownloadFailed, Reason: reason} }
func Downloaded() ModelState                  { return ModelState{Kind: StateDownloaded} }
func Loading() ModelState                     { return ModelState{Kind: StateLoading} }
func Ready() ModelState                       { return ModelState{Kind: StateReady} }
func LoadFailed(reason string) ModelState     { return ModelState{Kind: StateLoadFailed, Reason: reason} }

func (s ModelState) String() string {
	switch s.Kind {
	case StateDownloading:
		return fmt.Sprintf("%s(%.0f%%)", s.Kind, s.Progress*100)
	case StateDownloadFailed, StateLoadFailed:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
	default:
		return string(s.Kind)
	}
}

// IsAvailable reports whether the model file is present locally.
func (s ModelState) IsAvailable() bool {
	switch s.Kind {
	case StateDownloaded, StateLoading, StateReady, StateLoadFailed:
		return true
	}
	return false
}

// LoadOptions carries per-load tunables resolved by the caller.
type LoadOptions struct {
	Threads       int
	TokenizerPath string
}

// GenerateParams captures generation parameters passed to a backend.
type GenerateParams struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	TopK          int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// GenerateResult summarizes a generation after streaming.
type GenerateResult struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage contains token accounting when the backend reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
