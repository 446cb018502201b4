package engine

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// MemoryGate refuses allocations the device cannot afford.
type MemoryGate interface {
	CanAllocateMB(requiredMB int64) bool
}

// Config encapsulates Orchestrator dependencies. Nil fields use defaults:
// no memory gate (every load allowed), a no-op logger and publisher.
type Config struct {
	Generators map[EngineKind]GenerationBackend
	Embedders  map[EngineKind]EmbeddingBackend
	Memory     MemoryGate
	Logger     *zerolog.Logger
	Publisher  EventPublisher
}

// Orchestrator routes generation and embedding calls to the active backends
// and owns the state of every registered model.
type Orchestrator struct {
	// loadMu serializes every load/unload sequence.
	loadMu sync.Mutex

	mu                sync.RWMutex
	generators        map[EngineKind]GenerationBackend
	embedders         map[EngineKind]EmbeddingBackend
	activeGen         EngineKind
	activeEmbed       EngineKind
	activeInferenceID string
	activeEmbeddingID string
	states            map[string]ModelState
	purposes          map[string]Purpose

	memory    MemoryGate
	log       zerolog.Logger
	publisher EventPublisher

	pressurePending atomic.Bool
}

// NewWithConfig constructs an Orchestrator.
func NewWithConfig(cfg Config) *Orchestrator {
	o := &Orchestrator{
		generators: make(map[EngineKind]GenerationBackend),
		embedders:  make(map[EngineKind]EmbeddingBackend),
		states:     make(map[string]ModelState),
		purposes:   make(map[string]Purpose),
		memory:     cfg.Memory,
		publisher:  cfg.Publisher,
		log:        zerolog.Nop(),
	}
	for k, b := range cfg.Generators {
		o.generators[k] = b
	}
	for k, b := range cfg.Embedders {
		o.embedders[k] = b
	}
	if cfg.Logger != nil {
		o.log = cfg.Logger.With().Str("component", "engine").Logger()
	}
	if o.publisher == nil {
		o.publisher = noopPublisher{}
	}
	return o
}

// RegisterGenerationBackend adds or replaces the generation backend for kind.
func (o *Orchestrator) RegisterGenerationBackend(kind EngineKind, b GenerationBackend) {
	o.mu.Lock()
	o.generators[kind] = b
	o.mu.Unlock()
}

// RegisterEmbeddingBackend adds or replaces the embedding backend for kind.
func (o *Orchestrator) RegisterEmbeddingBackend(kind EngineKind, b EmbeddingBackend) {
	o.mu.Lock()
	o.embedders[kind] = b
	o.mu.Unlock()
}

// RegisterModel records a model as NotDownloaded unless it is already known.
func (o *Orchestrator) RegisterModel(cfg ModelConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.purposes[cfg.ID] = cfg.Purpose
	if _, ok := o.states[cfg.ID]; !ok {
		o.states[cfg.ID] = NotDownloaded()
	}
}

// State returns the state of a model; unknown ids report NotDownloaded.
func (o *Orchestrator) State(id string) ModelState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.states[id]; ok {
		return s
	}
	return NotDownloaded()
}

// States returns a copy of the state map.
func (o *Orchestrator) States() map[string]ModelState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]ModelState, len(o.states))
	for k, v := range o.states {
		out[k] = v
	}
	return out
}

// SetState overrides a model state. Download and discovery transitions use
// it; Ready is reserved to LoadModel and is ignored here.
func (o *Orchestrator) SetState(id string, s ModelState) {
	if s.Kind == StateReady {
		return
	}
	o.mu.Lock()
	o.states[id] = s
	o.mu.Unlock()
}

// ActiveModelID reports the model currently serving purpose, or "".
func (o *Orchestrator) ActiveModelID(p Purpose) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if p == PurposeEmbedding {
		return o.activeEmbeddingID
	}
	return o.activeInferenceID
}

// ReadyModels lists ids in state Ready, sorted.
func (o *Orchestrator) ReadyModels() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	for id, s := range o.states {
		if s.Kind == StateReady {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) setState(id string, s ModelState) {
	o.mu.Lock()
	o.states[id] = s
	o.mu.Unlock()
}
