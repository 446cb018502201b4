package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"studycore/internal/chunking"
	"studycore/internal/engine"
	"studycore/internal/memory"
	"studycore/internal/models"
	"studycore/internal/retrieval"
	"studycore/internal/store"
	"studycore/internal/tasks"
	"studycore/pkg/types"
)

// DocumentStore is a chunk store that can also be written to.
type DocumentStore interface {
	store.ChunkStore
	Put(ctx context.Context, recs ...store.ChunkRecord) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Config wires a Manager. Every component except Logger is required.
type Config struct {
	Engine  *engine.Orchestrator
	Models  *models.Manager
	Memory  *memory.Monitor
	Chunker *chunking.Engine
	Rag     *retrieval.RagEngine
	Store   DocumentStore
	Queue   *tasks.Queue

	// Retrieval defaults for requests that leave them unset.
	TopK      int
	Threshold float64

	// Models loaded by Start; empty skips the load.
	DefaultModel   string
	EmbeddingModel string

	// BaseContext bounds background downloads. Defaults to
	// context.Background().
	BaseContext context.Context

	Logger *zerolog.Logger
}

// Manager implements httpapi.Service.
type Manager struct {
	eng     *engine.Orchestrator
	models  *models.Manager
	mem     *memory.Monitor
	chunker *chunking.Engine
	rag     *retrieval.RagEngine
	store   DocumentStore
	queue   *tasks.Queue

	topK      int
	threshold float64
	defModel  string
	embModel  string

	// ctx outlives requests; background downloads run under it. Set once
	// in New.
	ctx     context.Context
	started time.Time
	ready   atomic.Bool
	log     zerolog.Logger
}

// New validates cfg and registers the memory-pressure handler.
func New(cfg Config) (*Manager, error) {
	if cfg.Engine == nil || cfg.Models == nil || cfg.Memory == nil || cfg.Chunker == nil ||
		cfg.Rag == nil || cfg.Store == nil || cfg.Queue == nil {
		return nil, errors.New("manager: missing component")
	}
	m := &Manager{
		eng:       cfg.Engine,
		models:    cfg.Models,
		mem:       cfg.Memory,
		chunker:   cfg.Chunker,
		rag:       cfg.Rag,
		store:     cfg.Store,
		queue:     cfg.Queue,
		topK:      cfg.TopK,
		threshold: cfg.Threshold,
		defModel:  cfg.DefaultModel,
		embModel:  cfg.EmbeddingModel,
		ctx:       context.Background(),
		started:   time.Now(),
		log:       zerolog.Nop(),
	}
	if cfg.BaseContext != nil {
		m.ctx = cfg.BaseContext
	}
	if m.topK <= 0 {
		m.topK = 5
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	m.mem.OnCritical(func(memory.Snapshot) { m.eng.HandleMemoryPressureAsync() })
	return m, nil
}

// Start discovers model files and loads the configured default models.
// Load failures are logged; the service is ready either way.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.models.Initialize(ctx); err != nil {
		return err
	}
	for _, id := range []string{m.embModel, m.defModel} {
		if id == "" {
			continue
		}
		loaded, err := m.models.LoadModel(ctx, id)
		if err != nil {
			m.log.Warn().Err(err).Str("model", id).Msg("default model not loaded")
			continue
		}
		m.log.Info().Str("model", loaded).Msg("default model loaded")
	}
	m.ready.Store(true)
	return nil
}

// Ready reports whether Start has completed.
func (m *Manager) Ready() bool { return m.ready.Load() }

// Memory reports the latest memory snapshot.
func (m *Manager) Memory() types.MemoryStatus { return memoryStatus(m.mem.Snapshot()) }

// Status summarizes active models, memory and queue depth.
func (m *Manager) Status() types.StatusResponse {
	resp := types.StatusResponse{
		ActiveInferenceModel: m.eng.ActiveModelID(engine.PurposeInference),
		ActiveEmbeddingModel: m.eng.ActiveModelID(engine.PurposeEmbedding),
		Memory:               m.Memory(),
		UptimeSeconds:        int64(time.Since(m.started).Seconds()),
		ServerTimeUnix:       time.Now().Unix(),
	}
	for _, t := range m.queue.Tasks() {
		switch t.Status {
		case tasks.StatusPending:
			resp.PendingTasks++
		case tasks.StatusRunning:
			resp.RunningTasks++
		}
	}
	return resp
}
