package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"studycore/internal/chunking"
	"studycore/internal/common/fsutil"
	"studycore/internal/config"
	"studycore/internal/download"
	"studycore/internal/engine"
	"studycore/internal/manager"
	"studycore/internal/memory"
	"studycore/internal/models"
	"studycore/internal/retrieval"
	"studycore/internal/store"
	"studycore/internal/tasks"
)

// app is the fully wired daemon.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	monitor *memory.Monitor
	engine  *engine.Orchestrator
	models  *models.Manager
	store   *store.SQLiteStore
	queue   *tasks.Queue
	manager *manager.Manager
}

func (a *app) Close() error {
	a.queue.Close()
	return a.store.Close()
}

func newMonitor(cfg config.Config, log *zerolog.Logger) *memory.Monitor {
	sampler, err := memory.NewProcfsSampler("")
	if err != nil {
		// the monitor then reports zero memory and every load is refused
		log.Warn().Err(err).Msg("memory sampler unavailable")
	}
	return memory.NewMonitor(memory.Config{Sampler: sampler, Interval: cfg.PollInterval(), Logger: log})
}

func newEngine(cfg config.Config, mon *memory.Monitor, log *zerolog.Logger) *engine.Orchestrator {
	srv := engine.ServerOptions{
		Bin:          cfg.LlamaServer.Bin,
		Host:         cfg.LlamaServer.Host,
		BaseURL:      cfg.LlamaServer.BaseURL,
		ExtraArgs:    cfg.LlamaServer.ExtraArgs,
		ReadyTimeout: cfg.ReadyTimeout(),
		Logger:       log,
	}
	gens := map[engine.EngineKind]engine.GenerationBackend{
		engine.EngineLlamaServer: engine.NewServerGenerationBackend(srv),
	}
	embs := map[engine.EngineKind]engine.EmbeddingBackend{
		engine.EngineLlamaServer: engine.NewServerEmbeddingBackend(srv),
	}
	if engine.LlamaBuilt() {
		lo := engine.LlamaOptions{}
		gens[engine.EngineLlama] = engine.NewLlamaGenerationBackend(lo)
		embs[engine.EngineLlama] = engine.NewLlamaEmbeddingBackend(lo)
	}
	return engine.NewWithConfig(engine.Config{
		Generators: gens,
		Embedders:  embs,
		Memory:     mon,
		Logger:     log,
		Publisher:  engine.NewLogPublisher(*log),
	})
}

// defaultEngine prefers the in-process backend when it was compiled in.
func defaultEngine() engine.EngineKind {
	if engine.LlamaBuilt() {
		return engine.EngineLlama
	}
	return engine.EngineLlamaServer
}

func newModels(cfg config.Config, eng *engine.Orchestrator, mon *memory.Monitor, log *zerolog.Logger) (*models.Manager, error) {
	var catalog []engine.ModelConfig
	if cfg.Catalog != "" {
		path, err := fsutil.ExpandHome(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		if catalog, err = models.LoadCatalog(path); err != nil {
			return nil, err
		}
	}
	mc := models.Config{
		ModelsDir:        cfg.ModelsDir,
		Catalog:          catalog,
		Engine:           eng,
		Downloader:       download.New(download.Options{Logger: log}),
		Memory:           mon,
		Threads:          cfg.Threads,
		DiscoverUnlisted: cfg.DiscoverUnlisted || cfg.Catalog == "",
		DefaultEngine:    defaultEngine(),
		Logger:           log,
	}
	if cfg.BundledDir != "" {
		dir, err := fsutil.ExpandHome(cfg.BundledDir)
		if err != nil {
			return nil, err
		}
		mc.Assets = models.DirAssets(dir)
	}
	return models.New(mc)
}

// build wires every component from cfg. The caller owns Close.
func build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	a.monitor = newMonitor(cfg, &log)
	a.engine = newEngine(cfg, a.monitor, &log)

	var err error
	if a.models, err = newModels(cfg, a.engine, a.monitor, &log); err != nil {
		return nil, fmt.Errorf("models: %w", err)
	}
	dbPath, err := fsutil.ExpandHome(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if a.store, err = store.OpenSQLite(dbPath, &log); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	chunker := chunking.New(chunking.Options{
		TargetTokens: cfg.Chunking.TargetTokens,
		MaxTokens:    cfg.Chunking.MaxTokens,
		OverlapChars: cfg.Chunking.OverlapChars,
		Counter:      a.engine,
		Logger:       &log,
	})
	rag := retrieval.NewRagEngine(retrieval.Config{
		Store:              a.store,
		Embedder:           a.engine,
		Generator:          a.engine,
		Counter:            a.engine,
		VectorWeight:       cfg.Retrieval.VectorWeight,
		BM25Weight:         cfg.Retrieval.BM25Weight,
		NormalizeBM25:      cfg.Retrieval.NormalizeBM25,
		MaxContextTokens:   cfg.Retrieval.MaxContextTokens,
		EmbeddingCacheSize: cfg.Retrieval.EmbeddingCacheSize,
		EmbeddingModelID:   func() string { return a.engine.ActiveModelID(engine.PurposeEmbedding) },
		Logger:             &log,
	})
	a.queue = tasks.New(tasks.Config{Logger: &log})

	a.manager, err = manager.New(manager.Config{
		Engine:         a.engine,
		Models:         a.models,
		Memory:         a.monitor,
		Chunker:        chunker,
		Rag:            rag,
		Store:          a.store,
		Queue:          a.queue,
		TopK:           cfg.Retrieval.TopK,
		Threshold:      cfg.Retrieval.Threshold,
		DefaultModel:   cfg.DefaultModel,
		EmbeddingModel: cfg.EmbeddingModel,
		BaseContext:    ctx,
		Logger:         &log,
	})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}
