package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const insufficientMemoryReason = "Insufficient memory"

// LoadModel brings cfg into memory on its backend and makes it the active
// model for its purpose. Concurrent calls serialize on a single lock. Any
// model already serving the same purpose is unloaded first and reverts to
// Downloaded. Failures are returned and recorded as LoadFailed.
func (o *Orchestrator) LoadModel(ctx context.Context, cfg ModelConfig, path string, opts LoadOptions) error {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()

	o.mu.Lock()
	o.purposes[cfg.ID] = cfg.Purpose
	if o.activeIDLocked(cfg.Purpose) == cfg.ID && o.states[cfg.ID].Kind == StateReady {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	logger := o.log.With().Str("model", cfg.ID).Str("purpose", string(cfg.Purpose)).Str("engine", string(cfg.Engine)).Logger()

	if o.memory != nil && !o.memory.CanAllocateMB(cfg.FileSizeMB) {
		o.setState(cfg.ID, LoadFailed(insufficientMemoryReason))
		loadsTotal.WithLabelValues(string(cfg.Purpose), "insufficient_memory").Inc()
		o.publisher.Publish(Event{Name: "load_failed", ModelID: cfg.ID, Fields: map[string]any{"reason": insufficientMemoryReason}})
		logger.Warn().Int64("required_mb", cfg.FileSizeMB).Msg("load refused by memory gate")
		return ErrInsufficientMemory(cfg.ID, cfg.FileSizeMB)
	}

	o.setState(cfg.ID, Loading())
	o.publisher.Publish(Event{Name: "load_start", ModelID: cfg.ID, Fields: map[string]any{"path": path}})

	var (
		load   func(context.Context, LoadRequest) error
		exists bool
	)
	o.mu.RLock()
	switch cfg.Purpose {
	case PurposeInference:
		var b GenerationBackend
		b, exists = o.generators[cfg.Engine]
		if exists {
			load = b.Load
		}
	case PurposeEmbedding:
		var b EmbeddingBackend
		b, exists = o.embedders[cfg.Engine]
		if exists {
			load = b.Load
		}
	}
	o.mu.RUnlock()
	if !exists {
		reason := fmt.Sprintf("no %s backend registered for engine %q", cfg.Purpose, cfg.Engine)
		o.setState(cfg.ID, LoadFailed(reason))
		loadsTotal.WithLabelValues(string(cfg.Purpose), "no_backend").Inc()
		o.publisher.Publish(Event{Name: "load_failed", ModelID: cfg.ID, Fields: map[string]any{"reason": reason}})
		return ErrLoadFailed(cfg.ID, reason)
	}

	if prev := o.ActiveModelID(cfg.Purpose); prev != "" {
		logger.Info().Str("previous", prev).Msg("unloading active model before load")
		o.unloadActiveLocked(cfg.Purpose, "replaced")
	}

	start := time.Now()
	err := load(ctx, LoadRequest{
		ModelID:       cfg.ID,
		Path:          path,
		Threads:       opts.Threads,
		ContextLength: cfg.ContextLength,
		TokenizerPath: opts.TokenizerPath,
	})
	if err != nil {
		o.setState(cfg.ID, LoadFailed(err.Error()))
		loadsTotal.WithLabelValues(string(cfg.Purpose), "error").Inc()
		o.publisher.Publish(Event{Name: "load_failed", ModelID: cfg.ID, Fields: map[string]any{"reason": err.Error()}})
		logger.Error().Err(err).Msg("model load failed")
		return ErrLoadFailed(cfg.ID, err.Error())
	}

	o.mu.Lock()
	o.states[cfg.ID] = Ready()
	if cfg.Purpose == PurposeEmbedding {
		o.activeEmbed = cfg.Engine
		o.activeEmbeddingID = cfg.ID
	} else {
		o.activeGen = cfg.Engine
		o.activeInferenceID = cfg.ID
	}
	o.mu.Unlock()
	loadsTotal.WithLabelValues(string(cfg.Purpose), "ok").Inc()
	o.publisher.Publish(Event{Name: "load_done", ModelID: cfg.ID, Fields: map[string]any{"dur_ms": time.Since(start).Milliseconds()}})
	logger.Info().Dur("dur", time.Since(start)).Msg("model ready")
	return nil
}

// UnloadModel unloads cfg if it is the active model for its purpose and marks
// it Downloaded. Models that were never loaded keep their state.
func (o *Orchestrator) UnloadModel(cfg ModelConfig) error {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()

	if o.ActiveModelID(cfg.Purpose) == cfg.ID {
		return o.unloadActiveLocked(cfg.Purpose, "requested")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.states[cfg.ID].Kind {
	case StateLoading, StateReady, StateLoadFailed:
		o.states[cfg.ID] = Downloaded()
	}
	return nil
}

// HandleMemoryPressure unloads the active embedding model and keeps the
// generation model, so an ongoing conversation survives memory pressure.
func (o *Orchestrator) HandleMemoryPressure() {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()
	if o.ActiveModelID(PurposeEmbedding) == "" {
		return
	}
	o.log.Warn().Msg("memory pressure: unloading embedding model")
	_ = o.unloadActiveLocked(PurposeEmbedding, "memory_pressure")
}

// HandleMemoryPressureAsync schedules HandleMemoryPressure without blocking
// the caller. Calls made while one is pending are dropped.
func (o *Orchestrator) HandleMemoryPressureAsync() {
	if !o.pressurePending.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer o.pressurePending.Store(false)
		o.HandleMemoryPressure()
	}()
}

// unloadActiveLocked unloads the active model of purpose p. loadMu must be held.
func (o *Orchestrator) unloadActiveLocked(p Purpose, reason string) error {
	o.mu.Lock()
	var (
		id     string
		unload func() error
	)
	if p == PurposeEmbedding {
		id = o.activeEmbeddingID
		if b := o.embedders[o.activeEmbed]; b != nil {
			unload = b.Unload
		}
		o.activeEmbeddingID, o.activeEmbed = "", ""
	} else {
		id = o.activeInferenceID
		if b := o.generators[o.activeGen]; b != nil {
			unload = b.Unload
		}
		o.activeInferenceID, o.activeGen = "", ""
	}
	o.mu.Unlock()
	if id == "" {
		return nil
	}

	var err error
	if unload != nil {
		err = unload()
	}
	o.setState(id, Downloaded())
	unloadsTotal.WithLabelValues(string(p), reason).Inc()
	o.publisher.Publish(Event{Name: "unload_done", ModelID: id, Fields: map[string]any{"reason": reason}})
	if err != nil {
		o.log.Warn().Err(err).Str("model", id).Msg("backend unload reported error")
	}
	return err
}

func (o *Orchestrator) activeIDLocked(p Purpose) string {
	if p == PurposeEmbedding {
		return o.activeEmbeddingID
	}
	return o.activeInferenceID
}

// UnloadAll unloads both active models. Used at shutdown so backend
// subprocesses do not outlive the daemon.
func (o *Orchestrator) UnloadAll() error {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()
	return errors.Join(
		o.unloadActiveLocked(PurposeInference, "shutdown"),
		o.unloadActiveLocked(PurposeEmbedding, "shutdown"),
	)
}
