package manager

import (
	"context"

	"studycore/internal/engine"
	"studycore/internal/httpapi"
	"studycore/pkg/types"
)

// ListModels merges the catalog with live state.
func (m *Manager) ListModels() []types.Model {
	cat := m.models.Catalog()
	out := make([]types.Model, 0, len(cat))
	for _, c := range cat {
		out = append(out, modelView(c, m.eng.State(c.ID), m.eng.ActiveModelID(c.Purpose) == c.ID, m.models.CanRunModel(c)))
	}
	return out
}

// StartDownload starts a background download of id. Progress is visible
// through the model state.
func (m *Manager) StartDownload(id string) error {
	cfg, err := m.models.Model(id)
	if err != nil {
		return err
	}
	if cfg.URL() == "" {
		return httpapi.BadRequest("model " + id + " has no download url")
	}
	switch m.eng.State(id).Kind {
	case engine.StateDownloading:
		return httpapi.Conflict("model " + id + " is already downloading")
	case engine.StateLoading, engine.StateReady:
		return httpapi.Conflict("model " + id + " is in use")
	}
	go func() {
		if err := m.models.Download(m.ctx, id, nil); err != nil {
			m.log.Error().Err(err).Str("model", id).Msg("download failed")
			return
		}
		m.log.Info().Str("model", id).Msg("download complete")
	}()
	return nil
}

// LoadModel loads id, possibly falling back to its fallback model.
func (m *Manager) LoadModel(ctx context.Context, id string) (types.LoadResponse, error) {
	loaded, err := m.models.LoadModel(ctx, id)
	if err != nil {
		return types.LoadResponse{}, err
	}
	return types.LoadResponse{Requested: id, Loaded: loaded}, nil
}

func (m *Manager) UnloadModel(id string) error { return m.models.UnloadModel(id) }

func (m *Manager) DeleteModel(id string) error {
	if m.eng.State(id).Kind == engine.StateDownloading {
		return httpapi.Conflict("model " + id + " is downloading")
	}
	return m.models.DeleteModel(id)
}
