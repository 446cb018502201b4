// Package models owns the model catalog and the files behind it: discovery
// at startup, downloads, deletion and loading through the engine with an
// optional fallback model.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"studycore/internal/common/fsutil"
	"studycore/internal/download"
	"studycore/internal/engine"
)

// minModelBytes is the smallest file accepted as a real model.
const minModelBytes = 10 * 1024 * 1024

const maxDefaultThreads = 4

// Lifecycle is the part of the engine the manager drives.
type Lifecycle interface {
	RegisterModel(cfg engine.ModelConfig)
	State(id string) engine.ModelState
	SetState(id string, s engine.ModelState)
	LoadModel(ctx context.Context, cfg engine.ModelConfig, path string, opts engine.LoadOptions) error
	UnloadModel(cfg engine.ModelConfig) error
	ActiveModelID(p engine.Purpose) string
}

// Downloader fetches a URL into a local path.
type Downloader interface {
	Download(ctx context.Context, url, dest string, onProgress func(download.Progress)) error
}

// DeviceMemory reports total physical RAM.
type DeviceMemory interface {
	TotalMB() int64
}

// Config configures a Manager.
type Config struct {
	ModelsDir  string
	Catalog    []engine.ModelConfig
	Engine     Lifecycle
	Downloader Downloader
	Assets     BundledAssets
	Memory     DeviceMemory
	// Threads overrides the inference thread count.
	Threads int
	// DiscoverUnlisted adds *.gguf files found in ModelsDir that the catalog
	// does not name, using DefaultEngine.
	DiscoverUnlisted bool
	DefaultEngine    engine.EngineKind
	Logger           *zerolog.Logger
}

// Manager resolves model files and coordinates downloads and loads.
type Manager struct {
	dir       string
	eng       Lifecycle
	dl        Downloader
	assets    BundledAssets
	mem       DeviceMemory
	threads   int
	discover  bool
	defEngine engine.EngineKind
	log       zerolog.Logger

	mu          sync.RWMutex
	catalog     map[string]engine.ModelConfig
	downloading map[string]bool
}

// New constructs a Manager. Call Initialize before use.
func New(cfg Config) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, errors.New("models: engine is required")
	}
	dir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, errors.New("models: models dir is required")
	}
	m := &Manager{
		dir:         dir,
		eng:         cfg.Engine,
		dl:          cfg.Downloader,
		assets:      cfg.Assets,
		mem:         cfg.Memory,
		threads:     cfg.Threads,
		discover:    cfg.DiscoverUnlisted,
		defEngine:   cfg.DefaultEngine,
		log:         zerolog.Nop(),
		catalog:     make(map[string]engine.ModelConfig),
		downloading: make(map[string]bool),
	}
	if m.threads <= 0 {
		m.threads = DefaultThreads()
	}
	if m.defEngine == "" {
		m.defEngine = engine.EngineLlama
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "models").Logger()
	}
	cat := Normalize(cfg.Catalog, m.defEngine)
	if err := Validate(cat); err != nil {
		return nil, err
	}
	for _, c := range cat {
		m.catalog[c.ID] = c
	}
	return m, nil
}

// DefaultThreads is NumCPU-1, at least 1 and at most 4.
func DefaultThreads() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	if n > maxDefaultThreads {
		n = maxDefaultThreads
	}
	return n
}

// Initialize registers every catalog model with the engine and classifies
// it: a local file of plausible size means Downloaded; otherwise a bundled
// copy is installed when one ships with the app; otherwise it stays
// NotDownloaded.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	if m.discover {
		found, err := ScanDir(m.dir, m.defEngine)
		if err != nil {
			m.log.Warn().Err(err).Msg("scan models dir")
		}
		m.mu.Lock()
		for _, c := range found {
			if _, ok := m.catalog[c.ID]; !ok {
				m.catalog[c.ID] = c
			}
		}
		m.mu.Unlock()
	}

	for _, c := range m.Catalog() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.eng.RegisterModel(c)
		path := m.ModelPath(c)
		if fsutil.PlausibleFile(path, minModelBytes) {
			m.eng.SetState(c.ID, engine.Downloaded())
			continue
		}
		if c.Bundled && m.assets != nil {
			if err := m.installBundled(c.FileName, path); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					m.log.Warn().Err(err).Str("model", c.ID).Msg("bundled model not installed")
				}
				continue
			}
			if c.TokenizerFile != "" {
				_ = m.installBundled(c.TokenizerFile, filepath.Join(m.dir, c.TokenizerFile))
			}
			m.eng.SetState(c.ID, engine.Downloaded())
			m.log.Info().Str("model", c.ID).Msg("installed bundled model")
		}
	}
	return nil
}

func (m *Manager) installBundled(name, dest string) error {
	src, err := m.assets.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// Catalog returns every known model sorted by id.
func (m *Manager) Catalog() []engine.ModelConfig {
	m.mu.RLock()
	out := make([]engine.ModelConfig, 0, len(m.catalog))
	for _, c := range m.catalog {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Model looks up a catalog entry.
func (m *Manager) Model(id string) (engine.ModelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.catalog[id]
	if !ok {
		return engine.ModelConfig{}, engine.ErrModelNotFound(id)
	}
	return c, nil
}

// ModelPath is where the model file lives locally.
func (m *Manager) ModelPath(cfg engine.ModelConfig) string {
	return filepath.Join(m.dir, cfg.FileName)
}

func (m *Manager) tokenizerPath(cfg engine.ModelConfig) string {
	if cfg.TokenizerFile == "" {
		return ""
	}
	p := filepath.Join(m.dir, cfg.TokenizerFile)
	if !fsutil.PathExists(p) {
		return ""
	}
	return p
}

// CanRunModel is a static capacity check: device RAM against the model's
// minimum. Unknown device memory is treated as sufficient.
func (m *Manager) CanRunModel(cfg engine.ModelConfig) bool {
	if cfg.MinRAMMB <= 0 || m.mem == nil {
		return true
	}
	total := m.mem.TotalMB()
	if total <= 0 {
		return true
	}
	return total >= cfg.MinRAMMB
}

// Download fetches the model (and its tokenizer, if any) and tracks progress
// in the engine state map.
func (m *Manager) Download(ctx context.Context, id string, onProgress func(download.Progress)) error {
	cfg, err := m.Model(id)
	if err != nil {
		return err
	}
	if m.dl == nil {
		return engine.ErrDependencyUnavailable("no downloader configured")
	}
	if cfg.URL() == "" {
		return &download.DownloadError{Reason: "model has no download url"}
	}
	m.mu.Lock()
	if m.downloading[id] {
		m.mu.Unlock()
		return fmt.Errorf("model %s is already downloading", id)
	}
	m.downloading[id] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.downloading, id)
		m.mu.Unlock()
	}()

	m.eng.SetState(id, engine.Downloading(0))
	m.log.Info().Str("model", id).Str("size", humanize.Bytes(uint64(cfg.FileSizeMB)*1024*1024)).Msg("download start")
	err = m.dl.Download(ctx, cfg.URL(), m.ModelPath(cfg), func(p download.Progress) {
		m.eng.SetState(id, engine.Downloading(p.Fraction()))
		if onProgress != nil {
			onProgress(p)
		}
	})
	if err == nil && cfg.TokenizerFile != "" {
		err = m.dl.Download(ctx, joinURL(cfg.BaseURL, cfg.TokenizerFile), filepath.Join(m.dir, cfg.TokenizerFile), nil)
	}
	if err != nil {
		m.eng.SetState(id, engine.DownloadFailed(err.Error()))
		return err
	}
	m.eng.SetState(id, engine.Downloaded())
	return nil
}

func joinURL(base, name string) string {
	return (engine.ModelConfig{BaseURL: base, FileName: name}).URL()
}

// LoadModel loads id through the engine. When that fails and the model names
// a fallback whose file is available, the fallback is loaded instead. The id
// that ended up loaded is returned.
func (m *Manager) LoadModel(ctx context.Context, id string) (string, error) {
	cfg, err := m.Model(id)
	if err != nil {
		return "", err
	}
	err = m.load(ctx, cfg)
	if err == nil {
		return id, nil
	}
	if cfg.FallbackModelID == "" {
		return "", err
	}
	fb, ferr := m.Model(cfg.FallbackModelID)
	if ferr != nil || !m.available(fb) {
		return "", err
	}
	m.log.Warn().Err(err).Str("model", id).Str("fallback", fb.ID).Msg("load failed; trying fallback")
	if ferr := m.load(ctx, fb); ferr != nil {
		return "", fmt.Errorf("%w (fallback %s: %v)", err, fb.ID, ferr)
	}
	return fb.ID, nil
}

func (m *Manager) available(cfg engine.ModelConfig) bool {
	return m.eng.State(cfg.ID).IsAvailable() && fsutil.PathExists(m.ModelPath(cfg))
}

func (m *Manager) load(ctx context.Context, cfg engine.ModelConfig) error {
	path := m.ModelPath(cfg)
	if !fsutil.PathExists(path) {
		m.eng.SetState(cfg.ID, engine.NotDownloaded())
		return engine.ErrModelNotFound(cfg.ID)
	}
	return m.eng.LoadModel(ctx, cfg, path, engine.LoadOptions{
		Threads:       m.threads,
		TokenizerPath: m.tokenizerPath(cfg),
	})
}

// UnloadModel unloads id if loaded.
func (m *Manager) UnloadModel(id string) error {
	cfg, err := m.Model(id)
	if err != nil {
		return err
	}
	return m.eng.UnloadModel(cfg)
}

// DeleteModel unloads the model when active, removes its files and resets
// its state to NotDownloaded.
func (m *Manager) DeleteModel(id string) error {
	cfg, err := m.Model(id)
	if err != nil {
		return err
	}
	if m.eng.ActiveModelID(cfg.Purpose) == id {
		if err := m.eng.UnloadModel(cfg); err != nil {
			m.log.Warn().Err(err).Str("model", id).Msg("unload before delete")
		}
	}
	paths := []string{m.ModelPath(cfg), m.ModelPath(cfg) + ".part"}
	if cfg.TokenizerFile != "" {
		paths = append(paths, filepath.Join(m.dir, cfg.TokenizerFile))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	m.eng.SetState(id, engine.NotDownloaded())
	m.log.Info().Str("model", id).Msg("deleted")
	return nil
}
