package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"studycore/internal/common/fsutil"
	"studycore/internal/engine"
)

// catalogFile is the on-disk shape of a model catalog.
type catalogFile struct {
	Models []engine.ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// LoadCatalog reads a model catalog by extension (.yaml/.yml, .json, .toml)
// and validates it.
func LoadCatalog(path string) ([]engine.ModelConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("empty catalog path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &f)
	case ".json":
		err = json.Unmarshal(b, &f)
	case ".toml":
		err = toml.Unmarshal(b, &f)
	default:
		return nil, fmt.Errorf("unsupported catalog extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", p, err)
	}
	cat := Normalize(f.Models, engine.EngineLlama)
	if err := Validate(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// Normalize fills defaults: file name from id, display name from id and
// engine from defEngine.
func Normalize(cat []engine.ModelConfig, defEngine engine.EngineKind) []engine.ModelConfig {
	out := make([]engine.ModelConfig, len(cat))
	for i, c := range cat {
		if c.FileName == "" {
			c.FileName = c.ID + ".gguf"
		}
		if c.DisplayName == "" {
			c.DisplayName = c.ID
		}
		if c.Engine == "" {
			c.Engine = defEngine
		}
		if c.Purpose == "" {
			c.Purpose = engine.PurposeInference
		}
		out[i] = c
	}
	return out
}

// Validate checks ids are unique, purposes are known and fallbacks point at
// another catalog model of the same purpose.
func Validate(cat []engine.ModelConfig) error {
	byID := make(map[string]engine.ModelConfig, len(cat))
	for _, c := range cat {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("catalog entry with empty id")
		}
		if _, dup := byID[c.ID]; dup {
			return fmt.Errorf("duplicate model id %q", c.ID)
		}
		switch c.Purpose {
		case engine.PurposeInference, engine.PurposeEmbedding:
		default:
			return fmt.Errorf("model %q: unknown purpose %q", c.ID, c.Purpose)
		}
		byID[c.ID] = c
	}
	for _, c := range cat {
		if c.FallbackModelID == "" {
			continue
		}
		fb, ok := byID[c.FallbackModelID]
		if !ok {
			return fmt.Errorf("model %q: fallback %q not in catalog", c.ID, c.FallbackModelID)
		}
		if fb.ID == c.ID {
			return fmt.Errorf("model %q: fallback points at itself", c.ID)
		}
		if fb.Purpose != c.Purpose {
			return fmt.Errorf("model %q: fallback %q has purpose %s", c.ID, fb.ID, fb.Purpose)
		}
	}
	return nil
}

// ScanDir lists *.gguf files in dir as inference models with the file name
// (minus extension) as id. Sizes come from the file system.
func ScanDir(dir string, defEngine engine.EngineKind) ([]engine.ModelConfig, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []engine.ModelConfig
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		out = append(out, engine.ModelConfig{
			ID:          id,
			DisplayName: id,
			FileName:    name,
			FileSizeMB:  info.Size() / (1024 * 1024),
			Purpose:     engine.PurposeInference,
			Engine:      defEngine,
		})
	}
	return out, nil
}
