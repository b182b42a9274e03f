package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/loader"
)

// ToyModel is the model id served when no model path is configured.
const ToyModel = "toy"

type EngineProvider interface {
	WithEngine(ctx context.Context, modelID string, fn func(engine *inference.Engine, defaults inference.GenDefaults) error) error
}

type EngineProviderConfig struct {
	DefaultModelPath string
	ModelsPath       string
	// Options sizes every engine the provider loads.
	Options inference.Options
	Loader  loader.Loader
	// PromptCacheBytes gives each engine its own prompt cache when positive.
	PromptCacheBytes int
}

type CachedEngineProvider struct {
	cfg   EngineProviderConfig
	load  func(path string, opts inference.Options) (*loader.LoadResult, error)
	mu    sync.Mutex
	cache map[string]*engineEntry
}

type engineEntry struct {
	engine   *inference.Engine
	defaults inference.GenDefaults
	mu       sync.Mutex
}

const envModelsDir = "SPINDLE_MODELS_DIR"

func NewCachedEngineProvider(cfg EngineProviderConfig) *CachedEngineProvider {
	return &CachedEngineProvider{
		cfg:   cfg,
		load:  cfg.Loader.Load,
		cache: make(map[string]*engineEntry),
	}
}

// WithEngine runs fn with the engine for modelID, one caller at a time per model.
func (p *CachedEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(engine *inference.Engine, defaults inference.GenDefaults) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	entry, err := p.getOrLoad(path)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(entry.engine, entry.defaults)
}

func (p *CachedEngineProvider) getOrLoad(path string) (*engineEntry, error) {
	p.mu.Lock()
	entry, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return entry, nil
	}

	opts := p.cfg.Options
	if p.cfg.PromptCacheBytes > 0 {
		opts.PromptCache = inference.NewPromptCache(p.cfg.PromptCacheBytes)
	}
	if opts.ModelName == "" {
		opts.ModelName = modelID(path)
	}
	result, err := p.load(path, opts)
	if err != nil {
		return nil, err
	}
	newEntry := &engineEntry{
		engine:   result.Engine,
		defaults: result.GenerationDefaults,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		_ = result.Engine.Close()
		return existing, nil
	}
	p.cache[path] = newEntry
	return newEntry, nil
}

// ListModels returns the ids a request may name.
func (p *CachedEngineProvider) ListModels() ([]string, error) {
	var ids []string
	if p.cfg.DefaultModelPath != "" {
		ids = append(ids, modelID(p.cfg.DefaultModelPath))
	}
	if dir := p.modelsDir(); dir != "" {
		models, err := discoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			if id := modelID(m); !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		ids = append(ids, ToyModel)
	}
	return ids, nil
}

// Close releases every loaded engine.
func (p *CachedEngineProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for path, entry := range p.cache {
		entry.mu.Lock()
		errs = append(errs, entry.engine.Close())
		entry.mu.Unlock()
		delete(p.cache, path)
	}
	return errors.Join(errs...)
}

// resolveModelPath returns "" for the toy model.
func (p *CachedEngineProvider) resolveModelPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == ToyModel {
		return "", nil
	}
	if id != "" {
		if p.cfg.DefaultModelPath != "" && id == modelID(p.cfg.DefaultModelPath) {
			return filepath.Clean(p.cfg.DefaultModelPath), nil
		}
		if looksLikePath(id) {
			return filepath.Clean(id), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", fmt.Errorf("%w: %q (no models path configured)", ErrModelNotFound, id)
		}
		if resolved := resolveInDir(modelsDir, id); resolved != "" {
			return resolved, nil
		}
		return "", fmt.Errorf("%w: %q in %s", ErrModelNotFound, id, modelsDir)
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", nil
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", nil
	case 1:
		return models[0], nil
	}
	return "", newInvalidRequest(fmt.Sprintf("multiple models found in %s; specify model", modelsDir))
}

func (p *CachedEngineProvider) modelsDir() string {
	if dir := strings.TrimSpace(p.cfg.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

func modelID(path string) string {
	if path == "" {
		return ToyModel
	}
	return strings.TrimSuffix(filepath.Base(path), ".onnx")
}

func looksLikePath(v string) bool {
	if strings.ContainsRune(v, filepath.Separator) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(v), ".onnx")
}

func resolveInDir(dir, name string) string {
	for _, cand := range []string{filepath.Join(dir, name), filepath.Join(dir, name+".onnx")} {
		if isModel(cand) {
			return cand
		}
	}
	return ""
}

// isModel accepts a .onnx file or a directory holding model.onnx.
func isModel(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	if st.IsDir() {
		_, err := os.Stat(filepath.Join(path, "model.onnx"))
		return err == nil
	}
	return strings.HasSuffix(strings.ToLower(path), ".onnx")
}

func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		path := filepath.Join(dir, e.Name())
		if isModel(path) {
			models = append(models, path)
		}
	}
	return models, nil
}
