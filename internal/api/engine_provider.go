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

	"github.com/samcharles93/sumi/internal/ocr"
)

// ErrModelNotFound reports a model ID that resolved to no file.
var ErrModelNotFound = errors.New("model not found")

// EngineProvider hands callers a loaded engine for a model ID.
type EngineProvider interface {
	WithEngine(ctx context.Context, modelID string, fn func(eng ocr.Engine) error) error
}

// EngineProviderConfig configures a CachedEngineProvider.
type EngineProviderConfig struct {
	// DefaultModelPath is used when a request names no model.
	DefaultModelPath string
	// ModelsPath is the directory searched when a request names a
	// model by ID rather than by path. Empty falls back to
	// $SUMI_MODELS_DIR.
	ModelsPath string
	// Loader opens resolved model paths.
	Loader ocr.Loader
}

const envSumiModelsDir = "SUMI_MODELS_DIR"

// modelExts are the extensions recognized as loadable models, in
// resolution order.
var modelExts = []string{".scf", ".onnx"}

// CachedEngineProvider loads engines on first use and keeps them open
// for the life of the process. Loaded engines are safe for concurrent
// Recognize calls, so one cached engine serves all handlers.
type CachedEngineProvider struct {
	cfg  EngineProviderConfig
	load func(path string) (ocr.Engine, error)

	mu    sync.Mutex
	cache map[string]ocr.Engine // keyed by cleaned model path
}

func NewCachedEngineProvider(cfg EngineProviderConfig) *CachedEngineProvider {
	return &CachedEngineProvider{
		cfg: cfg,
		load: func(path string) (ocr.Engine, error) {
			return cfg.Loader.Load(path)
		},
		cache: make(map[string]ocr.Engine),
	}
}

// WithEngine resolves modelID, loads or reuses its engine, and runs fn
// against it.
func (p *CachedEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(eng ocr.Engine) error) error {
	eng, err := p.engineFor(modelID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(eng)
}

// Preload resolves and loads modelID so the first request does not pay
// the model load. An empty modelID preloads the default model.
func (p *CachedEngineProvider) Preload(modelID string) error {
	_, err := p.engineFor(modelID)
	return err
}

// LoadedInfo reports the engines currently held in the cache, ordered
// by model path.
func (p *CachedEngineProvider) LoadedInfo() []ocr.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	paths := make([]string, 0, len(p.cache))
	for path := range p.cache {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	infos := make([]ocr.Info, 0, len(paths))
	for _, path := range paths {
		infos = append(infos, p.cache[path].Info())
	}
	return infos
}

// ListModels reports the model IDs this provider can resolve: the
// default model, then the contents of the models directory.
func (p *CachedEngineProvider) ListModels() ([]string, error) {
	var ids []string
	if def := strings.TrimSpace(p.cfg.DefaultModelPath); def != "" {
		ids = append(ids, modelID(def))
	}
	dir := p.modelsDir()
	if dir == "" {
		return ids, nil
	}
	paths, err := discoverModels(dir)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if id := modelID(path); !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close releases every cached engine.
func (p *CachedEngineProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for path, eng := range p.cache {
		if err := eng.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(p.cache, path)
	}
	return errors.Join(errs...)
}

func (p *CachedEngineProvider) engineFor(modelID string) (ocr.Engine, error) {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return nil, err
	}
	return p.getOrLoad(path)
}

func (p *CachedEngineProvider) getOrLoad(path string) (ocr.Engine, error) {
	p.mu.Lock()
	eng, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return eng, nil
	}

	loaded, err := p.load(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		// Lost a load race; keep the first engine.
		_ = loaded.Close()
		return existing, nil
	}
	p.cache[path] = loaded
	return loaded, nil
}

func (p *CachedEngineProvider) resolveModelPath(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		// Anything with a separator is a path; a bare name, with or
		// without extension, resolves against the models directory.
		if strings.ContainsRune(modelID, filepath.Separator) {
			return filepath.Clean(modelID), nil
		}
		dir := p.modelsDir()
		if dir == "" {
			return "", fmt.Errorf("models-path is required to resolve model %q", modelID)
		}
		if resolved := resolveInDir(dir, modelID); resolved != "" {
			return resolved, nil
		}
		return "", fmt.Errorf("%w: %q in %s", ErrModelNotFound, modelID, dir)
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	dir := p.modelsDir()
	if dir == "" {
		return "", errors.New("model is required")
	}
	models, err := discoverModels(dir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("%w: no model files in %s", ErrModelNotFound, dir)
	default:
		return "", fmt.Errorf("multiple models found in %s; specify model", dir)
	}
}

func (p *CachedEngineProvider) modelsDir() string {
	if dir := strings.TrimSpace(p.cfg.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envSumiModelsDir))
}

func modelID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func hasModelExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range modelExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func resolveInDir(dir, name string) string {
	if cand := filepath.Join(dir, name); fileExists(cand) {
		return cand
	}
	if hasModelExt(name) {
		return ""
	}
	for _, ext := range modelExts {
		if cand := filepath.Join(dir, name+ext); fileExists(cand) {
			return cand
		}
	}
	return ""
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
	var models []string
	for _, e := range ents {
		if e.IsDir() || !hasModelExt(e.Name()) {
			continue
		}
		models = append(models, filepath.Join(dir, e.Name()))
	}
	return models, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
