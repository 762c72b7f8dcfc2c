package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/strand-ml/strand/internal/generate"
)

// Engine is the slice of the generation engine the API needs. Both the
// causal and the encoder-decoder engines satisfy it.
type Engine interface {
	Generate(ctx context.Context, prompt string, opts generate.Options) (*generate.Result, error)
	Close() error
}

// Loader opens the model stored in dir and returns a ready engine.
type Loader func(dir string) (Engine, error)

// Provider hands a request an engine for the model it named.
type Provider interface {
	WithEngine(ctx context.Context, modelID string, fn func(engine Engine) error) error
}

// ProviderConfig configures a CachedProvider.
type ProviderConfig struct {
	// DefaultModelDir is used when a request names no model.
	DefaultModelDir string

	// ModelsDir is scanned to resolve bare model names. Falls back to
	// STRAND_MODELS_DIR.
	ModelsDir string

	Loader Loader
}

const envModelsDir = "STRAND_MODELS_DIR"

// CachedProvider loads each model directory once and reuses the engine
// across requests. Every Generate call owns its own decode state, so a
// shared engine only needs the executor to tolerate concurrent passes.
type CachedProvider struct {
	cfg   ProviderConfig
	mu    sync.Mutex
	cache map[string]Engine
}

func NewCachedProvider(cfg ProviderConfig) *CachedProvider {
	return &CachedProvider{
		cfg:   cfg,
		cache: make(map[string]Engine),
	}
}

func (p *CachedProvider) WithEngine(ctx context.Context, modelID string, fn func(engine Engine) error) error {
	dir, err := p.resolveModelDir(modelID)
	if err != nil {
		return err
	}
	engine, err := p.getOrLoad(dir)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(engine)
}

// Close releases every cached engine.
func (p *CachedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for dir, engine := range p.cache {
		if cerr := engine.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dir, cerr)
		}
		delete(p.cache, dir)
	}
	return err
}

func (p *CachedProvider) getOrLoad(dir string) (Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if engine, ok := p.cache[dir]; ok {
		return engine, nil
	}
	if p.cfg.Loader == nil {
		return nil, fmt.Errorf("no model loader configured")
	}
	engine, err := p.cfg.Loader(dir)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", dir, err)
	}
	p.cache[dir] = engine
	return engine, nil
}

func (p *CachedProvider) resolveModelDir(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if looksLikePath(modelID) {
			return filepath.Clean(modelID), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", newNotFound(fmt.Sprintf("models dir is required to resolve model %q", modelID))
		}
		candidate := filepath.Join(modelsDir, modelID)
		if isModelDir(candidate) {
			return candidate, nil
		}
		return "", newNotFound(fmt.Sprintf("model %q not found in %s", modelID, modelsDir))
	}

	if p.cfg.DefaultModelDir != "" {
		return filepath.Clean(p.cfg.DefaultModelDir), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", newNotFound("model is required")
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return filepath.Join(modelsDir, models[0]), nil
	case 0:
		return "", newNotFound(fmt.Sprintf("no models found in %s", modelsDir))
	default:
		return "", newNotFound(fmt.Sprintf("multiple models in %s, name one of: %s", modelsDir, strings.Join(models, ", ")))
	}
}

func (p *CachedProvider) modelsDir() string {
	if p.cfg.ModelsDir != "" {
		return p.cfg.ModelsDir
	}
	return os.Getenv(envModelsDir)
}

// ListModels reports the model names available under the models dir.
func (p *CachedProvider) ListModels() ([]string, error) {
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return nil, nil
	}
	return discoverModels(modelsDir)
}

func looksLikePath(s string) bool {
	return strings.ContainsRune(s, os.PathSeparator) ||
		strings.HasPrefix(s, ".") ||
		filepath.IsAbs(s)
}

// isModelDir checks for the one file every exported model directory has.
func isModelDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "tokenizer.json"))
	return err == nil && !info.IsDir()
}

func discoverModels(modelsDir string) ([]string, error) {
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("read models dir %s: %w", modelsDir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if isModelDir(filepath.Join(modelsDir, e.Name())) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
