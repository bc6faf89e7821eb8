package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ekisa-team/neutts-openai/internal/config"
	"github.com/ekisa-team/neutts-openai/internal/config/source"
	"github.com/ekisa-team/neutts-openai/internal/xfs"
)

type downloaderFunc func(ctx context.Context, sourceType config.SourceType, storage config.StorageConfig) (source.Downloader, error)

// Manager resolves the configured model artifacts to local paths and keeps
// their status.
type Manager struct {
	registry   *Registry
	downloader downloaderFunc
	mu         sync.Mutex
}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{
		registry:   NewRegistry(),
		downloader: source.GetDownloader,
	}
}

// Registry returns the model registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Prepare makes every model the configured backend needs available and
// returns the path or reference the backend should load, keyed by model ID.
// Models without a source are passed through by reference.
func (m *Manager) Prepare(ctx context.Context, cfg *config.Config) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	specs := cfg.Model.Specs()
	paths := make(map[string]string, len(specs))
	wanted := make(map[string]bool, len(specs))

	modelsPath := resolveModelsPath(cfg)

	for i := range specs {
		spec := &specs[i]
		wanted[spec.ID] = true

		instance := NewModelInstance(spec)
		instance.SetStatus(ModelStatusLoading)
		m.registry.Set(instance)

		modelSource, err := spec.GetSource()
		if errors.Is(err, config.ErrNoSource) {
			instance.SetPath(spec.Ref)
			instance.SetStatus(ModelStatusUnloaded)
			paths[spec.ID] = spec.Ref
			slog.Info("Model passed to backend by reference", "model_id", spec.ID, "ref", spec.Ref)
			continue
		}

		path, err := m.resolve(ctx, cfg, spec, modelSource, modelsPath)
		if err != nil {
			instance.SetError(err)
			return nil, fmt.Errorf("failed to prepare model %s: %w", spec.ID, err)
		}

		instance.SetPath(path)
		instance.SetStatus(ModelStatusUnloaded)
		paths[spec.ID] = path

		slog.Info("Model ready on disk", "model_id", spec.ID, "path", path)
	}

	for _, instance := range m.registry.List() {
		if !wanted[instance.ID] {
			m.registry.Delete(instance.ID)
			slog.Info("Model removed from registry", "model_id", instance.ID)
		}
	}

	return paths, nil
}

func (m *Manager) resolve(ctx context.Context, cfg *config.Config, spec *config.ModelSpec, modelSource config.ModelSource, modelsPath string) (string, error) {
	if modelSource.Type() == config.SourceTypeHuggingFace {
		if err := source.EnsureModelsDirectory(modelsPath); err != nil {
			return "", fmt.Errorf("failed to prepare models directory %s: %w", modelsPath, err)
		}
	}

	downloader, err := m.downloader(ctx, modelSource.Type(), cfg.Storage)
	if err != nil {
		return "", fmt.Errorf("failed to get downloader: %w", err)
	}

	path, _, err := downloader.Download(ctx, spec, modelsPath)
	if err != nil {
		return "", err
	}

	return path, nil
}

// MarkLoaded records that the backend has loaded every registered model.
func (m *Manager) MarkLoaded() {
	for _, instance := range m.registry.List() {
		instance.SetStatus(ModelStatusLoaded)
	}
}

// MarkFailed records a backend load failure on every registered model.
func (m *Manager) MarkFailed(err error) {
	for _, instance := range m.registry.List() {
		instance.SetError(err)
	}
}

// resolveModelsPath returns the path to the models directory: the configured
// directory (MODELS_DIR) or the per-user default.
func resolveModelsPath(cfg *config.Config) string {
	if cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(config.DefaultModelsPath())
}
