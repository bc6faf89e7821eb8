package model

import (
	"sync"
	"time"

	"github.com/ekisa-team/neutts-openai/internal/config"
)

// ModelStatus is the current loading status of a model.
type ModelStatus string

const (
	// ModelStatusUnloaded indicates that the model is on disk but not loaded.
	ModelStatusUnloaded ModelStatus = "unloaded"

	// ModelStatusLoading indicates that the model is being downloaded or loaded.
	ModelStatusLoading ModelStatus = "loading"

	// ModelStatusLoaded indicates that the backend has loaded the model.
	ModelStatusLoaded ModelStatus = "loaded"

	// ModelStatusFailed indicates that the model failed to download or load.
	ModelStatusFailed ModelStatus = "failed"
)

// ModelInstance is one model artifact (backbone or codec) known to the service.
type ModelInstance struct {
	LoadedAt *time.Time
	Source   config.SourceType
	ID       string
	Ref      string
	Path     string
	Status   ModelStatus
	Error    string
	mu       sync.RWMutex
}

// Snapshot is a point-in-time copy of a ModelInstance, safe to serialize.
type Snapshot struct {
	LoadedAt *time.Time        `json:"loaded_at,omitempty"`
	Source   config.SourceType `json:"source,omitempty"`
	ID       string            `json:"id"`
	Ref      string            `json:"ref"`
	Path     string            `json:"path,omitempty"`
	Status   ModelStatus       `json:"status"`
	Error    string            `json:"error,omitempty"`
}

// NewModelInstance creates a new model instance for a spec.
func NewModelInstance(spec *config.ModelSpec) *ModelInstance {
	instance := &ModelInstance{
		ID:     spec.ID,
		Ref:    spec.Ref,
		Status: ModelStatusUnloaded,
	}
	if src, err := spec.GetSource(); err == nil {
		instance.Source = src.Type()
	}

	return instance
}

// SetStatus sets the status of the model instance.
func (mi *ModelInstance) SetStatus(status ModelStatus) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.Status = status
	if status == ModelStatusLoaded {
		now := time.Now()
		mi.LoadedAt = &now
		mi.Error = ""
	}
}

// SetPath records where the model lives locally.
func (mi *ModelInstance) SetPath(path string) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.Path = path
}

// SetError marks the model as failed.
func (mi *ModelInstance) SetError(err error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.Status = ModelStatusFailed
	mi.Error = err.Error()
}

// Snapshot returns a copy of the instance state.
func (mi *ModelInstance) Snapshot() Snapshot {
	mi.mu.RLock()
	defer mi.mu.RUnlock()

	return Snapshot{
		ID:       mi.ID,
		Ref:      mi.Ref,
		Source:   mi.Source,
		Path:     mi.Path,
		Status:   mi.Status,
		Error:    mi.Error,
		LoadedAt: mi.LoadedAt,
	}
}
