package model

import (
	"slices"
	"strings"
	"sync"
)

// Registry stores model instances.
type Registry struct {
	models map[string]*ModelInstance
	mu     sync.RWMutex
}

// NewRegistry creates a new model registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*ModelInstance),
	}
}

// Set adds a model instance to the registry.
func (r *Registry) Set(instance *ModelInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[instance.ID] = instance
}

// Get returns the model instance with the given ID.
func (r *Registry) Get(id string) (*ModelInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.models[id]
	return instance, ok
}

// List returns all model instances ordered by ID.
func (r *Registry) List() []*ModelInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*ModelInstance, 0, len(r.models))
	for _, instance := range r.models {
		instances = append(instances, instance)
	}

	slices.SortFunc(instances, func(a, b *ModelInstance) int {
		return strings.Compare(a.ID, b.ID)
	})

	return instances
}

// Snapshots returns a copy of every instance, ordered by ID.
func (r *Registry) Snapshots() []Snapshot {
	instances := r.List()

	snapshots := make([]Snapshot, 0, len(instances))
	for _, instance := range instances {
		snapshots = append(snapshots, instance.Snapshot())
	}

	return snapshots
}

// Delete deletes the model instance with the given ID.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.models, id)
}

// Lookup returns a snapshot of the model with the given ID.
func (r *Registry) Lookup(id string) (Snapshot, error) {
	instance, ok := r.Get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	return instance.Snapshot(), nil
}
