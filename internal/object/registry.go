// Package object tracks the model objects (UAVs, beacons, docks) known
// to the server and the drivers responsible for them.
package object

import (
	"fmt"
	"sort"
	"sync"

	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/registry"
)

// Registry stores model objects by id with a secondary index by type
// tag. A configurable size limit refuses additions with ErrRegistryFull
// without emitting the added signal.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]model.Object
	byType    map[model.ObjectType]map[string]struct{}
	sizeLimit int

	added   registry.Signal[model.Object]
	removed registry.Signal[model.Object]
}

// NewRegistry creates an object registry. A sizeLimit of zero means
// unlimited.
func NewRegistry(sizeLimit int) *Registry {
	return &Registry{
		entries:   make(map[string]model.Object),
		byType:    make(map[model.ObjectType]map[string]struct{}),
		sizeLimit: sizeLimit,
	}
}

// OnAdded subscribes to object additions and returns a disposer.
func (r *Registry) OnAdded(fn func(model.Object)) func() { return r.added.Connect(fn) }

// OnRemoved subscribes to object removals and returns a disposer.
func (r *Registry) OnRemoved(fn func(model.Object)) func() { return r.removed.Connect(fn) }

// Add registers an object. Duplicate ids fail with ErrAlreadyRegistered;
// a full registry fails with ErrRegistryFull.
func (r *Registry) Add(obj model.Object) error {
	id := obj.ObjectID()

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("object %q: %w", id, registry.ErrAlreadyRegistered)
	}
	if r.sizeLimit > 0 && len(r.entries) >= r.sizeLimit {
		r.mu.Unlock()
		return fmt.Errorf("object %q: %w", id, registry.ErrRegistryFull)
	}
	r.entries[id] = obj
	tag := obj.ObjectType()
	if r.byType[tag] == nil {
		r.byType[tag] = make(map[string]struct{})
	}
	r.byType[tag][id] = struct{}{}
	r.mu.Unlock()

	r.added.Emit(obj)
	return nil
}

// Remove deletes an object by id.
func (r *Registry) Remove(id string) (model.Object, bool) {
	r.mu.Lock()
	obj, exists := r.entries[id]
	if exists {
		delete(r.entries, id)
		tag := obj.ObjectType()
		delete(r.byType[tag], id)
		if len(r.byType[tag]) == 0 {
			delete(r.byType, tag)
		}
	}
	r.mu.Unlock()

	if exists {
		r.removed.Emit(obj)
	}
	return obj, exists
}

// Get returns the object stored under an id.
func (r *Registry) Get(id string) (model.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, exists := r.entries[id]
	return obj, exists
}

// FindByID returns the object under an id or a structured "no such
// object" error.
func (r *Registry) FindByID(id string) (model.Object, error) {
	obj, exists := r.Get(id)
	if !exists {
		return nil, fmt.Errorf("no such object: %q: %w", id, registry.ErrNoSuchEntry)
	}
	return obj, nil
}

// FindUAVByID returns the UAV under an id; non-UAV objects count as
// misses.
func (r *Registry) FindUAVByID(id string) (*model.UAV, error) {
	obj, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}
	uav, ok := obj.(*model.UAV)
	if !ok {
		return nil, fmt.Errorf("no such UAV: %q: %w", id, registry.ErrNoSuchEntry)
	}
	return uav, nil
}

// Contains reports whether an id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[id]
	return exists
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns a sorted snapshot of all object ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// IDsByType returns a sorted snapshot of ids carrying the given tag.
func (r *Registry) IDsByType(tag model.ObjectType) []string {
	return r.IDsByTypes([]model.ObjectType{tag})
}

// IDsByTypes returns a sorted snapshot of ids carrying any of the tags.
func (r *Registry) IDsByTypes(tags []model.ObjectType) []string {
	r.mu.RLock()
	ids := make([]string, 0)
	for _, tag := range tags {
		for id := range r.byType[tag] {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
