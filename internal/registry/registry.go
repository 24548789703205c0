// Package registry provides the keyed stores that track clients, objects,
// connections and channel types, plus the typed change signals they emit.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when an id is re-added with a
	// different instance.
	ErrAlreadyRegistered = errors.New("id already registered")

	// ErrNoSuchEntry is returned by lookups for unknown ids.
	ErrNoSuchEntry = errors.New("no such entry")

	// ErrRegistryFull is returned when a size-limited registry refuses
	// a new entry.
	ErrRegistryFull = errors.New("registry full")
)

// Entry pairs a registered value with its id for change signals.
type Entry[T any] struct {
	ID    string
	Value T
}

// Registry is a keyed store mapping ids to values. It emits added,
// removed and countChanged signals and iterates in sorted id order.
type Registry[T any] struct {
	kind string

	mu      sync.RWMutex
	entries map[string]T

	added        Signal[Entry[T]]
	removed      Signal[Entry[T]]
	countChanged Signal[int]
}

// New creates a registry. The kind names the stored entity in error
// messages ("client", "object", ...).
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]T),
	}
}

// OnAdded subscribes to additions and returns a disposer.
func (r *Registry[T]) OnAdded(fn func(Entry[T])) func() { return r.added.Connect(fn) }

// OnRemoved subscribes to removals and returns a disposer.
func (r *Registry[T]) OnRemoved(fn func(Entry[T])) func() { return r.removed.Connect(fn) }

// OnCountChanged subscribes to size changes and returns a disposer.
func (r *Registry[T]) OnCountChanged(fn func(int)) func() { return r.countChanged.Connect(fn) }

// Add stores a value under an id. Re-adding an existing id fails with
// ErrAlreadyRegistered.
func (r *Registry[T]) Add(id string, value T) error {
	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%s %q: %w", r.kind, id, ErrAlreadyRegistered)
	}
	r.entries[id] = value
	count := len(r.entries)
	r.mu.Unlock()

	r.added.Emit(Entry[T]{ID: id, Value: value})
	r.countChanged.Emit(count)
	return nil
}

// Remove deletes an entry, returning the removed value.
func (r *Registry[T]) Remove(id string) (T, bool) {
	r.mu.Lock()
	value, exists := r.entries[id]
	if exists {
		delete(r.entries, id)
	}
	count := len(r.entries)
	r.mu.Unlock()

	if exists {
		r.removed.Emit(Entry[T]{ID: id, Value: value})
		r.countChanged.Emit(count)
	}
	return value, exists
}

// Get returns the value stored under an id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, exists := r.entries[id]
	return value, exists
}

// Contains reports whether an id is registered.
func (r *Registry[T]) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[id]
	return exists
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns a sorted snapshot of the registered ids.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Values returns a snapshot of the registered values in sorted id order.
func (r *Registry[T]) Values() []T {
	ids := r.IDs()
	out := make([]T, 0, len(ids))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if v, ok := r.entries[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

// FindByID returns the value under an id, optionally filtered by a
// predicate. Misses are reported as ErrNoSuchEntry wrapped with the
// registry kind so handlers can surface a structured reason.
func (r *Registry[T]) FindByID(id string, predicate func(T) bool) (T, error) {
	var zero T
	value, exists := r.Get(id)
	if !exists || (predicate != nil && !predicate(value)) {
		return zero, fmt.Errorf("no such %s: %q: %w", r.kind, id, ErrNoSuchEntry)
	}
	return value, nil
}

// Use adds a value and returns a release function that removes it again.
// The release function is idempotent.
func (r *Registry[T]) Use(id string, value T) (func(), error) {
	if err := r.Add(id, value); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.Remove(id) })
	}, nil
}
