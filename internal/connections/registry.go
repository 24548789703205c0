package connections

import (
	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/registry"
)

// Entry is one registered connection with its descriptive metadata.
type Entry struct {
	ID          string
	Connection  Connection
	Purpose     string
	Description string

	dispose func()
}

// State returns the lifecycle state of the underlying connection.
func (e *Entry) State() model.ConnectionState { return e.Connection.State() }

// JSON returns the CONN-INF wire representation of the entry.
func (e *Entry) JSON() model.Body {
	return model.Body{
		"id":          e.ID,
		"purpose":     e.Purpose,
		"description": e.Description,
		"status":      e.State().String(),
	}
}

// StateChangeEvent is re-emitted by the registry for every transition of
// any registered connection.
type StateChangeEvent struct {
	ID  string
	Old model.ConnectionState
	New model.ConnectionState
}

// Registry tracks connection entries and re-emits their state changes.
type Registry struct {
	reg *registry.Registry[*Entry]

	connectionStateChanged registry.Signal[StateChangeEvent]
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{reg: registry.New[*Entry]("connection")}
}

// OnConnectionStateChanged subscribes to transitions of any registered
// connection and returns a disposer.
func (r *Registry) OnConnectionStateChanged(fn func(StateChangeEvent)) func() {
	return r.connectionStateChanged.Connect(fn)
}

// OnAdded subscribes to entry additions.
func (r *Registry) OnAdded(fn func(registry.Entry[*Entry])) func() { return r.reg.OnAdded(fn) }

// OnRemoved subscribes to entry removals.
func (r *Registry) OnRemoved(fn func(registry.Entry[*Entry])) func() { return r.reg.OnRemoved(fn) }

// Add registers a connection under an id, wiring its state signal into
// the registry-level signal.
func (r *Registry) Add(id string, conn Connection, purpose, description string) (*Entry, error) {
	entry := &Entry{ID: id, Connection: conn, Purpose: purpose, Description: description}
	entry.dispose = conn.OnStateChanged(func(old, new model.ConnectionState) {
		r.connectionStateChanged.Emit(StateChangeEvent{ID: id, Old: old, New: new})
	})
	if err := r.reg.Add(id, entry); err != nil {
		entry.dispose()
		return nil, err
	}
	return entry, nil
}

// Remove deregisters a connection entry.
func (r *Registry) Remove(id string) (*Entry, bool) {
	entry, ok := r.reg.Remove(id)
	if ok && entry.dispose != nil {
		entry.dispose()
	}
	return entry, ok
}

// Get returns the entry registered under an id.
func (r *Registry) Get(id string) (*Entry, bool) { return r.reg.Get(id) }

// FindByID returns the entry under an id or a structured error.
func (r *Registry) FindByID(id string) (*Entry, error) { return r.reg.FindByID(id, nil) }

// IDs returns the sorted ids of all registered connections.
func (r *Registry) IDs() []string { return r.reg.IDs() }

// Entries returns a snapshot of all entries in sorted id order.
func (r *Registry) Entries() []*Entry { return r.reg.Values() }
