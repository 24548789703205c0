package channels

import (
	"fmt"
	"sort"
	"sync"

	"flightworks/gcs/internal/registry"
)

// ClientRegistry tracks connected clients, indexed both by id and by
// channel type so broadcasts can skip transports with no audience.
type ClientRegistry struct {
	types *TypeRegistry

	mu      sync.RWMutex
	clients map[string]*Client
	byType  map[string]map[string]*Client

	added   registry.Signal[*Client]
	removed registry.Signal[*Client]
}

// NewClientRegistry creates a client registry backed by the given
// channel-type catalog.
func NewClientRegistry(types *TypeRegistry) *ClientRegistry {
	return &ClientRegistry{
		types:   types,
		clients: make(map[string]*Client),
		byType:  make(map[string]map[string]*Client),
	}
}

// OnAdded subscribes to client connections and returns a disposer.
func (r *ClientRegistry) OnAdded(fn func(*Client)) func() { return r.added.Connect(fn) }

// OnRemoved subscribes to client disconnections and returns a disposer.
func (r *ClientRegistry) OnRemoved(fn func(*Client)) func() { return r.removed.Connect(fn) }

// Add constructs a channel of the given type via the type registry,
// binds it to a fresh client and stores it.
func (r *ClientRegistry) Add(id, channelType string) (*Client, error) {
	channel, err := r.types.CreateChannel(channelType)
	if err != nil {
		return nil, err
	}
	return r.AddWithChannel(id, channelType, channel)
}

// AddWithChannel stores a client bound to an externally created channel.
// Transports that already own a socket use this path.
func (r *ClientRegistry) AddWithChannel(id, channelType string, channel Channel) (*Client, error) {
	client := NewClient(id, channelType, channel)

	r.mu.Lock()
	if _, exists := r.clients[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("client %q: %w", id, registry.ErrAlreadyRegistered)
	}
	r.clients[id] = client
	if r.byType[channelType] == nil {
		r.byType[channelType] = make(map[string]*Client)
	}
	r.byType[channelType][id] = client
	r.mu.Unlock()

	r.added.Emit(client)
	return client, nil
}

// Remove deregisters a client by id.
func (r *ClientRegistry) Remove(id string) (*Client, bool) {
	r.mu.Lock()
	client, exists := r.clients[id]
	if exists {
		delete(r.clients, id)
		delete(r.byType[client.ChannelType()], id)
		if len(r.byType[client.ChannelType()]) == 0 {
			delete(r.byType, client.ChannelType())
		}
	}
	r.mu.Unlock()

	if exists {
		r.removed.Emit(client)
	}
	return client, exists
}

// Get returns the client registered under an id.
func (r *ClientRegistry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, exists := r.clients[id]
	return client, exists
}

// FindByID returns the client under an id or a structured "no such
// client" error.
func (r *ClientRegistry) FindByID(id string) (*Client, error) {
	client, exists := r.Get(id)
	if !exists {
		return nil, fmt.Errorf("no such client: %q: %w", id, registry.ErrNoSuchEntry)
	}
	return client, nil
}

// Len returns the number of connected clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IDs returns a sorted snapshot of connected client ids.
func (r *ClientRegistry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ClientIDsForChannelType returns the sorted ids of clients connected
// over the given channel type.
func (r *ClientRegistry) ClientIDsForChannelType(channelType string) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byType[channelType]))
	for id := range r.byType[channelType] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ClientsForChannelType returns a snapshot of clients connected over the
// given channel type in sorted id order.
func (r *ClientRegistry) ClientsForChannelType(channelType string) []*Client {
	ids := r.ClientIDsForChannelType(channelType)
	out := make([]*Client, 0, len(ids))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// HasClientsForChannelType reports whether any client is connected over
// the given channel type.
func (r *ClientRegistry) HasClientsForChannelType(channelType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[channelType]) > 0
}
