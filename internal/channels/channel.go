// Package channels defines the communication channel abstraction that
// connects clients to the message hub, the catalog of channel types, and
// the registry of connected clients.
package channels

import (
	"context"
	"errors"
	"fmt"

	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/registry"
)

// ErrChannelClosed is returned (or wrapped) by Send on a channel whose
// peer is gone. The hub treats it as "client gone" and drops the message.
var ErrChannelClosed = errors.New("communication channel closed")

// Channel is a bidirectional endpoint bound 1:1 to a client. Send must
// serialize concurrent writes internally so frames never interleave.
type Channel interface {
	Send(ctx context.Context, msg *model.Message) error
	Close() error
}

// Factory creates a fresh channel for an inbound client of some type.
type Factory func() (Channel, error)

// Broadcaster sends one pre-encoded envelope to every connected client
// of a channel type in a single pass.
type Broadcaster func(msg *model.Message, encoded []byte)

// TypeDescriptor describes one kind of transport a client may connect
// over. Descriptors are immutable once registered.
type TypeDescriptor struct {
	ID      string
	Factory Factory

	// Broadcaster, when set, lets the hub fan a notification out to all
	// clients of this type with a single call.
	Broadcaster Broadcaster

	// SSDPLocation returns the service URI to advertise to the given
	// peer address, or "" when the type is not advertised.
	SSDPLocation func(peer string) string
}

// TypeRegistry is the catalog of channel types.
type TypeRegistry struct {
	reg *registry.Registry[*TypeDescriptor]
}

// NewTypeRegistry creates an empty channel-type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{reg: registry.New[*TypeDescriptor]("channel type")}
}

// Add registers a channel type descriptor.
func (r *TypeRegistry) Add(desc *TypeDescriptor) error {
	if desc.ID == "" {
		return errors.New("channel type needs an id")
	}
	if desc.Factory == nil {
		return fmt.Errorf("channel type %q needs a factory", desc.ID)
	}
	return r.reg.Add(desc.ID, desc)
}

// Remove deregisters a channel type.
func (r *TypeRegistry) Remove(id string) (*TypeDescriptor, bool) {
	return r.reg.Remove(id)
}

// Get returns the descriptor registered under an id.
func (r *TypeRegistry) Get(id string) (*TypeDescriptor, bool) {
	return r.reg.Get(id)
}

// IDs returns the sorted ids of all registered channel types.
func (r *TypeRegistry) IDs() []string { return r.reg.IDs() }

// CreateChannel instantiates a channel of the given type via its factory.
func (r *TypeRegistry) CreateChannel(typeID string) (Channel, error) {
	desc, ok := r.reg.Get(typeID)
	if !ok {
		return nil, fmt.Errorf("no such channel type: %q: %w", typeID, registry.ErrNoSuchEntry)
	}
	return desc.Factory()
}

// OnAdded subscribes to channel type additions.
func (r *TypeRegistry) OnAdded(fn func(registry.Entry[*TypeDescriptor])) func() {
	return r.reg.OnAdded(fn)
}

// OnRemoved subscribes to channel type removals.
func (r *TypeRegistry) OnRemoved(fn func(registry.Entry[*TypeDescriptor])) func() {
	return r.reg.OnRemoved(fn)
}
