// Package uav implements the UAV-driver dispatch layer: multi-target
// commands are grouped by driver, resolved against the driver's
// registered handlers and fanned back out into per-target outcomes.
package uav

import (
	"context"
	"sync"

	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/registry"
)

// SingleHandler executes a command against one UAV. The result may be a
// plain value, an error, or a commands.Command for asynchronous
// execution with a receipt.
type SingleHandler func(ctx context.Context, uav *model.UAV, body model.Body) (any, error)

// MultiHandler executes a command against a whole group of UAVs owned
// by the same driver. The result is either a map[string]any keyed by
// UAV id, or a single value broadcast to every target in the group.
type MultiHandler func(ctx context.Context, uavs []*model.UAV, body model.Body) (any, error)

// GenericHandler is the per-UAV fallback invoked for command tokens the
// driver did not register explicitly.
type GenericHandler func(ctx context.Context, uav *model.UAV, cmd string, body model.Body) (any, error)

// GenericMultiHandler is the group fallback invoked for command tokens
// the driver did not register explicitly.
type GenericMultiHandler func(ctx context.Context, uavs []*model.UAV, cmd string, body model.Body) (any, error)

// BroadcastHandler emits a signal command once over the driver's
// broadcast medium instead of once per UAV.
type BroadcastHandler func(ctx context.Context, body model.Body) error

// Driver is the server-side face of one vehicle driver. Handlers are
// registered per command token; lookup order during dispatch is
// multi-specific, single-specific, generic-multi, generic.
type Driver struct {
	id string

	mu           sync.RWMutex
	single       map[string]SingleHandler
	multi        map[string]MultiHandler
	broadcast    map[string]BroadcastHandler
	generic      GenericHandler
	genericMulti GenericMultiHandler
}

// NewDriver creates a driver with the given id and no handlers.
func NewDriver(id string) *Driver {
	return &Driver{
		id:        id,
		single:    make(map[string]SingleHandler),
		multi:     make(map[string]MultiHandler),
		broadcast: make(map[string]BroadcastHandler),
	}
}

// ID returns the driver id.
func (d *Driver) ID() string { return d.id }

// RegisterCommand installs a per-UAV handler for a command token.
func (d *Driver) RegisterCommand(cmd string, fn SingleHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.single[cmd] = fn
}

// RegisterMultiCommand installs a group handler for a command token.
// Multi handlers take precedence over single handlers.
func (d *Driver) RegisterMultiCommand(cmd string, fn MultiHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.multi[cmd] = fn
}

// RegisterBroadcastCommand installs the broadcast variant of a signal
// command, used when the request carries a broadcast transport option.
func (d *Driver) RegisterBroadcastCommand(cmd string, fn BroadcastHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcast[cmd] = fn
}

// SetGenericHandler installs the per-UAV fallback for unregistered
// command tokens.
func (d *Driver) SetGenericHandler(fn GenericHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generic = fn
}

// SetGenericMultiHandler installs the group fallback for unregistered
// command tokens.
func (d *Driver) SetGenericMultiHandler(fn GenericMultiHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.genericMulti = fn
}

func (d *Driver) resolve(cmd string) (MultiHandler, SingleHandler, GenericMultiHandler, GenericHandler) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.multi[cmd], d.single[cmd], d.genericMulti, d.generic
}

func (d *Driver) broadcastHandler(cmd string) BroadcastHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.broadcast[cmd]
}

// DriverRegistry tracks the drivers known to the server, keyed by id.
type DriverRegistry struct {
	*registry.Registry[*Driver]
}

// NewDriverRegistry creates an empty driver registry.
func NewDriverRegistry() *DriverRegistry {
	return &DriverRegistry{Registry: registry.New[*Driver]("driver")}
}

// Add registers a driver under its own id.
func (r *DriverRegistry) Add(d *Driver) error {
	return r.Registry.Add(d.ID(), d)
}

// FindByID returns the driver registered under an id.
func (r *DriverRegistry) FindByID(id string) (*Driver, error) {
	return r.Registry.FindByID(id, nil)
}
