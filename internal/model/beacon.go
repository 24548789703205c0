package model

import "sync"

// Beacon is a stationary positioning marker tracked alongside UAVs.
type Beacon struct {
	id string

	mu       sync.RWMutex
	position Position
	active   bool
}

// NewBeacon creates a beacon with the given id.
func NewBeacon(id string) *Beacon {
	return &Beacon{id: id}
}

// ObjectID implements Object.
func (b *Beacon) ObjectID() string { return b.id }

// ObjectType implements Object.
func (b *Beacon) ObjectType() ObjectType { return ObjectTypeBeacon }

// Position returns the last known position of the beacon.
func (b *Beacon) Position() Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.position
}

// Active reports whether the beacon is currently transmitting.
func (b *Beacon) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// Update records a new position and activity flag.
func (b *Beacon) Update(pos Position, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = pos
	b.active = active
}

// Dock is a docking or charging station for UAVs.
type Dock struct {
	id string

	mu       sync.RWMutex
	position Position
}

// NewDock creates a dock with the given id.
func NewDock(id string) *Dock {
	return &Dock{id: id}
}

// ObjectID implements Object.
func (d *Dock) ObjectID() string { return d.id }

// ObjectType implements Object.
func (d *Dock) ObjectType() ObjectType { return ObjectTypeDock }

// Position returns the surveyed position of the dock.
func (d *Dock) Position() Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.position
}

// SetPosition records the surveyed position of the dock.
func (d *Dock) SetPosition(pos Position) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = pos
}
