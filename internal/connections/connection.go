// Package connections tracks the transport links of the server (radio,
// serial, IP) and supervises them so they are reopened after failures.
package connections

import (
	"context"
	"fmt"
	"sync"

	"flightworks/gcs/internal/model"
	"flightworks/gcs/internal/registry"
)

// Connection is one physical or logical link managed by the registry.
// Implementations report lifecycle changes through their state signal;
// the supervisor reacts to unexpected disconnects.
type Connection interface {
	Open(ctx context.Context) error
	Close() error
	State() model.ConnectionState
	OnStateChanged(fn func(old, new model.ConnectionState)) func()
}

// StateChange describes one observed transition of a connection.
type StateChange struct {
	Old model.ConnectionState
	New model.ConnectionState
}

// Base provides the state machine shared by connection implementations.
// Embed it and call SetState from Open/Close.
type Base struct {
	mu    sync.Mutex
	state model.ConnectionState

	stateChanged registry.Signal[StateChange]
}

// State returns the current lifecycle state.
func (b *Base) State() model.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnStateChanged subscribes to transitions and returns a disposer.
func (b *Base) OnStateChanged(fn func(old, new model.ConnectionState)) func() {
	return b.stateChanged.Connect(func(c StateChange) { fn(c.Old, c.New) })
}

// SetState performs a lifecycle transition. Skipping forward in the
// cycle is refused with ErrInvalidTransition.
func (b *Base) SetState(next model.ConnectionState) error {
	b.mu.Lock()
	old := b.state
	if old == next {
		b.mu.Unlock()
		return nil
	}
	if !old.CanTransitionTo(next) {
		b.mu.Unlock()
		return fmt.Errorf("%s -> %s: %w", old, next, model.ErrInvalidTransition)
	}
	b.state = next
	b.mu.Unlock()

	b.stateChanged.Emit(StateChange{Old: old, New: next})
	return nil
}
