package registry

import "sync"

// Signal is a typed observer list. Connect registers an observer and
// returns a disposer; Emit invokes observers synchronously in
// registration order. Disposers are idempotent.
type Signal[T any] struct {
	mu        sync.Mutex
	nextID    int
	observers []observer[T]
}

type observer[T any] struct {
	id int
	fn func(T)
}

// Connect registers an observer and returns a function that removes it.
func (s *Signal[T]) Connect(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer[T]{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, obs := range s.observers {
			if obs.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every connected observer with the given value. Observers
// run outside the signal lock so they may connect or disconnect freely.
func (s *Signal[T]) Emit(value T) {
	s.mu.Lock()
	snapshot := make([]observer[T], len(s.observers))
	copy(snapshot, s.observers)
	s.mu.Unlock()

	for _, obs := range snapshot {
		obs.fn(value)
	}
}
