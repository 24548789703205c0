package hub

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"flightworks/gcs/internal/model"
)

// DefaultLimiterDelay is the coalescing window of the batching limiters
// and the settle window of the connection-status limiter.
const DefaultLimiterDelay = 100 * time.Millisecond

// BatchingLimiter aggregates update requests into a deduplicated bundle
// and dispatches one notification per delay window. Used for UAV-INF
// (ids of updated UAVs) and SYS-MSG (log entries).
type BatchingLimiter[T comparable] struct {
	delay   time.Duration
	factory func(items []T) *model.Message

	bundle *bundler[T]
}

// NewBatchingLimiter creates a batching limiter. The factory turns one
// drained bundle into a single notification; returning nil skips the
// dispatch.
func NewBatchingLimiter[T comparable](delay time.Duration, factory func(items []T) *model.Message) *BatchingLimiter[T] {
	if delay <= 0 {
		delay = DefaultLimiterDelay
	}
	return &BatchingLimiter[T]{
		delay:   delay,
		factory: factory,
		bundle:  newBundler[T](),
	}
}

// AddRequest adds one item or a slice of items to the pending bundle.
func (l *BatchingLimiter[T]) AddRequest(req any) {
	switch v := req.(type) {
	case T:
		l.bundle.add(v)
	case []T:
		for _, item := range v {
			l.bundle.add(item)
		}
	}
}

// Run drains the bundle once per delay window. The pacer guarantees the
// inter-dispatch interval stays at or above the delay even when the
// bundle never empties.
func (l *BatchingLimiter[T]) Run(ctx context.Context, dispatch Dispatcher) error {
	pace := rate.NewLimiter(rate.Every(l.delay), 1)
	// Consume the initial burst token so the first window is honored.
	pace.Allow()

	for {
		if err := l.bundle.waitNonEmpty(ctx); err != nil {
			return err
		}

		// Coalesce everything arriving within the window.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.delay):
		}
		if err := pace.Wait(ctx); err != nil {
			return err
		}

		items := l.bundle.drain()
		if len(items) == 0 {
			continue
		}
		dispatch(l.factory(items))
	}
}

// bundler is a write-many/read-one deduplicating set drained only by the
// limiter's own task.
type bundler[T comparable] struct {
	mu      chan struct{} // 1-slot semaphore doubling as the lock
	pending map[T]struct{}
	kick    chan struct{}
}

func newBundler[T comparable]() *bundler[T] {
	b := &bundler[T]{
		mu:      make(chan struct{}, 1),
		pending: make(map[T]struct{}),
		kick:    make(chan struct{}, 1),
	}
	b.mu <- struct{}{}
	return b
}

func (b *bundler[T]) add(item T) {
	<-b.mu
	b.pending[item] = struct{}{}
	b.mu <- struct{}{}

	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *bundler[T]) drain() []T {
	<-b.mu
	items := make([]T, 0, len(b.pending))
	for item := range b.pending {
		items = append(items, item)
	}
	b.pending = make(map[T]struct{})
	b.mu <- struct{}{}
	return items
}

func (b *bundler[T]) waitNonEmpty(ctx context.Context) error {
	for {
		<-b.mu
		nonEmpty := len(b.pending) > 0
		b.mu <- struct{}{}
		if nonEmpty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.kick:
		}
	}
}

// ConnStatusRequest reports one observed connection state transition to
// the connection-status limiter.
type ConnStatusRequest struct {
	ID  string
	Old model.ConnectionState
	New model.ConnectionState
}

// ConnectionStatusLimiter dispatches CONN-INF immediately for stable
// states and debounces transitioning states: a transition that settles
// back, within the settle delay, to a stable state younger than the
// stable window is suppressed.
type ConnectionStatusLimiter struct {
	factory      func(connectionID string) *model.Message
	settleDelay  time.Duration
	stableWindow time.Duration

	events chan connStatusEvent
}

type connStatusEvent struct {
	req      *ConnStatusRequest
	settleID string
}

type connStatusState struct {
	lastStable   model.ConnectionState
	lastStableAt time.Time
	hasStable    bool
	pending      bool
	latest       model.ConnectionState
}

// NewConnectionStatusLimiter creates a connection-status limiter with
// the default 100 ms settle delay and 200 ms stable window.
func NewConnectionStatusLimiter(factory func(connectionID string) *model.Message) *ConnectionStatusLimiter {
	return &ConnectionStatusLimiter{
		factory:      factory,
		settleDelay:  DefaultLimiterDelay,
		stableWindow: 2 * DefaultLimiterDelay,
		events:       make(chan connStatusEvent, 256),
	}
}

// AddRequest feeds one state transition into the limiter.
func (l *ConnectionStatusLimiter) AddRequest(req any) {
	var r ConnStatusRequest
	switch v := req.(type) {
	case ConnStatusRequest:
		r = v
	case *ConnStatusRequest:
		r = *v
	default:
		return
	}
	select {
	case l.events <- connStatusEvent{req: &r}:
	default:
		// Over-capacity transitions are dropped; the next stable state
		// still gets through.
	}
}

// Run consumes transition events until the context is cancelled. All
// per-connection state lives in this goroutine.
func (l *ConnectionStatusLimiter) Run(ctx context.Context, dispatch Dispatcher) error {
	states := make(map[string]*connStatusState)

	entry := func(id string) *connStatusState {
		s := states[id]
		if s == nil {
			s = &connStatusState{}
			states[id] = s
		}
		return s
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.events:
			if ev.req != nil {
				l.handleRequest(entry(ev.req.ID), ev.req, dispatch)
				continue
			}
			// Settle check: still transitioning after the settle delay.
			if s := states[ev.settleID]; s != nil && s.pending {
				s.pending = false
				dispatch(l.factory(ev.settleID))
			}
		}
	}
}

func (l *ConnectionStatusLimiter) handleRequest(s *connStatusState, req *ConnStatusRequest, dispatch Dispatcher) {
	s.latest = req.New

	if req.New.IsStable() {
		suppress := s.pending && s.hasStable &&
			req.New == s.lastStable &&
			time.Since(s.lastStableAt) < l.stableWindow
		s.pending = false
		if !suppress {
			dispatch(l.factory(req.ID))
		}
		s.lastStable = req.New
		s.lastStableAt = time.Now()
		s.hasStable = true
		return
	}

	if !s.pending {
		s.pending = true
		id := req.ID
		time.AfterFunc(l.settleDelay, func() {
			select {
			case l.events <- connStatusEvent{settleID: id}:
			default:
			}
		})
	}
}
