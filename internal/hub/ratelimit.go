package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"flightworks/gcs/internal/model"
	"flightworks/gcs/pkg/logging"
)

// Dispatcher hands a coalesced notification to the outbound path.
type Dispatcher func(msg *model.Message)

// RateLimiter coalesces a stream of update requests for one message tag
// into a bounded stream of aggregated notifications.
type RateLimiter interface {
	AddRequest(req any)
	Run(ctx context.Context, dispatch Dispatcher) error
}

// ErrRegistryRunning is returned when a limiter is added after the
// registry started.
var ErrRegistryRunning = errors.New("rate limiter registry is already running")

// LimiterRegistry maps message tags (UAV-INF, CONN-INF, SYS-MSG, ...) to
// their rate limiters.
type LimiterRegistry struct {
	logger logging.Logger

	mu       sync.Mutex
	limiters map[string]RateLimiter
	running  bool
}

// NewLimiterRegistry creates an empty rate-limiter registry.
func NewLimiterRegistry(logger logging.Logger) *LimiterRegistry {
	return &LimiterRegistry{
		logger:   logger,
		limiters: make(map[string]RateLimiter),
	}
}

// Register installs a limiter for a tag. Limiters cannot be added once
// the registry is running.
func (r *LimiterRegistry) Register(tag string, limiter RateLimiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRegistryRunning
	}
	if _, exists := r.limiters[tag]; exists {
		return fmt.Errorf("rate limiter for %q already registered", tag)
	}
	r.limiters[tag] = limiter
	return nil
}

// AddRequest feeds one update request into the limiter of a tag.
// Requests for unknown tags are dropped with a warning.
func (r *LimiterRegistry) AddRequest(tag string, req any) {
	r.mu.Lock()
	limiter := r.limiters[tag]
	r.mu.Unlock()

	if limiter == nil {
		r.logger.WithField("tag", tag).Warn("No rate limiter registered for tag")
		return
	}
	limiter.AddRequest(req)
}

// Run starts every registered limiter and blocks until the context is
// cancelled. Dispatched notifications are enqueued as broadcasts on the
// hub.
func (r *LimiterRegistry) Run(ctx context.Context, h *Hub) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRegistryRunning
	}
	r.running = true
	limiters := make(map[string]RateLimiter, len(r.limiters))
	for tag, l := range r.limiters {
		limiters[tag] = l
	}
	r.mu.Unlock()

	dispatch := func(msg *model.Message) {
		if msg == nil {
			return
		}
		h.EnqueueBroadcast(msg)
	}

	g, ctx := errgroup.WithContext(ctx)
	for tag, limiter := range limiters {
		tag, limiter := tag, limiter
		g.Go(func() error {
			if err := limiter.Run(ctx, dispatch); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("rate limiter %q: %w", tag, err)
			}
			return nil
		})
	}
	return g.Wait()
}
