// Package clocks tracks the clocks exposed to clients via CLK-LIST and
// CLK-INF: the wall-time system clock plus any clocks registered by
// drivers (show timers, MIDI timecode, ...).
package clocks

import (
	"sync"
	"time"

	"flightworks/gcs/internal/registry"
)

// Clock is a tick source exposed to clients. Ticks count from the epoch
// when one is set, otherwise from an arbitrary origin.
type Clock interface {
	// ClockID returns the registry id of the clock.
	ClockID() string

	// Epoch returns the UNIX timestamp in milliseconds the ticks are
	// anchored to, and whether the clock has an epoch at all.
	Epoch() (int64, bool)

	// Running reports whether the clock is ticking.
	Running() bool

	// Ticks returns the current tick count.
	Ticks() float64

	// TicksPerSecond returns the nominal tick rate.
	TicksPerSecond() float64
}

// JSON renders the CLK-INF status entry of a clock.
func JSON(c Clock) map[string]any {
	entry := map[string]any{
		"id":             c.ClockID(),
		"running":        c.Running(),
		"ticks":          c.Ticks(),
		"ticksPerSecond": c.TicksPerSecond(),
		"timestamp":      time.Now().UnixMilli(),
	}
	if epoch, ok := c.Epoch(); ok {
		entry["epoch"] = epoch
	}
	return entry
}

// SystemClock is the wall-time clock, always running at one tick per
// second since the UNIX epoch.
type SystemClock struct{}

func (SystemClock) ClockID() string         { return "system" }
func (SystemClock) Epoch() (int64, bool)    { return 0, true }
func (SystemClock) Running() bool           { return true }
func (SystemClock) Ticks() float64          { return float64(time.Now().UnixMilli()) / 1000 }
func (SystemClock) TicksPerSecond() float64 { return 1 }

// ManualClock is a start/stoppable clock driven by the server, used for
// show timers and tests.
type ManualClock struct {
	id   string
	rate float64

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	base      float64

	changed registry.Signal[Clock]
}

// NewManualClock creates a stopped clock with the given tick rate.
func NewManualClock(id string, ticksPerSecond float64) *ManualClock {
	if ticksPerSecond <= 0 {
		ticksPerSecond = 1
	}
	return &ManualClock{id: id, rate: ticksPerSecond}
}

func (c *ManualClock) ClockID() string         { return c.id }
func (c *ManualClock) Epoch() (int64, bool)    { return 0, false }
func (c *ManualClock) TicksPerSecond() float64 { return c.rate }

// Running reports whether the clock is ticking.
func (c *ManualClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Ticks returns the accumulated tick count.
func (c *ManualClock) Ticks() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return c.base
	}
	return c.base + time.Since(c.startedAt).Seconds()*c.rate
}

// Start begins ticking. Starting a running clock is a no-op.
func (c *ManualClock) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.changed.Emit(c)
}

// Stop freezes the tick count. Stopping a stopped clock is a no-op.
func (c *ManualClock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.base += time.Since(c.startedAt).Seconds() * c.rate
	c.running = false
	c.mu.Unlock()

	c.changed.Emit(c)
}

// Reset stops the clock and rewinds it to zero ticks.
func (c *ManualClock) Reset() {
	c.mu.Lock()
	c.running = false
	c.base = 0
	c.mu.Unlock()

	c.changed.Emit(c)
}

// OnChanged subscribes to start/stop/reset transitions.
func (c *ManualClock) OnChanged(fn func(Clock)) func() { return c.changed.Connect(fn) }

// Registry tracks the clocks of the server. The system clock is always
// present.
type Registry struct {
	*registry.Registry[Clock]

	changed registry.Signal[Clock]
}

// NewRegistry creates a clock registry seeded with the system clock.
func NewRegistry() *Registry {
	r := &Registry{Registry: registry.New[Clock]("clock")}
	_ = r.Add(SystemClock{})
	return r
}

// Add registers a clock under its own id. Manual clocks additionally
// forward their change signal through the registry.
func (r *Registry) Add(c Clock) error {
	if err := r.Registry.Add(c.ClockID(), c); err != nil {
		return err
	}
	if mc, ok := c.(*ManualClock); ok {
		mc.OnChanged(func(clock Clock) { r.changed.Emit(clock) })
	}
	return nil
}

// OnChanged subscribes to clock state transitions across the registry.
func (r *Registry) OnChanged(fn func(Clock)) func() { return r.changed.Connect(fn) }

// StatusEntries renders the CLK-LIST status map of every clock.
func (r *Registry) StatusEntries() map[string]any {
	out := make(map[string]any)
	for _, c := range r.Values() {
		out[c.ClockID()] = JSON(c)
	}
	return out
}
