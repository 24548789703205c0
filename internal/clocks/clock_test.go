package clocks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightworks/gcs/internal/registry"
)

func TestSystemClock(t *testing.T) {
	var c SystemClock
	assert.Equal(t, "system", c.ClockID())
	assert.True(t, c.Running())
	assert.Equal(t, float64(1), c.TicksPerSecond())

	epoch, ok := c.Epoch()
	assert.True(t, ok)
	assert.Equal(t, int64(0), epoch)

	// Ticks track wall time in seconds.
	assert.InDelta(t, float64(time.Now().UnixMilli())/1000, c.Ticks(), 1)
}

func TestManualClockLifecycle(t *testing.T) {
	c := NewManualClock("showtimer", 10)
	assert.False(t, c.Running())
	assert.Zero(t, c.Ticks())
	_, hasEpoch := c.Epoch()
	assert.False(t, hasEpoch)

	c.Start()
	assert.True(t, c.Running())
	time.Sleep(50 * time.Millisecond)
	require.Greater(t, c.Ticks(), 0.0)

	c.Stop()
	frozen := c.Ticks()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, c.Ticks(), "stopped clock must not advance")

	// Restart accumulates on top of the frozen count.
	c.Start()
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, c.Ticks(), frozen)

	c.Reset()
	assert.False(t, c.Running())
	assert.Zero(t, c.Ticks())
}

func TestManualClockChangeSignal(t *testing.T) {
	c := NewManualClock("showtimer", 1)
	changes := 0
	c.OnChanged(func(Clock) { changes++ })

	c.Start()
	c.Start() // no-op
	c.Stop()
	c.Stop() // no-op
	c.Reset()
	assert.Equal(t, 3, changes)
}

func TestRegistrySeedsSystemClock(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"system"}, r.IDs())

	assert.ErrorIs(t, r.Add(SystemClock{}), registry.ErrAlreadyRegistered)
}

func TestRegistryForwardsManualClockChanges(t *testing.T) {
	r := NewRegistry()
	c := NewManualClock("showtimer", 1)
	require.NoError(t, r.Add(c))

	var changed []string
	r.OnChanged(func(clock Clock) { changed = append(changed, clock.ClockID()) })

	c.Start()
	c.Stop()
	assert.Equal(t, []string{"showtimer", "showtimer"}, changed)
}

func TestStatusEntries(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewManualClock("showtimer", 25)))

	entries := r.StatusEntries()
	require.Contains(t, entries, "system")
	require.Contains(t, entries, "showtimer")

	system := entries["system"].(map[string]any)
	assert.Equal(t, true, system["running"])
	assert.Contains(t, system, "epoch")

	timer := entries["showtimer"].(map[string]any)
	assert.Equal(t, false, timer["running"])
	assert.Equal(t, float64(25), timer["ticksPerSecond"])
	assert.NotContains(t, timer, "epoch")
}
