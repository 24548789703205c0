package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStateStability(t *testing.T) {
	assert.True(t, ConnectionConnected.IsStable())
	assert.True(t, ConnectionDisconnected.IsStable())
	assert.False(t, ConnectionConnecting.IsStable())
	assert.False(t, ConnectionDisconnecting.IsStable())
}

func TestConnectionStateTransitions(t *testing.T) {
	cases := []struct {
		from, to ConnectionState
		ok       bool
	}{
		{ConnectionDisconnected, ConnectionConnecting, true},
		{ConnectionConnecting, ConnectionConnected, true},
		{ConnectionConnected, ConnectionDisconnecting, true},
		{ConnectionDisconnecting, ConnectionDisconnected, true},

		// Any state may drop straight back to disconnected.
		{ConnectionConnecting, ConnectionDisconnected, true},
		{ConnectionConnected, ConnectionDisconnected, true},

		// Forward skips are refused.
		{ConnectionDisconnected, ConnectionConnected, false},
		{ConnectionConnecting, ConnectionDisconnecting, false},
		{ConnectionDisconnected, ConnectionDisconnecting, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestConnectionStateMarshalText(t *testing.T) {
	text, err := ConnectionConnected.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "connected", string(text))
}
