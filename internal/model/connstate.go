package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a connection state change would
// skip forward in the lifecycle.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// ConnectionState is the lifecycle state of a managed connection.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText makes states render as their lowercase names in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsStable reports whether the state is a resting state rather than a
// transition in progress.
func (s ConnectionState) IsStable() bool {
	return s == ConnectionConnected || s == ConnectionDisconnected
}

// CanTransitionTo reports whether the lifecycle permits moving from s to
// next. The cycle is strictly DISCONNECTED -> CONNECTING -> CONNECTED ->
// DISCONNECTING -> DISCONNECTED; stepping backwards to DISCONNECTED is
// always allowed (a link may drop at any point), skipping forward is not.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	if s == next {
		return true
	}
	switch s {
	case ConnectionDisconnected:
		return next == ConnectionConnecting
	case ConnectionConnecting:
		return next == ConnectionConnected || next == ConnectionDisconnected
	case ConnectionConnected:
		return next == ConnectionDisconnecting || next == ConnectionDisconnected
	case ConnectionDisconnecting:
		return next == ConnectionDisconnected
	default:
		return false
	}
}
