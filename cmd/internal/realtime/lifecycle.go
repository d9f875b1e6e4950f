package realtime

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a connection is moved to a state it cannot reach.
var ErrIllegalTransition = errors.New("illegal connection state transition")

// State is a connection lifecycle state.
type State uint8

const (
	StateConnecting State = iota
	StateAuthenticated
	StateRegistered
	StateActive
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// canTransition lists the edges of the lifecycle. Connecting and Authenticated may close
// directly: the former on auth failure, the latter when the upgrade fails after auth.
func canTransition(from, to State) bool {
	switch from {
	case StateConnecting:
		return to == StateAuthenticated || to == StateClosed
	case StateAuthenticated:
		return to == StateRegistered || to == StateClosed
	case StateRegistered:
		return to == StateActive || to == StateDisconnecting
	case StateActive:
		return to == StateDisconnecting
	case StateDisconnecting:
		return to == StateClosed
	default:
		return false
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Advance moves the client to next.
func (c *Client) Advance(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advanceLocked(next)
}

func (c *Client) advanceLocked(next State) error {
	if !canTransition(c.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state, next)
	}
	c.state = next
	return nil
}

// accepting reports whether the connection still takes client events.
func (c *Client) accepting() bool {
	return c.State() == StateActive
}
