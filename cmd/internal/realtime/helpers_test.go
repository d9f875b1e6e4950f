package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/devices"
	v1 "lyceum/shared/contracts/realtime/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBoundClient returns an Authenticated client that is not yet registered.
func newBoundClient(t *testing.T, connID, userID string, role identity.Role, queue int) *Client {
	t.Helper()
	c := NewClient(connID, devices.Parse("Mozilla/5.0 (X11; Linux x86_64) Firefox/125.0", "127.0.0.1"), time.Now(), queue)
	if err := c.Bind(auth.Identity{UserID: userID, Name: "name-" + userID, Role: role}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return c
}

// registerClient binds, registers and activates a client.
func registerClient(t *testing.T, reg *Registry, connID, userID string, role identity.Role) *Client {
	t.Helper()
	c := newBoundClient(t, connID, userID, role, 64)
	reg.Register(c)
	if err := c.Advance(StateRegistered); err != nil {
		t.Fatalf("Advance registered: %v", err)
	}
	if err := c.Advance(StateActive); err != nil {
		t.Fatalf("Advance active: %v", err)
	}
	return c
}

// recv pops the next queued envelope or fails.
func recv(t *testing.T, c *Client) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		return env
	case <-time.After(time.Second):
		t.Fatalf("no envelope queued for %s", c.ID)
		return v1.Envelope{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.Send:
		t.Fatalf("unexpected envelope for %s: %s", c.ID, env.Type)
	default:
	}
}

func decodePayload[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return v
}

