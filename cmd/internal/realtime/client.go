package realtime

import (
	"sync"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/devices"
	v1 "lyceum/shared/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Identity fields are written once by Bind before the client is registered and are read-only
// afterwards. Send is never closed by the server so concurrent fan-out cannot panic; done
// signals the connection goroutines to stop.
type Client struct {
	ID          string
	UserID      string
	UserName    string
	Role        identity.Role
	Device      devices.Info
	ConnectedAt time.Time
	Send        chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	state       State
	closeReason string
}

// NewClient constructs a Client in the Connecting state with a bounded send queue.
func NewClient(connID string, device devices.Info, now time.Time, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:          connID,
		Device:      device,
		ConnectedAt: now.UTC(),
		Send:        make(chan v1.Envelope, sendQueueSize),
		done:        make(chan struct{}),
		state:       StateConnecting,
	}
}

// Bind attaches the authenticated identity and moves the client to Authenticated.
// A client is bound at most once.
func (c *Client) Bind(id auth.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.advanceLocked(StateAuthenticated); err != nil {
		return err
	}
	c.UserID = id.UserID
	c.UserName = id.Name
	c.Role = id.Role
	return nil
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep fan-out safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Evict records reason as the disconnect reason (first caller wins) and closes the client.
func (c *Client) Evict(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.closeReason == "" {
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.Close()
}

// CloseReason returns the eviction reason, or "" when the client was not evicted.
func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// trySend enqueues env without blocking. It reports false when the client is shutting down
// or its queue is full.
func (c *Client) trySend(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

func (c *Client) deviceInfo() v1.DeviceInfo {
	return v1.DeviceInfo{
		Class:   string(c.Device.Class),
		OS:      c.Device.OS,
		Browser: c.Device.Browser,
		IP:      c.Device.IP,
	}
}
