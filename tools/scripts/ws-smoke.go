// Package main provides a WebSocket smoke client for Lyceum realtime.
//
// It validates:
//   - authenticated handshake + subprotocol selection
//   - the connected acknowledgement
//   - the pending_notifications batch
//   - ping -> pong
//   - optional room join (-join course:<id>)
//   - optional read acknowledgement of the drained batch (-ack)
//
// and then prints every event received until -listen elapses.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "lyceum/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn   *websocket.Conn
	connID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token   = flag.String("token", os.Getenv("LYCEUM_SMOKE_TOKEN"), "Access token (default $LYCEUM_SMOKE_TOKEN)")
		join    = flag.String("join", "", "Room to join after connecting, e.g. course:dev-course-1")
		ack     = flag.Bool("ack", false, "Mark the drained notifications read")
		listen  = flag.Duration("listen", 0, "Keep printing events for this long after the checks")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing -token")
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *origin, *token, *timeout)
	defer closeWS(c.conn)

	pending := mustPending(root, c, *timeout)
	fmt.Printf("pending: count=%d\n", pending.Count)
	if *verbose {
		for _, n := range pending.Notifications {
			fmt.Printf("  #%d %s %q priority=%s\n", n.ID, n.Type, n.Title, n.Priority)
		}
	}

	mustPing(root, c, *timeout)

	if *join != "" {
		mustJoin(root, c, *join, *timeout)
	}
	if *ack && pending.Count > 0 {
		mustMarkRead(root, c, pending, *timeout)
	}

	fmt.Printf("OK: conn_id=%s pending=%d\n", c.connID, pending.Count)

	if *listen > 0 {
		printEvents(root, c, *listen)
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect: status=%d: %v", resp.StatusCode, err)
		}
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	env := c.mustReadUntilType(parent, v1.TypeConnected, stepTimeout)
	var p v1.Connected
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal connected payload: %v", err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("connected missing connectionId")
	}
	c.connID = p.ConnectionID
	fmt.Printf("connected: user_id=%s role=%s conn_id=%s devices=%d\n", p.UserID, p.Role, p.ConnectionID, p.DeviceCount)
	return c
}

func (c *smokeClient) startReadLoop() {
	fail := func(err error) {
		select {
		case c.errCh <- err:
		default:
		}
	}

	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				fail(err)
				return
			}
			if mt != websocket.MessageText {
				fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func mustPending(parent context.Context, c *smokeClient, stepTimeout time.Duration) v1.PendingNotifications {
	env := c.mustReadUntilType(parent, v1.TypePendingNotifications, stepTimeout)
	var p v1.PendingNotifications
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal pending_notifications: %v", err)
	}
	if p.Count != len(p.Notifications) {
		fatalf("pending count mismatch: count=%d len=%d", p.Count, len(p.Notifications))
	}
	return p
}

func mustPing(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	c.mustSend(parent, v1.TypePing, struct{}{}, stepTimeout)
	c.mustReadUntilType(parent, v1.TypePong, stepTimeout)
}

func mustJoin(parent context.Context, c *smokeClient, room string, stepTimeout time.Duration) {
	roomType, roomID, ok := strings.Cut(room, ":")
	if !ok || roomType == "" || roomID == "" {
		fatalf("invalid -join %q, want type:id", room)
	}
	c.mustSend(parent, v1.TypeJoinRoom, v1.JoinRoom{RoomType: roomType, RoomID: roomID}, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeJoinedRoom, stepTimeout)
	var p v1.RoomAck
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal joined_room: %v", err)
	}
	if p.Room != room {
		fatalf("joined_room mismatch: got=%q want=%q", p.Room, room)
	}
	fmt.Printf("joined: room=%s members=%d\n", p.Room, p.MemberCount)
}

func mustMarkRead(parent context.Context, c *smokeClient, pending v1.PendingNotifications, stepTimeout time.Duration) {
	ids := make([]int64, 0, len(pending.Notifications))
	for _, n := range pending.Notifications {
		ids = append(ids, n.ID)
	}
	c.mustSend(parent, v1.TypeMarkNotificationsRead, v1.MarkNotificationsRead{NotificationIDs: ids}, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeNotificationsMarkedRead, stepTimeout)
	var p v1.NotificationsMarkedRead
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal notifications_marked_read: %v", err)
	}
	fmt.Printf("marked read: ids=%d updated=%d\n", len(p.NotificationIDs), p.Updated)
}

// printEvents prints every envelope until wait elapses. Server errors are printed, not fatal.
func printEvents(parent context.Context, c *smokeClient, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed: %v", err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed")
			}
			fmt.Printf("event: type=%s room=%s payload=%s\n", env.Type, env.Room, string(env.Payload))
		}
	}
}

// mustReadUntilType skips unrelated events (device notices, business events) and fails on a
// server error or timeout.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.Error
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
		}
	}
}

func (c *smokeClient) mustSend(parent context.Context, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
