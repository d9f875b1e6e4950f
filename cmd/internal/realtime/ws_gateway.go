package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/devices"
	v1 "lyceum/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Disconnect reasons recorded on device sessions and sent in device_disconnected.
const (
	ReasonClientClosed     = "client_closed"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonRateLimited      = "rate_limited"
	ReasonWriteFailed      = "write_failed"
	ReasonReadFailed       = "read_failed"
	ReasonServerShutdown   = "server_shutdown"
	ReasonEvicted          = "evicted"
)

// Authenticator resolves a handshake credential into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string, meta auth.ConnMeta) (auth.Identity, error)
}

// GatewayDeps are the collaborators of WSGateway. Devices may be nil.
type GatewayDeps struct {
	Auth       Authenticator
	Registry   *Registry
	Rooms      *Rooms
	Dispatcher *Dispatcher
	Devices    *devices.Recorder
	Log        *slog.Logger
}

// WSGateway is the WebSocket entrypoint for Lyceum realtime.
//
// It enforces origin policy, authenticates before upgrading, negotiates the subprotocol, runs
// heartbeats and rate limits, and drives each connection through its lifecycle.
type WSGateway struct {
	cfg  GatewayConfig
	log  *slog.Logger
	auth Authenticator
	reg  *Registry
	room *Rooms
	disp *Dispatcher
	dev  *devices.Recorder

	// Derived for websocket.Accept origin checks, which require OriginPatterns for cross-origin.
	originPatterns []string

	closing atomic.Bool
}

// NewWSGateway constructs a gateway. Registry, Rooms and Dispatcher must share one Registry.
func NewWSGateway(cfg GatewayConfig, deps GatewayDeps) (*WSGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Auth == nil || deps.Registry == nil || deps.Rooms == nil || deps.Dispatcher == nil {
		return nil, errors.New("realtime: gateway requires auth, registry, rooms and dispatcher")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &WSGateway{
		cfg:            cfg,
		log:            log,
		auth:           deps.Auth,
		reg:            deps.Registry,
		room:           deps.Rooms,
		disp:           deps.Dispatcher,
		dev:            deps.Devices,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades and runs one realtime connection until it closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if g.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	connID, err := NewConnectionID(now)
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	ip := auth.ClientIP(r)
	client := NewClient(connID, devices.Parse(r.UserAgent(), ip), now, g.cfg.SendQueueSize)

	// Connecting: nothing below touches the registry until the identity is bound.
	if status, err := g.authenticate(r, client, ip); err != nil {
		_ = client.Advance(StateClosed)
		g.log.Info("ws.reject.auth", "conn_id", connID, "status", status, "err", err, "remote", r.RemoteAddr)
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		_ = client.Advance(StateClosed)
		g.log.Error("ws.accept.fail", "conn_id", connID, "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = client.Advance(StateClosed)
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	g.serve(r.Context(), conn, client)
}

// authenticate runs the credential check under AuthTimeout and binds the identity to client.
func (g *WSGateway) authenticate(r *http.Request, client *Client, ip string) (int, error) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.AuthTimeout)
	defer cancel()

	id, err := g.auth.Authenticate(ctx, auth.CredentialFromRequest(r), auth.ConnMeta{
		Transport: "ws",
		IP:        ip,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return http.StatusRequestTimeout, err
		}
		return auth.HTTPStatus(err), err
	}
	if err := client.Bind(id); err != nil {
		return http.StatusInternalServerError, err
	}
	return 0, nil
}

func (g *WSGateway) serve(parent context.Context, conn *websocket.Conn, client *Client) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log := g.log.With("conn_id", client.ID, "user_id", client.UserID)

	// Authenticated -> Registered.
	deviceCount := g.reg.Register(client)
	_ = client.Advance(StateRegistered)
	if g.closing.Load() {
		client.Evict(ReasonServerShutdown)
	}

	g.dev.Opened(ctx, devices.Session{
		ConnectionID: client.ID,
		UserID:       client.UserID,
		Device:       client.Device,
		ConnectedAt:  client.ConnectedAt,
	})

	// lastSeen is the last inbound frame or answered ping, in unix nanos.
	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	var closeOnce sync.Once

	// shutdown runs Disconnecting -> Closed exactly once. It does NOT close client.Send:
	// unregistering first means no new fan-out can target the client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = client.Advance(StateDisconnecting)

			res, ok := g.reg.Unregister(client.ID)
			g.dev.Closed(ctx, client.ID, reason, time.Now().UTC())
			if ok && res.RemainingDevices > 0 {
				g.disp.Emit(UserRoom(client.UserID), v1.DeviceDisconnected{
					ConnectionID: client.ID,
					Reason:       reason,
					TotalDevices: res.RemainingDevices,
				}, "")
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			_ = client.Advance(StateClosed)

			log.Info("ws.disconnect", "reason", reason, "remaining_devices", res.RemainingDevices)
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, ReasonWriteFailed)
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= g.cfg.MaxPingFailures {
						shutdown(websocket.StatusGoingAway, ReasonHeartbeatTimeout)
						return
					}
				} else {
					failures = 0
					lastSeen.Store(time.Now().UnixNano())
				}

				// Idle means no inbound frame and no answered ping for ReadIdleTimeout.
				if time.Since(time.Unix(0, lastSeen.Load())) >= g.cfg.ReadIdleTimeout {
					shutdown(websocket.StatusPolicyViolation, ReasonIdleTimeout)
					return
				}
			}
		}
	}()

	// Server-initiated eviction closes client.done from outside the connection goroutines.
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			reason := client.CloseReason()
			if reason == "" {
				return
			}
			code := websocket.StatusPolicyViolation
			if reason == ReasonServerShutdown {
				code = websocket.StatusGoingAway
			}
			shutdown(code, reason)
		}
	}()

	// Registered -> Active: ack, announce to other devices, then drain once.
	_ = client.Advance(StateActive)
	g.disp.EmitTo(client, v1.Connected{
		UserID:       client.UserID,
		Role:         string(client.Role),
		ConnectionID: client.ID,
		DeviceCount:  deviceCount,
		ServerTime:   time.Now().UTC(),
	})
	if deviceCount > 1 {
		g.disp.Emit(UserRoom(client.UserID), v1.NewDeviceConnected{
			ConnectionID: client.ID,
			Device:       client.deviceInfo(),
			TotalDevices: deviceCount,
		}, client.ID)
	}
	if _, err := g.disp.DrainPendingFor(ctx, client); err != nil {
		g.sendError(client, "drain_failed", "pending notifications unavailable")
	}
	log.Info("ws.connect", "devices", deviceCount, "class", string(client.Device.Class))

	g.readLoop(ctx, conn, client, &lastSeen, shutdown)

	shutdown(websocket.StatusNormalClosure, ReasonClientClosed)
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// readLoop reads without a per-read deadline: cancelling a Read context closes the
// connection, so idleness is judged by the heartbeat goroutine from lastSeen.
func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, lastSeen *atomic.Int64, shutdown func(websocket.StatusCode, string)) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		env, err := readEnvelope(ctx, conn)

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, ReasonClientClosed)
				return
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, ReasonClientClosed)
				return
			case readErrBadJSON:
				lastSeen.Store(time.Now().UnixNano())
				g.sendError(client, "bad_json", "invalid JSON")
				continue
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, ReasonReadFailed)
				return
			}
		}

		lastSeen.Store(time.Now().UnixNano())

		if !rl.Allow(time.Now().UTC()) {
			g.sendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, ReasonRateLimited)
			return
		}
		if !client.accepting() {
			return
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, "bad_envelope", err.Error())
			continue
		}
		ev, err := v1.DecodeClientEvent(env)
		if err != nil {
			code := "bad_payload"
			if errors.Is(err, v1.ErrUnknownType) {
				code = "unsupported"
			}
			g.sendError(client, code, err.Error())
			continue
		}

		g.handle(ctx, client, ev)
	}
}

// handle runs one client event. Events from a connection are handled in arrival order.
func (g *WSGateway) handle(ctx context.Context, client *Client, ev v1.ClientEvent) {
	switch e := ev.(type) {
	case v1.JoinRoom:
		g.join(ctx, client, e.RoomType, e.RoomID)

	case v1.JoinCourse:
		g.join(ctx, client, string(RoomCourse), e.CourseID)

	case v1.LeaveRoom:
		g.disp.EmitTo(client, g.room.Leave(ctx, client.ID, e.RoomType, e.RoomID))

	case v1.MarkNotificationsRead:
		if _, err := g.disp.MarkRead(ctx, client.UserID, e.NotificationIDs); err != nil {
			g.sendError(client, "mark_read_failed", "could not mark notifications read")
		}

	case v1.Typing:
		k, err := ParseRoomKey(e.RoomID)
		if err != nil {
			g.sendError(client, "invalid_room", err.Error())
			return
		}
		if !g.reg.InRoom(client.ID, k) {
			g.sendError(client, "not_in_room", "join the room first")
			return
		}
		g.disp.Emit(k, v1.UserTyping{
			RoomID:   k.String(),
			UserID:   client.UserID,
			UserName: client.UserName,
			IsTyping: e.IsTyping,
		}, client.ID)

	case v1.Ping:
		g.disp.EmitTo(client, v1.Pong{ServerTime: time.Now().UTC()})

	default:
		g.sendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", ev.EventType()))
	}
}

func (g *WSGateway) join(ctx context.Context, client *Client, roomType, roomID string) {
	ack, err := g.room.Join(ctx, client.ID, roomType, roomID)
	switch {
	case err == nil:
		g.disp.EmitTo(client, ack)
	case errors.Is(err, ErrInvalidRoomSpec):
		g.sendError(client, "invalid_room", err.Error())
	case errors.Is(err, ErrForbidden):
		g.sendError(client, "forbidden", "not allowed to join this room")
	case errors.Is(err, ErrAuthorizationUnavailable):
		g.sendError(client, "unavailable", "authorization unavailable, retry later")
	default:
		g.sendError(client, "join_failed", err.Error())
	}
}

func (g *WSGateway) sendError(client *Client, code, msg string) {
	g.disp.EmitTo(client, v1.Error{Code: code, Message: msg})
}

// EvictUser disconnects every connection of userID and returns how many were signalled.
func (g *WSGateway) EvictUser(userID, reason string) int {
	if reason == "" {
		reason = ReasonEvicted
	}
	conns := g.reg.UserConnections(userID)
	for _, c := range conns {
		c.Evict(reason)
	}
	if len(conns) > 0 {
		g.log.Info("ws.evict.user", "user_id", userID, "reason", reason, "connections", len(conns))
	}
	return len(conns)
}

// Shutdown refuses new handshakes, evicts every connection and waits until the registry is
// empty or ctx is done.
func (g *WSGateway) Shutdown(ctx context.Context) error {
	g.closing.Store(true)

	for _, c := range g.reg.Connections() {
		c.Evict(ReasonServerShutdown)
	}

	t := time.NewTicker(25 * time.Millisecond)
	defer t.Stop()
	for g.reg.TotalConnections() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("realtime: shutdown with %d connections left: %w", g.reg.TotalConnections(), ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// ---- envelope IO ----

var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("%w: unsupported message type %v", errBadJSON, mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		switch {
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns extracts the allowlisted hosts for websocket.Accept, which matches
// OriginPatterns against the origin host.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
