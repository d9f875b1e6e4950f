package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/metrics"
	"lyceum/cmd/internal/notify"
	v1 "lyceum/shared/contracts/realtime/v1"

	"golang.org/x/sync/errgroup"
)

const defaultFanoutConcurrency = 8

// ErrInvalidNotice is returned for notices without a valid business event.
var ErrInvalidNotice = errors.New("invalid notice")

// Notice is a business event plus the human-readable fields shown to the recipient.
type Notice struct {
	Event     v1.BusinessEvent
	Title     string
	Message   string
	Priority  v1.Priority
	ExpiresAt *time.Time
}

func (n Notice) validate() error {
	if n.Event == nil {
		return fmt.Errorf("%w: missing event", ErrInvalidNotice)
	}
	if err := n.Event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotice, err)
	}
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: empty title and message", ErrInvalidNotice)
	}
	return nil
}

// Delivery is the per-recipient result of SendToUsers.
type Delivery struct {
	UserID       string
	Notification notify.Notification
	Err          error
}

// Dispatcher is the fan-out API. Personal notifications are persisted before any live push;
// role, room and broadcast sends are live only.
type Dispatcher struct {
	reg    *Registry
	store  notify.Store
	log    *slog.Logger
	now    func() time.Time
	fanout int
	drain  int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFanoutConcurrency bounds concurrent persists in SendToUsers.
func WithFanoutConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.fanout = n
		}
	}
}

// WithDrainLimit caps the connect-time batch. 0 means unlimited.
func WithDrainLimit(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.drain = n
		}
	}
}

func NewDispatcher(reg *Registry, store notify.Store, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		reg:    reg,
		store:  store,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		fanout: defaultFanoutConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// SendToUser persists a notification for userID and pushes it to every live connection of
// that user. A persist failure is returned and nothing is pushed.
func (d *Dispatcher) SendToUser(ctx context.Context, userID string, n Notice) (notify.Notification, error) {
	if err := n.validate(); err != nil {
		metrics.RecordDispatch("user", "invalid")
		return notify.Notification{}, err
	}
	data, err := json.Marshal(n.Event)
	if err != nil {
		metrics.RecordDispatch("user", "invalid")
		return notify.Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotice, err)
	}

	rec, err := d.store.Create(ctx, notify.CreateInput{
		UserID:    userID,
		Type:      n.Event.EventName(),
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		Data:      data,
		ExpiresAt: n.ExpiresAt,
		Now:       d.now(),
	})
	if err != nil {
		metrics.RecordDispatch("user", "persist_failed")
		d.log.Error("dispatch.user.persist.fail",
			"user_id", userID,
			"event", string(n.Event.EventName()),
			"err", err,
		)
		return notify.Notification{}, err
	}

	delivered := d.push(UserRoom(userID), d.reg.UserConnections(userID), v1.NotificationEvent{
		Name:         rec.Type,
		Notification: rec.Payload(),
	}, "")
	metrics.RecordDispatch("user", "ok")
	d.log.Debug("dispatch.user",
		"user_id", userID,
		"notification_id", rec.ID,
		"event", string(rec.Type),
		"delivered", delivered,
	)
	return rec, nil
}

// SendToUsers applies SendToUser to each distinct id with bounded concurrency. One recipient's
// failure never affects the others. Results follow the order of first appearance in userIDs.
func (d *Dispatcher) SendToUsers(ctx context.Context, userIDs []string, n Notice) []Delivery {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]Delivery, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Delivery{UserID: id})
	}

	var g errgroup.Group
	g.SetLimit(d.fanout)
	for i := range out {
		g.Go(func() error {
			rec, err := d.SendToUser(ctx, out[i].UserID, n)
			out[i].Notification = rec
			out[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// SendToRole pushes n live to every connection in the role room. Nothing is persisted.
func (d *Dispatcher) SendToRole(ctx context.Context, role identity.Role, n Notice) int {
	return d.live(ctx, "role", RoleRoom(role), n)
}

// SendToRoom pushes n live to every member of room ("type:id"). Nothing is persisted.
func (d *Dispatcher) SendToRoom(ctx context.Context, room string, n Notice) (int, error) {
	k, err := ParseRoomKey(room)
	if err != nil {
		metrics.RecordDispatch("room", "invalid")
		return 0, err
	}
	if err := n.validate(); err != nil {
		metrics.RecordDispatch("room", "invalid")
		return 0, err
	}
	return d.live(ctx, "room", k, n), nil
}

// Broadcast pushes n live to every connection. Nothing is persisted.
func (d *Dispatcher) Broadcast(ctx context.Context, n Notice) int {
	if err := n.validate(); err != nil {
		metrics.RecordDispatch("broadcast", "invalid")
		d.log.Warn("dispatch.broadcast.invalid", "err", err)
		return 0
	}
	ev, err := d.transient(n)
	if err != nil {
		metrics.RecordDispatch("broadcast", "invalid")
		return 0
	}
	delivered := d.push(RoomKey{}, d.reg.Connections(), ev, "")
	metrics.RecordDispatch("broadcast", "ok")
	return delivered
}

func (d *Dispatcher) live(_ context.Context, kind string, k RoomKey, n Notice) int {
	if err := n.validate(); err != nil {
		metrics.RecordDispatch(kind, "invalid")
		d.log.Warn("dispatch.live.invalid", "kind", kind, "room", k.String(), "err", err)
		return 0
	}
	ev, err := d.transient(n)
	if err != nil {
		metrics.RecordDispatch(kind, "invalid")
		return 0
	}
	delivered := d.push(k, d.reg.RoomMembers(k), ev, "")
	metrics.RecordDispatch(kind, "ok")
	d.log.Debug("dispatch.live", "kind", kind, "room", k.String(), "delivered", delivered)
	return delivered
}

// transient builds the wire event for a notice that is not persisted (no id).
func (d *Dispatcher) transient(n Notice) (v1.NotificationEvent, error) {
	data, err := json.Marshal(n.Event)
	if err != nil {
		return v1.NotificationEvent{}, err
	}
	p, err := v1.ParsePriority(string(n.Priority))
	if err != nil {
		p = v1.PriorityNormal
	}
	return v1.NotificationEvent{
		Name: n.Event.EventName(),
		Notification: v1.NotificationPayload{
			Type:      string(n.Event.EventName()),
			Title:     n.Title,
			Message:   n.Message,
			Priority:  p,
			Data:      data,
			CreatedAt: d.now(),
			ExpiresAt: n.ExpiresAt,
		},
	}, nil
}

// DrainPendingFor sends the user's unread, unexpired notifications to c as one
// pending_notifications batch, newest first. Nothing is marked read.
func (d *Dispatcher) DrainPendingFor(ctx context.Context, c *Client) (int, error) {
	now := d.now()
	pending, err := d.store.ListUnread(ctx, c.UserID, now, d.drain)
	if err != nil {
		d.log.Error("dispatch.drain.fail", "conn_id", c.ID, "user_id", c.UserID, "err", err)
		return 0, err
	}

	batch := v1.PendingNotifications{Notifications: make([]v1.NotificationPayload, 0, len(pending))}
	for _, n := range pending {
		batch.Notifications = append(batch.Notifications, n.Payload())
	}

	metrics.RecordDrain(len(pending))
	if d.push(UserRoom(c.UserID), []*Client{c}, batch, "") == 0 {
		return 0, fmt.Errorf("drain: connection %s did not accept the batch", c.ID)
	}
	return len(pending), nil
}

// MarkRead marks ids read for userID and echoes the acknowledgement to every device of the
// user. Repeating the call is harmless.
func (d *Dispatcher) MarkRead(ctx context.Context, userID string, ids []int64) (int, error) {
	updated, err := d.store.MarkRead(ctx, userID, ids, d.now())
	if err != nil {
		d.log.Error("dispatch.mark_read.fail", "user_id", userID, "err", err)
		return 0, err
	}

	if ids == nil {
		ids = []int64{}
	}
	d.push(UserRoom(userID), d.reg.UserConnections(userID), v1.NotificationsMarkedRead{
		NotificationIDs: ids,
		Updated:         updated,
	}, "")
	return updated, nil
}

// Emit sends a protocol event to the members of room k, skipping exceptConnID.
func (d *Dispatcher) Emit(k RoomKey, ev v1.ServerEvent, exceptConnID string) int {
	return d.push(k, d.reg.RoomMembers(k), ev, exceptConnID)
}

// EmitTo sends a protocol event to one connection.
func (d *Dispatcher) EmitTo(c *Client, ev v1.ServerEvent) bool {
	return d.push(RoomKey{}, []*Client{c}, ev, "") == 1
}

// push encodes ev once and enqueues it to every target without blocking. A full queue drops
// the delivery for that connection only.
func (d *Dispatcher) push(k RoomKey, targets []*Client, ev v1.ServerEvent, exceptConnID string) int {
	if len(targets) == 0 {
		return 0
	}
	now := d.now()
	room := ""
	if k.Type != "" {
		room = k.String()
	}

	env, err := v1.Encode(ev, newEnvelopeID(now), room, now)
	if err != nil {
		d.log.Error("dispatch.encode.fail", "type", ev.EventType(), "err", err)
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c == nil || c.ID == exceptConnID {
			continue
		}
		select {
		case <-c.Done():
			continue
		default:
		}
		if c.trySend(env) {
			delivered++
			continue
		}
		metrics.RecordDrop()
		d.log.Warn("dispatch.drop",
			"conn_id", c.ID,
			"user_id", c.UserID,
			"type", env.Type,
		)
	}
	return delivered
}
