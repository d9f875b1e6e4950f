// Package v1 defines the Lyceum Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and clients (see tools/scripts/ws-smoke.go) to keep the wire
// protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated during the handshake.
const Subprotocol = "lyceum.realtime.v1"

// Client -> server event types (wire-stable).
const (
	TypeJoinRoom              = "join_room"
	TypeLeaveRoom             = "leave_room"
	TypeMarkNotificationsRead = "mark_notifications_read"
	TypeTyping                = "typing"
	TypeJoinCourse            = "join_course"
	TypePing                  = "ping"
)

// Server -> client event types (wire-stable).
const (
	TypeConnected               = "connected"
	TypeNewDeviceConnected      = "new_device_connected"
	TypeDeviceDisconnected      = "device_disconnected"
	TypeJoinedRoom              = "joined_room"
	TypeLeftRoom                = "left_room"
	TypePendingNotifications    = "pending_notifications"
	TypeUserTyping              = "user_typing"
	TypeNotificationsMarkedRead = "notifications_marked_read"
	TypePong                    = "pong"
	TypeError                   = "error"
)

// ErrUnknownType is returned when an envelope carries a type outside the closed event set.
var ErrUnknownType = errors.New("unknown event type")

// Envelope is the canonical wire wrapper.
//
// TS is the delivery timestamp stamped by the sender at enqueue time. It is distinct from any
// creation timestamp carried inside the payload.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsClientType(e.Type) && !IsServerType(e.Type) && !IsBusinessEvent(e.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// IsClientType reports whether typ is a client -> server event.
func IsClientType(typ string) bool {
	switch typ {
	case TypeJoinRoom, TypeLeaveRoom, TypeMarkNotificationsRead, TypeTyping, TypeJoinCourse, TypePing:
		return true
	}
	return false
}

// IsServerType reports whether typ is a protocol-level server -> client event.
func IsServerType(typ string) bool {
	switch typ {
	case TypeConnected,
		TypeNewDeviceConnected,
		TypeDeviceDisconnected,
		TypeJoinedRoom,
		TypeLeftRoom,
		TypePendingNotifications,
		TypeUserTyping,
		TypeNotificationsMarkedRead,
		TypePong,
		TypeError:
		return true
	}
	return false
}

// ---- Server payloads ----

// ServerEvent is the closed set of server -> client events.
// Only types declared in this package implement it.
type ServerEvent interface {
	EventType() string
	isServerEvent()
}

// DeviceInfo describes the device behind a connection.
type DeviceInfo struct {
	Class   string `json:"class"`
	OS      string `json:"os"`
	Browser string `json:"browser"`
	IP      string `json:"ip,omitempty"`
}

// Connected acknowledges a successful connection.
type Connected struct {
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	ConnectionID string    `json:"connectionId"`
	DeviceCount  int       `json:"deviceCount"`
	ServerTime   time.Time `json:"serverTime"`
}

// NewDeviceConnected is sent to a user's other devices when a new one connects.
type NewDeviceConnected struct {
	ConnectionID string     `json:"connectionId"`
	Device       DeviceInfo `json:"deviceInfo"`
	TotalDevices int        `json:"totalDevices"`
}

// DeviceDisconnected is sent to a user's remaining devices when one disconnects.
type DeviceDisconnected struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason"`
	TotalDevices int    `json:"totalDevices"`
}

// RoomAck confirms a join or leave.
type RoomAck struct {
	Joined      bool   `json:"-"`
	RoomType    string `json:"roomType"`
	RoomID      string `json:"roomId"`
	Room        string `json:"room"`
	MemberCount int    `json:"memberCount"`
}

// PendingNotifications is the single batch delivered when a connection becomes active.
type PendingNotifications struct {
	Notifications []NotificationPayload `json:"notifications"`
	Count         int                   `json:"count"`
}

// UserTyping relays a typing indicator to the other members of a room.
type UserTyping struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// NotificationsMarkedRead echoes a read acknowledgement to all of a user's devices.
type NotificationsMarkedRead struct {
	NotificationIDs []int64 `json:"notificationIds"`
	Updated         int     `json:"updated"`
}

// Pong answers a client ping.
type Pong struct {
	ServerTime time.Time `json:"serverTime"`
}

// Error is a generic error response payload.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Connected) EventType() string { return TypeConnected }
func (NewDeviceConnected) EventType() string { return TypeNewDeviceConnected }
func (DeviceDisconnected) EventType() string { return TypeDeviceDisconnected }
func (PendingNotifications) EventType() string { return TypePendingNotifications }
func (UserTyping) EventType() string { return TypeUserTyping }
func (NotificationsMarkedRead) EventType() string { return TypeNotificationsMarkedRead }
func (Pong) EventType() string { return TypePong }
func (Error) EventType() string { return TypeError }

func (a RoomAck) EventType() string {
	if a.Joined {
		return TypeJoinedRoom
	}
	return TypeLeftRoom
}

func (Connected) isServerEvent() {}
func (NewDeviceConnected) isServerEvent() {}
func (DeviceDisconnected) isServerEvent() {}
func (RoomAck) isServerEvent() {}
func (PendingNotifications) isServerEvent() {}
func (UserTyping) isServerEvent() {}
func (NotificationsMarkedRead) isServerEvent() {}
func (Pong) isServerEvent() {}
func (Error) isServerEvent() {}
func (NotificationEvent) isServerEvent() {}

// Encode wraps a server event into an Envelope stamped with the delivery time ts.
//
// Notification events carry the same delivery time inside their payload as "timestamp",
// and so does every entry of a pending_notifications batch.
func Encode(ev ServerEvent, id, room string, ts time.Time) (Envelope, error) {
	if ev == nil {
		return Envelope{}, errors.New("nil event")
	}
	ts = ts.UTC()

	var body any = ev
	switch e := ev.(type) {
	case NotificationEvent:
		n := e.Notification
		n.Timestamp = ts
		body = n
	case PendingNotifications:
		items := make([]NotificationPayload, len(e.Notifications))
		for i, n := range e.Notifications {
			n.Timestamp = ts
			items[i] = n
		}
		e.Notifications = items
		e.Count = len(items)
		body = e
	}

	b, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return Envelope{
		V:       Version,
		Type:    ev.EventType(),
		ID:      id,
		TS:      ts,
		Room:    room,
		Payload: b,
	}, nil
}
