package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	maxRoomFieldLen     = 128
	maxReadBatch        = 500
	maxTypingRoomLength = 2*maxRoomFieldLen + 1
)

// ClientEvent is the closed set of client -> server events.
type ClientEvent interface {
	EventType() string
	Validate() error
}

// JoinRoom asks to join a room. Missing fields are reported by the room manager.
type JoinRoom struct {
	RoomType string `json:"roomType"`
	RoomID   string `json:"roomId"`
}

// LeaveRoom asks to leave a room.
type LeaveRoom struct {
	RoomType string `json:"roomType"`
	RoomID   string `json:"roomId"`
}

// MarkNotificationsRead acknowledges delivered notifications.
type MarkNotificationsRead struct {
	NotificationIDs []int64 `json:"notificationIds"`
}

// Typing toggles a typing indicator in a room. RoomID uses the "type:id" form.
type Typing struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// JoinCourse is shorthand for JoinRoom{RoomType: "course"}.
type JoinCourse struct {
	CourseID string `json:"courseId"`
}

// Ping is an application-level keepalive.
type Ping struct{}

func (JoinRoom) EventType() string { return TypeJoinRoom }
func (LeaveRoom) EventType() string { return TypeLeaveRoom }
func (MarkNotificationsRead) EventType() string { return TypeMarkNotificationsRead }
func (Typing) EventType() string { return TypeTyping }
func (JoinCourse) EventType() string { return TypeJoinCourse }
func (Ping) EventType() string { return TypePing }

func (p JoinRoom) Validate() error { return checkRoomFields(p.RoomType, p.RoomID) }
func (p LeaveRoom) Validate() error { return checkRoomFields(p.RoomType, p.RoomID) }

func (p MarkNotificationsRead) Validate() error {
	if len(p.NotificationIDs) > maxReadBatch {
		return fmt.Errorf("too many notificationIds: max=%d", maxReadBatch)
	}
	for _, id := range p.NotificationIDs {
		if id <= 0 {
			return fmt.Errorf("invalid notification id: %d", id)
		}
	}
	return nil
}

func (p Typing) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return errors.New("missing field: roomId")
	}
	if len(p.RoomID) > maxTypingRoomLength {
		return errors.New("roomId too long")
	}
	return nil
}

func (p JoinCourse) Validate() error {
	if strings.TrimSpace(p.CourseID) == "" {
		return errors.New("missing field: courseId")
	}
	if len(p.CourseID) > maxRoomFieldLen {
		return errors.New("courseId too long")
	}
	return nil
}

func (Ping) Validate() error { return nil }

func checkRoomFields(roomType, roomID string) error {
	if len(roomType) > maxRoomFieldLen || len(roomID) > maxRoomFieldLen {
		return errors.New("room field too long")
	}
	return nil
}

// DecodeClientEvent decodes and validates the payload of a client envelope into its typed event.
// Unknown or server-only types yield ErrUnknownType.
func DecodeClientEvent(env Envelope) (ClientEvent, error) {
	var ev ClientEvent
	switch env.Type {
	case TypeJoinRoom:
		var p JoinRoom
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		ev = p
	case TypeLeaveRoom:
		var p LeaveRoom
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		ev = p
	case TypeMarkNotificationsRead:
		var p MarkNotificationsRead
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		ev = p
	case TypeTyping:
		var p Typing
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		ev = p
	case TypeJoinCourse:
		var p JoinCourse
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		ev = p
	case TypePing:
		ev = Ping{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Type, err)
	}
	return ev, nil
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
