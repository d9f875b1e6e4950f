package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/audit"
	"lyceum/cmd/internal/metrics"
	v1 "lyceum/shared/contracts/realtime/v1"
)

var (
	// ErrForbidden is returned when the connection's user may not join the room.
	ErrForbidden = errors.New("forbidden")

	// ErrAuthorizationUnavailable is returned when the authorization oracle fails.
	ErrAuthorizationUnavailable = errors.New("authorization unavailable")

	// ErrNotConnected is returned for operations on an unknown connection id.
	ErrNotConnected = errors.New("connection not registered")
)

// Authorizer answers course-scoped access questions for room joins.
type Authorizer interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	IsCourseOwner(ctx context.Context, instructorID, courseID string) (bool, error)
}

// Rooms applies authorization and audit around Registry joins and leaves.
type Rooms struct {
	reg   *Registry
	authz Authorizer
	audit audit.Sink
	log   *slog.Logger
}

// NewRooms wires a membership manager. A nil authorizer denies every course-scoped room.
func NewRooms(reg *Registry, authz Authorizer, sink audit.Sink, log *slog.Logger) *Rooms {
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Rooms{reg: reg, authz: authz, audit: sink, log: log}
}

// Join authorizes and adds connID to the room. On any error the membership is unchanged.
func (m *Rooms) Join(ctx context.Context, connID, roomType, roomID string) (v1.RoomAck, error) {
	c, ok := m.reg.Client(connID)
	if !ok {
		return v1.RoomAck{}, ErrNotConnected
	}

	k, err := NewRoomKey(roomType, roomID)
	if err != nil {
		metrics.RecordRoomOp("join", "invalid", "invalid")
		return v1.RoomAck{}, err
	}
	if k.Type == RoomRole {
		if role, rerr := identity.ParseRole(k.ID); rerr == nil {
			k.ID = string(role)
		}
	}

	if err := m.authorize(ctx, c, k); err != nil {
		outcome := "denied"
		if errors.Is(err, ErrAuthorizationUnavailable) {
			outcome = "failed"
		}
		m.record(ctx, "room.join", c, k, outcome, 0)
		return v1.RoomAck{}, err
	}

	n, ok := m.reg.Join(connID, k)
	if !ok {
		return v1.RoomAck{}, ErrNotConnected
	}
	m.record(ctx, "room.join", c, k, "success", n)
	return roomAck(true, k, n), nil
}

// Leave removes connID from the room. It never fails: unknown rooms, non-members and
// malformed specs are no-ops that still produce an acknowledgement.
func (m *Rooms) Leave(ctx context.Context, connID, roomType, roomID string) v1.RoomAck {
	k, err := NewRoomKey(roomType, roomID)
	if err != nil {
		return v1.RoomAck{RoomType: roomType, RoomID: roomID}
	}

	n, was := m.reg.Leave(connID, k)
	if was {
		if c, ok := m.reg.Client(connID); ok {
			m.record(ctx, "room.leave", c, k, "success", n)
		}
	}
	return roomAck(false, k, n)
}

func (m *Rooms) authorize(ctx context.Context, c *Client, k RoomKey) error {
	if c.Role == identity.RoleAdmin {
		return nil
	}

	switch k.Type {
	case RoomDiscussion:
		return nil
	case RoomUser:
		if k.ID == c.UserID {
			return nil
		}
		return fmt.Errorf("%w: personal room of another user", ErrForbidden)
	case RoomRole:
		if k.ID == string(c.Role) {
			return nil
		}
		return fmt.Errorf("%w: role room %s", ErrForbidden, k.ID)
	case RoomCourse, RoomLiveSession:
		return m.authorizeCourse(ctx, c, k.courseOf())
	default:
		return ErrInvalidRoomSpec
	}
}

func (m *Rooms) authorizeCourse(ctx context.Context, c *Client, courseID string) error {
	if m.authz == nil {
		return ErrForbidden
	}

	ok, err := m.authz.IsEnrolled(ctx, c.UserID, courseID)
	if err == nil && !ok {
		ok, err = m.authz.IsCourseOwner(ctx, c.UserID, courseID)
	}
	if err != nil {
		m.log.Warn("rooms.authorize.fail",
			"conn_id", c.ID,
			"user_id", c.UserID,
			"course_id", courseID,
			"err", err,
		)
		return fmt.Errorf("%w: %v", ErrAuthorizationUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: not a member of course %s", ErrForbidden, courseID)
	}
	return nil
}

func (m *Rooms) record(ctx context.Context, op string, c *Client, k RoomKey, outcome string, members int) {
	metrics.RecordRoomOp(op, string(k.Type), outcome)
	m.audit.LogBusinessOperation(ctx, audit.BusinessOperation{
		Op:         op,
		EntityType: "room",
		EntityID:   k.String(),
		UserID:     c.UserID,
		Outcome:    outcome,
		Context: map[string]any{
			"conn_id":      c.ID,
			"member_count": members,
		},
	})
}

func roomAck(joined bool, k RoomKey, members int) v1.RoomAck {
	return v1.RoomAck{
		Joined:      joined,
		RoomType:    string(k.Type),
		RoomID:      k.ID,
		Room:        k.String(),
		MemberCount: members,
	}
}
