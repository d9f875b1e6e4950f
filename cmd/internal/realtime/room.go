package realtime

import (
	"errors"
	"fmt"
	"strings"

	"lyceum/cmd/identity"
)

// ErrInvalidRoomSpec is returned when a room type or id is missing or the type is unknown.
var ErrInvalidRoomSpec = errors.New("invalid room spec")

// RoomType is the first half of a room key.
type RoomType string

const (
	RoomUser        RoomType = "user"
	RoomRole        RoomType = "role"
	RoomCourse      RoomType = "course"
	RoomDiscussion  RoomType = "discussion"
	RoomLiveSession RoomType = "live_session"
)

const maxRoomIDLen = 128

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	switch t {
	case RoomUser, RoomRole, RoomCourse, RoomDiscussion, RoomLiveSession:
		return true
	}
	return false
}

// RoomKey identifies a room. Its string form is "type:id".
type RoomKey struct {
	Type RoomType
	ID   string
}

func (k RoomKey) String() string { return string(k.Type) + ":" + k.ID }

// NewRoomKey validates and normalizes a (type, id) pair.
func NewRoomKey(roomType, roomID string) (RoomKey, error) {
	t := RoomType(strings.ToLower(strings.TrimSpace(roomType)))
	id := strings.TrimSpace(roomID)
	switch {
	case t == "":
		return RoomKey{}, fmt.Errorf("%w: missing roomType", ErrInvalidRoomSpec)
	case id == "":
		return RoomKey{}, fmt.Errorf("%w: missing roomId", ErrInvalidRoomSpec)
	case !t.Valid():
		return RoomKey{}, fmt.Errorf("%w: unknown roomType %q", ErrInvalidRoomSpec, roomType)
	case len(id) > maxRoomIDLen:
		return RoomKey{}, fmt.Errorf("%w: roomId too long", ErrInvalidRoomSpec)
	}
	return RoomKey{Type: t, ID: id}, nil
}

// ParseRoomKey parses the "type:id" form. The id may itself contain ':'.
func ParseRoomKey(s string) (RoomKey, error) {
	typ, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return RoomKey{}, fmt.Errorf("%w: %q is not type:id", ErrInvalidRoomSpec, s)
	}
	return NewRoomKey(typ, id)
}

func UserRoom(userID string) RoomKey { return RoomKey{Type: RoomUser, ID: userID} }

func RoleRoom(role identity.Role) RoomKey { return RoomKey{Type: RoomRole, ID: string(role)} }

func CourseRoom(courseID string) RoomKey { return RoomKey{Type: RoomCourse, ID: courseID} }

// courseOf returns the course a course or live_session room belongs to.
// Live session rooms are keyed "courseId" or "courseId/sessionId".
func (k RoomKey) courseOf() string {
	if k.Type == RoomLiveSession {
		course, _, _ := strings.Cut(k.ID, "/")
		return course
	}
	return k.ID
}
