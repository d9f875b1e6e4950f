// Package notify persists per-user notifications until they are read, deleted, or expire.
//
// Ordering contract for unread lists: newest first by CreatedAt, ties broken by the
// monotonically increasing insertion id (higher id first).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	v1 "lyceum/shared/contracts/realtime/v1"
)

var (
	// ErrNotFound is returned when a notification does not exist or belongs to another user.
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidInput is returned for malformed create requests.
	ErrInvalidInput = errors.New("invalid notification")
)

// Notification is a durable per-user message.
type Notification struct {
	ID        int64
	UserID    string
	Type      v1.BusinessEventName
	Title     string
	Message   string
	Priority  v1.Priority
	Data      json.RawMessage
	Read      bool
	ReadAt    *time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether n is past its expiry at now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// Payload converts n to its wire shape. The delivery timestamp is stamped at encode time.
func (n Notification) Payload() v1.NotificationPayload {
	return v1.NotificationPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	}
}

// CreateInput describes a new notification.
type CreateInput struct {
	UserID    string
	Type      v1.BusinessEventName
	Title     string
	Message   string
	Priority  v1.Priority
	Data      json.RawMessage
	ExpiresAt *time.Time
	Now       time.Time
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Notification, error)

	// ListUnread returns unread, unexpired notifications for userID in drain order.
	// limit <= 0 means no limit.
	ListUnread(ctx context.Context, userID string, now time.Time, limit int) ([]Notification, error)

	// List returns the user's history (read and unread, unexpired), newest first.
	List(ctx context.Context, userID string, now time.Time, limit int) ([]Notification, error)

	// MarkRead marks the given ids read for userID and returns how many changed state.
	// Ids that are already read, unknown, or owned by someone else are ignored.
	MarkRead(ctx context.Context, userID string, ids []int64, now time.Time) (int, error)

	// Delete removes one notification owned by userID.
	Delete(ctx context.Context, userID string, id int64) error

	// DeleteExpired purges every notification expired at now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func (in CreateInput) normalize() (CreateInput, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return in, errors.Join(ErrInvalidInput, errors.New("missing user id"))
	}
	if !v1.IsBusinessEvent(string(in.Type)) {
		return in, errors.Join(ErrInvalidInput, errors.New("unknown notification type"))
	}
	p, err := v1.ParsePriority(string(in.Priority))
	if err != nil {
		return in, errors.Join(ErrInvalidInput, err)
	}
	in.Priority = p
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	in.Now = in.Now.UTC()
	if len(in.Data) > 0 && !json.Valid(in.Data) {
		return in, errors.Join(ErrInvalidInput, errors.New("data is not valid JSON"))
	}
	return in, nil
}

// sortForDrain orders ns newest first, ties broken by higher id.
func sortForDrain(ns []Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.After(ns[j].CreatedAt)
		}
		return ns[i].ID > ns[j].ID
	})
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
