package devices

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidSession is returned when a session lacks its connection or user id.
var ErrInvalidSession = errors.New("invalid device session")

// Session is the persisted record of one physical connection.
type Session struct {
	ConnectionID     string
	UserID           string
	Device           Info
	ConnectedAt      time.Time
	DisconnectedAt   *time.Time
	DisconnectReason string
}

// Store persists device sessions.
type Store interface {
	Open(ctx context.Context, s Session) error
	// Close stamps the disconnect time and reason. Closing an unknown or already closed session is a no-op.
	Close(ctx context.Context, connID, reason string, at time.Time) error
	// ListByUser returns the user's sessions, most recent connection first.
	ListByUser(ctx context.Context, userID string, limit int) ([]Session, error)
}

func (s Session) validate() error {
	if strings.TrimSpace(s.ConnectionID) == "" || strings.TrimSpace(s.UserID) == "" {
		return ErrInvalidSession
	}
	return nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Session)}
}

func (m *MemoryStore) Open(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.rows[s.ConnectionID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close(ctx context.Context, connID, reason string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[connID]
	if !ok || s.DisconnectedAt != nil {
		return nil
	}
	t := at.UTC()
	s.DisconnectedAt = &t
	s.DisconnectReason = reason
	m.rows[connID] = s
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]Session, 0, 4)
	for _, s := range m.rows {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.After(out[j].ConnectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
