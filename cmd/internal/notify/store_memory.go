package notify

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	seq    int64
	byID   map[int64]*Notification
	byUser map[string]map[int64]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int64]*Notification),
		byUser: make(map[string]map[int64]struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateInput) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return Notification{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	n := &Notification{
		ID:        s.seq,
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Priority:  in.Priority,
		Data:      append([]byte(nil), in.Data...),
		ExpiresAt: in.ExpiresAt,
		CreatedAt: in.Now,
	}
	s.byID[n.ID] = n
	set := s.byUser[n.UserID]
	if set == nil {
		set = make(map[int64]struct{})
		s.byUser[n.UserID] = set
	}
	set[n.ID] = struct{}{}
	return *n, nil
}

func (s *MemoryStore) ListUnread(ctx context.Context, userID string, now time.Time, limit int) ([]Notification, error) {
	return s.list(ctx, userID, now, limit, true)
}

func (s *MemoryStore) List(ctx context.Context, userID string, now time.Time, limit int) ([]Notification, error) {
	return s.list(ctx, userID, now, limit, false)
}

func (s *MemoryStore) list(ctx context.Context, userID string, now time.Time, limit int, unreadOnly bool) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Notification, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		n := s.byID[id]
		if n.Expired(now) || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, *n)
	}
	s.mu.Unlock()

	sortForDrain(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, userID string, ids []int64, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids = dedupeIDs(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, id := range ids {
		n, ok := s.byID[id]
		if !ok || n.UserID != userID || n.Read {
			continue
		}
		at := now.UTC()
		n.Read = true
		n.ReadAt = &at
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	s.remove(n)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, v := range s.byID {
		if v.Expired(now) {
			s.remove(v)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) remove(n *Notification) {
	delete(s.byID, n.ID)
	set := s.byUser[n.UserID]
	delete(set, n.ID)
	if len(set) == 0 {
		delete(s.byUser, n.UserID)
	}
}

var _ Store = (*MemoryStore)(nil)
