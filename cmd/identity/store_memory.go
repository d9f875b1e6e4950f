package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is the in-memory directory used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]User
	byEmail map[string]string
}

// NewMemoryStore constructs an empty in-memory directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// FindUser implements Directory.
func (s *MemoryStore) FindUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.FindUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}

	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return User{}, NotFoundError{Op: op, UserID: userID}
	}
	return u, nil
}

// CreateUser inserts a user; id and email must be unique.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := in.normalize(op)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[in.ID]; ok {
		return User{}, ConflictError{Op: op, Field: "id"}
	}
	if _, ok := s.byEmail[in.Email]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{
		ID:        in.ID,
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		Active:    in.Active,
		CreatedAt: in.Now,
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u, nil
}

// SetActive flips a user's active flag.
func (s *MemoryStore) SetActive(ctx context.Context, userID string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: "identity.SetActive", UserID: userID}
	}
	u.Active = active
	s.users[userID] = u
	return nil
}

var _ Store = (*MemoryStore)(nil)
