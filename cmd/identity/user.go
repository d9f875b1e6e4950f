package identity

import (
	"context"
	"time"
)

// User is the directory view of a principal.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	Active    bool
	CreatedAt time.Time
}

// CreateUserInput describes a directory insert. ID is generated (ULID) when empty.
type CreateUserInput struct {
	ID     string
	Name   string
	Email  string
	Role   Role
	Active bool
	Now    time.Time
}

// Directory resolves users by id. FindUser returns ErrNotFound for unknown ids.
type Directory interface {
	FindUser(ctx context.Context, userID string) (User, error)
}

// Store is the writable directory used by dev seeding and tests.
type Store interface {
	Directory
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	SetActive(ctx context.Context, userID string, active bool) error
}

func (in CreateUserInput) normalize(op string) (CreateUserInput, error) {
	in.Email = NormalizeEmail(in.Email)
	if in.Name == "" || in.Email == "" {
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "name and email are required"}
	}
	role, err := ParseRole(string(in.Role))
	if err != nil {
		return in, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid role"}
	}
	in.Role = role
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	if in.ID == "" {
		id, err := NewULID(in.Now)
		if err != nil {
			return in, err
		}
		in.ID = id
	}
	return in, nil
}
