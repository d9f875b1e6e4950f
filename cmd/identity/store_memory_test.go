package identity

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_CreateFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemoryStore()

	u, err := st.CreateUser(ctx, CreateUserInput{Name: "Ada", Email: " ADA@Example.com ", Role: "instructor", Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(u.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}
	if u.Email != "ada@example.com" || u.Role != RoleInstructor {
		t.Fatalf("not normalized: %+v", u)
	}

	got, err := st.FindUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if got != u {
		t.Fatalf("got %+v want %+v", got, u)
	}

	if _, err := st.CreateUser(ctx, CreateUserInput{Name: "Other", Email: "ada@example.com", Role: RoleStudent}); !IsConflict(err) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	_, err = st.CreateUser(ctx, CreateUserInput{ID: u.ID, Name: "Same", Email: "same@example.com", Role: RoleStudent})
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != "id" {
		t.Fatalf("expected id conflict, got %v", err)
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemoryStore()

	_, err := st.FindUser(ctx, "missing")
	var nf NotFoundError
	if !IsNotFound(err) || !errors.As(err, &nf) || nf.UserID != "missing" {
		t.Fatalf("expected not found for \"missing\", got %v", err)
	}
	if _, err := st.FindUser(ctx, "  "); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := st.CreateUser(ctx, CreateUserInput{Name: "x", Email: "x@y", Role: "wizard"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid role, got %v", err)
	}
	if err := st.SetActive(ctx, "missing", false); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_SetActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemoryStore()

	u, err := st.CreateUser(ctx, CreateUserInput{ID: "u1", Name: "Bo", Email: "bo@example.com", Role: RoleStudent, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := st.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, _ := st.FindUser(ctx, u.ID)
	if got.Active {
		t.Fatalf("expected inactive user")
	}
}
