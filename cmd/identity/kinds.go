package identity

import (
	"fmt"
	"strings"
)

// Role is a user's platform role. Role rooms are keyed by this value.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleAdmin      Role = "ADMIN"
)

// ParseRole canonicalizes a role name ("instructor" -> RoleInstructor).
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return r, nil
	default:
		return "", OpError{Op: "identity.ParseRole", Kind: ErrInvalidInput, Msg: fmt.Sprintf("unknown role %q", s)}
	}
}
