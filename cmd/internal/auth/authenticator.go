// Package auth verifies PASETO v4.public access tokens and resolves them into an Identity
// against the user directory. It serves both the realtime handshake and the REST middleware.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/audit"
	"lyceum/cmd/internal/metrics"
)

// Identity is an authenticated principal. Role and Name come from the directory, never the token.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Role   identity.Role
}

// ConnMeta describes where an authentication attempt came from.
type ConnMeta struct {
	Transport string // "ws" or "http"
	IP        string
	UserAgent string
}

// Authenticator turns a raw credential into an Identity.
type Authenticator struct {
	tokens TokenVerifier
	users  identity.Directory
	audit  audit.Sink
	log    *slog.Logger
	now    func() time.Time
}

// NewAuthenticator wires an Authenticator. A nil sink discards audit records.
func NewAuthenticator(tokens TokenVerifier, users identity.Directory, sink audit.Sink, log *slog.Logger) *Authenticator {
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{
		tokens: tokens,
		users:  users,
		audit:  sink,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate verifies raw and resolves its subject. Exactly one security event is emitted
// per call, whatever the outcome.
//
// Errors: ErrMissingCredential, ErrInvalidCredential, ErrUnknownUser, ErrAccountInactive,
// or a wrapped directory/context error.
func (a *Authenticator) Authenticate(ctx context.Context, raw string, meta ConnMeta) (Identity, error) {
	id, err := a.authenticate(ctx, raw)
	a.record(ctx, meta, id.UserID, err)
	return id, err
}

func (a *Authenticator) authenticate(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMissingCredential
	}

	claims, err := a.tokens.Verify(raw, a.now())
	if err != nil {
		return Identity{}, ErrInvalidCredential
	}

	u, err := a.users.FindUser(ctx, claims.UserID)
	switch {
	case identity.IsNotFound(err), identity.IsInvalidInput(err):
		return Identity{UserID: claims.UserID}, ErrUnknownUser
	case err != nil:
		return Identity{UserID: claims.UserID}, err
	}

	if !u.Active {
		return Identity{UserID: u.ID}, ErrAccountInactive
	}

	return Identity{
		UserID: u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
	}, nil
}

func (a *Authenticator) record(ctx context.Context, meta ConnMeta, userID string, err error) {
	transport := meta.Transport
	if transport == "" {
		transport = "ws"
	}
	outcome := Outcome(err)

	severity := audit.SeverityInfo
	var extra map[string]any
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrUnknownUser), errors.Is(err, ErrAccountInactive):
		severity = audit.SeverityWarning
	case errors.Is(err, ErrMissingCredential):
	default:
		severity = audit.SeverityCritical
		extra = map[string]any{"err": err.Error()}
		a.log.Error("auth.directory.fail", "err", err, "user_id", userID)
	}

	a.audit.LogSecurityEvent(ctx, audit.SecurityEvent{
		Kind:      transport + ".auth." + outcome,
		Severity:  severity,
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Context:   extra,
		At:        a.now(),
	})
	metrics.RecordAuth(transport, outcome)
}
