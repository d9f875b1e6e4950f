package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/audit"
)

func newTestTokens(t *testing.T, ttl time.Duration) TokenManager {
	t.Helper()

	cfg := DefaultConfig()
	cfg.AccessTokenTTL = ttl
	cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()

	tokens, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return tokens
}

func newTestDirectory(t *testing.T) *identity.MemoryStore {
	t.Helper()

	dir := identity.NewMemoryStore()
	ctx := context.Background()
	for _, in := range []identity.CreateUserInput{
		{ID: "u-active", Name: "Ada", Email: "ada@example.com", Role: identity.RoleInstructor, Active: true},
		{ID: "u-inactive", Name: "Bo", Email: "bo@example.com", Role: identity.RoleStudent, Active: false},
	} {
		if _, err := dir.CreateUser(ctx, in); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return dir
}

func TestAuthenticate_Outcomes(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens(t, 15*time.Minute)
	now := time.Now().UTC()

	mint := func(uid string) string {
		tok, _, err := tokens.Issue(uid, now)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		return tok
	}

	other := newTestTokens(t, 15*time.Minute)
	foreign, _, _ := other.Issue("u-active", now)

	cases := []struct {
		name     string
		raw      string
		wantErr  error
		wantKind string
	}{
		{name: "success", raw: mint("u-active"), wantKind: "ws.auth.success"},
		{name: "missing", raw: "  ", wantErr: ErrMissingCredential, wantKind: "ws.auth.missing_credential"},
		{name: "garbage", raw: "v4.public.garbage", wantErr: ErrInvalidCredential, wantKind: "ws.auth.invalid_credential"},
		{name: "foreign key", raw: foreign, wantErr: ErrInvalidCredential, wantKind: "ws.auth.invalid_credential"},
		{name: "unknown user", raw: mint("u-ghost"), wantErr: ErrUnknownUser, wantKind: "ws.auth.unknown_user"},
		{name: "inactive", raw: mint("u-inactive"), wantErr: ErrAccountInactive, wantKind: "ws.auth.account_inactive"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := &audit.Recorder{}
			a := NewAuthenticator(tokens, newTestDirectory(t), rec, nil)

			id, err := a.Authenticate(context.Background(), tc.raw, ConnMeta{IP: "192.0.2.1", UserAgent: "test-agent"})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Authenticate: %v", err)
				}
				if id.UserID != "u-active" || id.Role != identity.RoleInstructor || id.Name != "Ada" {
					t.Fatalf("unexpected identity: %+v", id)
				}
			} else if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}

			events := rec.SecurityEvents()
			if len(events) != 1 {
				t.Fatalf("expected exactly one security event, got %d", len(events))
			}
			ev := events[0]
			if ev.Kind != tc.wantKind {
				t.Fatalf("kind=%q want %q", ev.Kind, tc.wantKind)
			}
			if ev.IP != "192.0.2.1" || ev.UserAgent != "test-agent" {
				t.Fatalf("audit event lost connection metadata: %+v", ev)
			}
		})
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens(t, time.Minute)
	tok, _, err := tokens.Issue("u-active", time.Now().UTC().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	a := NewAuthenticator(tokens, newTestDirectory(t), nil, nil)
	if _, err := a.Authenticate(context.Background(), tok, ConnMeta{}); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
}

type failingDirectory struct{}

func (failingDirectory) FindUser(context.Context, string) (identity.User, error) {
	return identity.User{}, errors.New("db down")
}

func TestAuthenticate_DirectoryFailureIsNotAnAuthFailure(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens(t, time.Minute)
	tok, _, _ := tokens.Issue("u-active", time.Now().UTC())

	rec := &audit.Recorder{}
	a := NewAuthenticator(tokens, failingDirectory{}, rec, nil)

	_, err := a.Authenticate(context.Background(), tok, ConnMeta{Transport: "http"})
	if err == nil || Outcome(err) != "error" {
		t.Fatalf("expected generic error, got %v", err)
	}
	if HTTPStatus(err) != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", HTTPStatus(err))
	}
	if ev := rec.SecurityEvents(); len(ev) != 1 || ev[0].Severity != audit.SeverityCritical || ev[0].Kind != "http.auth.error" {
		t.Fatalf("unexpected audit events: %+v", ev)
	}
}

func TestRequireUser(t *testing.T) {
	t.Parallel()

	tokens := newTestTokens(t, time.Minute)
	a := NewAuthenticator(tokens, newTestDirectory(t), nil, nil)

	var seen Identity
	h := a.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no credential: status=%d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}

	tok, _, _ := tokens.Issue("u-inactive", time.Now().UTC())
	req = httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("inactive: status=%d", rr.Code)
	}

	tok, _, _ = tokens.Issue("u-active", time.Now().UTC())
	req = httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("active: status=%d body=%s", rr.Code, rr.Body.String())
	}
	if seen.UserID != "u-active" {
		t.Fatalf("identity not propagated: %+v", seen)
	}
}
