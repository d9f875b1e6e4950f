package auth

import (
	"context"
	"errors"
	"net/http"

	"lyceum/cmd/internal/httpx"
)

type identityKey struct{}

// ContextWithIdentity stores id in ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated identity stored by RequireUser.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RequireUser authenticates every request and rejects failures with the REST error envelope.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r.Context(), CredentialFromRequest(r), ConnMeta{
			Transport: "http",
			IP:        ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			msg := err.Error()
			if HTTPStatus(err) == http.StatusServiceUnavailable {
				msg = "authentication unavailable"
			}
			if errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrInvalidCredential) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="lyceum"`)
			}
			httpx.WriteError(w, r, HTTPStatus(err), msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}
