package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrMissingCredential means the request carried no credential at all.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential means the credential failed verification (bad signature, expired, malformed).
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnknownUser means the credential's subject does not resolve to a user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrAccountInactive means the user exists but is deactivated.
	ErrAccountInactive = errors.New("account inactive")

	// ErrInvalidToken is returned by TokenManager.Verify.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")
)

// Outcome returns the stable audit/metrics label for an Authenticate result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	default:
		return "error"
	}
}

// HTTPStatus maps an Authenticate error to the status used to reject a request or handshake.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrUnknownUser):
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}
