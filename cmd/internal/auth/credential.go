package auth

import (
	"net"
	"net/http"
	"strings"
)

// BearerSubprotocolPrefix lets browser clients, which cannot set headers on a WebSocket
// handshake, pass the token as an extra subprotocol entry: "bearer.<token>".
const BearerSubprotocolPrefix = "bearer."

// CredentialFromRequest extracts the raw access token from, in order: the Authorization
// header, the access_token query parameter, or a bearer.* WebSocket subprotocol.
func CredentialFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}

	if v := strings.TrimSpace(r.URL.Query().Get("access_token")); v != "" {
		return v
	}

	for _, p := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, BearerSubprotocolPrefix) {
			return strings.TrimPrefix(p, BearerSubprotocolPrefix)
		}
	}
	return ""
}

// ClientIP returns the caller's address, preferring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
