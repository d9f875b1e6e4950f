package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCredentialFromRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{name: "none", target: "/ws"},
		{name: "bearer header", target: "/ws", header: map[string]string{"Authorization": "Bearer abc"}, want: "abc"},
		{name: "lowercase scheme", target: "/ws", header: map[string]string{"Authorization": "bearer abc"}, want: "abc"},
		{name: "non-bearer header wins and yields nothing", target: "/ws?access_token=q", header: map[string]string{"Authorization": "Basic xyz"}},
		{name: "query param", target: "/ws?access_token=q1", want: "q1"},
		{name: "subprotocol", target: "/ws", header: map[string]string{"Sec-WebSocket-Protocol": "lyceum.realtime.v1, bearer.tok"}, want: "tok"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		for k, v := range tc.header {
			req.Header.Set(k, v)
		}
		if got := CredentialFromRequest(req); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := ClientIP(req); got != "10.0.0.1" {
		t.Fatalf("remote addr: %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("xff: %q", got)
	}
}
