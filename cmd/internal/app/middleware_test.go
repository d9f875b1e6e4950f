package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lyceum/cmd/internal/httpx"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
	}{
		{status: 101, wantLevel: slog.LevelInfo, wantResult: "success"},
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error"},
	}
	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
	}
}

func TestRequestIDAndLogging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := WithRequestID(WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httpx.RequestIDFrom(r.Context())
		httpx.WriteError(w, r, http.StatusNotFound, "nope")
	}), log))

	req := httptest.NewRequest(http.MethodGet, "/api/grading/students/x", nil)
	req.Header.Set(httpx.RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "req-123" || rr.Header().Get(httpx.RequestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rr.Header().Get(httpx.RequestIDHeader))
	}
	var body httpx.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.RequestID != "req-123" {
		t.Fatalf("error envelope: %s", rr.Body.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("log line: %v (%q)", err, buf.String())
	}
	if rec["level"] != "WARN" || rec["status"] != float64(404) || rec["request_id"] != "req-123" || rec["result"] != "client_error" {
		t.Fatalf("unexpected log record: %v", rec)
	}
}

func TestRequestID_GeneratedWhenMissingOrOversized(t *testing.T) {
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, inbound := range []string{"", strings.Repeat("x", 500)} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if inbound != "" {
			req.Header.Set(httpx.RequestIDHeader, inbound)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		got := rr.Header().Get(httpx.RequestIDHeader)
		if got == "" || got == inbound || len(got) != 36 {
			t.Fatalf("expected generated uuid, got %q", got)
		}
	}
}

func TestLoggingResponseWriter_PreservesFlusher(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Fatalf("flusher lost")
		}
		if _, ok := w.(http.Hijacker); !ok {
			t.Fatalf("hijacker lost")
		}
		_, _ = w.Write([]byte("ok"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Body.String() != "ok" {
		t.Fatalf("body: %q", rr.Body.String())
	}
}
