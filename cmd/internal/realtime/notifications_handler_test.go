package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/notify"
)

func newNotificationsServer(t *testing.T) (*http.ServeMux, *Dispatcher, *notify.MemoryStore, *Registry) {
	t.Helper()
	reg := NewRegistry()
	store := notify.NewMemoryStore()
	disp := NewDispatcher(reg, store, discardLogger())

	mux := http.NewServeMux()
	asUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := r.Header.Get("X-Test-User")
			ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{UserID: uid, Role: identity.RoleStudent})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	NewNotificationsHandler(store, disp, discardLogger()).Register(mux, asUser)
	return mux, disp, store, reg
}

func doAs(mux http.Handler, userID, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("X-Test-User", userID)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestNotificationsHandler_ListAndLimit(t *testing.T) {
	mux, disp, _, _ := newNotificationsServer(t)
	ctx := context.Background()
	for _, sub := range []string{"sub1", "sub2", "sub3"} {
		if _, err := disp.SendToUser(ctx, "s1", gradedNotice(sub, 60)); err != nil {
			t.Fatalf("SendToUser: %v", err)
		}
	}
	if _, err := disp.SendToUser(ctx, "s2", gradedNotice("other", 60)); err != nil {
		t.Fatalf("SendToUser: %v", err)
	}

	w := doAs(mux, "s1", http.MethodGet, "/api/notifications?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var got notificationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != 2 || len(got.Notifications) != 2 || got.Notifications[0].ID < got.Notifications[1].ID {
		t.Fatalf("unexpected list: %+v", got)
	}

	if w := doAs(mux, "s1", http.MethodGet, "/api/notifications?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status %d", w.Code)
	}
}

func TestNotificationsHandler_MarkReadValidatesAndEchoes(t *testing.T) {
	mux, disp, store, reg := newNotificationsServer(t)
	ctx := context.Background()
	rec, err := disp.SendToUser(ctx, "s1", gradedNotice("sub1", 80))
	if err != nil {
		t.Fatalf("SendToUser: %v", err)
	}
	device := registerClient(t, reg, "c1", "s1", identity.RoleStudent)

	for _, body := range []string{`{}`, `{"notificationIds":[]}`, `{"notificationIds":[0]}`, `{"bogus":1}`} {
		if w := doAs(mux, "s1", http.MethodPost, "/api/notifications/read", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d", body, w.Code)
		}
	}
	assertEmpty(t, device)

	body := `{"notificationIds":[` + strconv.FormatInt(rec.ID, 10) + `]}`
	w := doAs(mux, "s1", http.MethodPost, "/api/notifications/read", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp markReadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.Success || resp.Updated != 1 {
		t.Fatalf("unexpected response: %+v %v", resp, err)
	}
	if env := recv(t, device); env.Type != "notifications_marked_read" {
		t.Fatalf("expected echo, got %s", env.Type)
	}

	// Another user's ids are not touched.
	if w := doAs(mux, "s2", http.MethodPost, "/api/notifications/read", body); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	} else if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Updated != 0 {
		t.Fatalf("cross-user mark read updated %d", resp.Updated)
	}

	if n, _ := store.ListUnread(ctx, "s1", rec.CreatedAt, 0); len(n) != 0 {
		t.Fatalf("still unread")
	}
}

func TestNotificationsHandler_Delete(t *testing.T) {
	mux, disp, _, _ := newNotificationsServer(t)
	rec, err := disp.SendToUser(context.Background(), "s1", gradedNotice("sub1", 80))
	if err != nil {
		t.Fatalf("SendToUser: %v", err)
	}
	path := "/api/notifications/" + strconv.FormatInt(rec.ID, 10)

	if w := doAs(mux, "s2", http.MethodDelete, path, ""); w.Code != http.StatusNotFound {
		t.Fatalf("foreign delete: status %d", w.Code)
	}
	if w := doAs(mux, "s1", http.MethodDelete, path, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", w.Code)
	}
	if w := doAs(mux, "s1", http.MethodDelete, path, ""); w.Code != http.StatusNotFound {
		t.Fatalf("repeat delete: status %d", w.Code)
	}
	if w := doAs(mux, "s1", http.MethodDelete, "/api/notifications/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d", w.Code)
	}
}
