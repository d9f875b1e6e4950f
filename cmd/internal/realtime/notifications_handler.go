package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/httpx"
	"lyceum/cmd/internal/notify"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxReadBodyBytes    = 16 << 10
)

// NotificationsHandler serves a user's own notifications over REST. Routes must be wrapped
// by auth.RequireUser.
type NotificationsHandler struct {
	store notify.Store
	disp  *Dispatcher
	log   *slog.Logger
}

func NewNotificationsHandler(store notify.Store, disp *Dispatcher, log *slog.Logger) *NotificationsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NotificationsHandler{store: store, disp: disp, log: log}
}

// Register mounts the routes on mux, each wrapped by wrap.
func (h *NotificationsHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /api/notifications", wrap(http.HandlerFunc(h.list)))
	mux.Handle("POST /api/notifications/read", wrap(http.HandlerFunc(h.markRead)))
	mux.Handle("DELETE /api/notifications/{id}", wrap(http.HandlerFunc(h.delete)))
}

type notificationsResponse struct {
	Notifications []notificationView `json:"notifications"`
	Count         int                `json:"count"`
}

type notificationView struct {
	ID        int64      `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Priority  string     `json:"priority"`
	Data      any        `json:"data,omitempty"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type markReadRequest struct {
	NotificationIDs []int64 `json:"notificationIds" validate:"required,min=1,max=500,dive,gt=0"`
}

type markReadResponse struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

func (h *NotificationsHandler) list(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	items, err := h.store.List(r.Context(), id.UserID, time.Now().UTC(), limit)
	if err != nil {
		h.log.Error("notifications.list.fail", "user_id", id.UserID, "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "could not load notifications")
		return
	}

	out := notificationsResponse{Notifications: make([]notificationView, 0, len(items)), Count: len(items)}
	for _, n := range items {
		v := notificationView{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			Priority:  string(n.Priority),
			Read:      n.Read,
			ReadAt:    n.ReadAt,
			ExpiresAt: n.ExpiresAt,
			CreatedAt: n.CreatedAt,
		}
		if len(n.Data) > 0 {
			v.Data = n.Data
		}
		out.Notifications = append(out.Notifications, v)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *NotificationsHandler) markRead(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req markReadRequest
	if err := httpx.DecodeAndValidate(w, r, maxReadBodyBytes, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.disp.MarkRead(r.Context(), id.UserID, req.NotificationIDs)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "could not mark notifications read")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, markReadResponse{Success: true, Updated: updated})
}

func (h *NotificationsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	nid, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || nid <= 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid notification id")
		return
	}

	switch err := h.store.Delete(r.Context(), id.UserID, nid); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, notify.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "notification not found")
	default:
		h.log.Error("notifications.delete.fail", "user_id", id.UserID, "notification_id", nid, "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "could not delete notification")
	}
}
