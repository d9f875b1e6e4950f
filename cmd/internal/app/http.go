package app

import (
	"net/http"
	"time"

	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/coursework"
	"lyceum/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *App) registerHTTP(mux *http.ServeMux, authn *auth.Authenticator) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", a.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("/ws", a.ws)

	realtime.NewNotificationsHandler(a.back.notes, a.disp, a.log).Register(mux, authn.RequireUser)
	coursework.NewHandler(a.svc, a.log).Register(mux, authn.RequireUser)
}

func (a *App) readyz(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.back.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.back.pool != nil {
		if err := PingDB(r.Context(), a.back.pool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.back.redis != nil {
		if err := a.back.redis.Ping(r.Context()); err != nil {
			a.log.Info("readyz.redis.not_ready", "err", err)
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
