// Package app wires the Lyceum server runtime: config, logging, storage backends, the realtime
// gateway, and the REST surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"lyceum/cmd/internal/auth"
	"lyceum/cmd/internal/cache"
	"lyceum/cmd/internal/coursework"
	"lyceum/cmd/internal/devices"
	"lyceum/cmd/internal/realtime"

	"golang.org/x/sync/errgroup"
)

// App is the Lyceum server runtime: it owns the HTTP server, the realtime gateway and the
// storage backends.
type App struct {
	cfg Config
	log Logger

	back   *backends
	tokens auth.TokenManager

	reg  *realtime.Registry
	disp *realtime.Dispatcher
	ws   *realtime.WSGateway
	svc  *coursework.Service

	handler http.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	tokens, acfg, err := newTokenManager(cfg, log)
	if err != nil {
		return nil, err
	}

	back, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, back, tokens, acfg)
	if err != nil {
		back.Close()
		return nil, err
	}

	if cfg.DevSeed {
		if err := seedDev(ctx, back.users, back.coursework, tokens, log); err != nil {
			back.Close()
			return nil, err
		}
	}
	return a, nil
}

func wire(cfg Config, log Logger, back *backends, tokens auth.TokenManager, acfg auth.Config) (*App, error) {
	authn := auth.NewAuthenticator(tokens, back.users, back.audit, log)

	reg := realtime.NewRegistry()
	disp := realtime.NewDispatcher(reg, back.notes, log,
		realtime.WithDrainLimit(EnvInt("LYCEUM_NOTIFICATION_DRAIN_LIMIT", 0)),
	)
	rooms := realtime.NewRooms(reg, back.coursework, back.audit, log)

	gwCfg := realtime.LoadGatewayConfigFromEnv()
	if _, set := envValue("LYCEUM_WS_AUTH_TIMEOUT"); !set {
		gwCfg.AuthTimeout = acfg.HandshakeTimeout
	}
	ws, err := realtime.NewWSGateway(gwCfg, realtime.GatewayDeps{
		Auth:       authn,
		Registry:   reg,
		Rooms:      rooms,
		Dispatcher: disp,
		Devices:    devices.NewRecorder(back.devices, log, 2*time.Second),
		Log:        log,
	})
	if err != nil {
		return nil, err
	}

	svc, err := coursework.NewService(coursework.Deps{
		Store:    back.coursework,
		Users:    back.users,
		Notifier: disp,
		Cache:    cache.NewCoordinator(back.cache, cfg.CacheTTL, log),
		Audit:    back.audit,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		log:    log,
		back:   back,
		tokens: tokens,
		reg:    reg,
		disp:   disp,
		ws:     ws,
		svc:    svc,
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux, authn)
	a.handler = WithRequestID(WithRequestLogging(mux, log))
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs the notification purge loop until ctx is cancelled or the server
// fails, then shuts down: realtime connections first, HTTP second, backends last.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.back.pool != nil,
		"redis_enabled", a.back.redis != nil,
		"pid", os.Getpid(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.purgeLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")
		return a.shutdown(srv)
	})

	err := g.Wait()
	a.back.Close()
	a.log.Info("server.stopped")
	return err
}

func (a *App) shutdown(srv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := a.ws.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("ws.shutdown.incomplete", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	return nil
}

// purgeLoop deletes expired notifications every NotificationPurgeInterval.
func (a *App) purgeLoop(ctx context.Context) {
	t := time.NewTicker(a.cfg.NotificationPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.purgeExpired(ctx)
		}
	}
}

func (a *App) purgeExpired(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := a.back.notes.DeleteExpired(pctx, time.Now().UTC())
	if err != nil {
		a.log.Error("notify.purge.fail", "err", err)
		return
	}
	if n > 0 {
		a.log.Info("notify.purge", "deleted", n)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
