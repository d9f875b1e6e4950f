package devices

import (
	"context"
	"log/slog"
	"time"
)

const defaultRecordTimeout = 2 * time.Second

// Recorder is the best-effort front of a Store used by the connection lifecycle.
// Failures are logged and never block or fail the connection.
type Recorder struct {
	store   Store
	log     *slog.Logger
	timeout time.Duration
}

// NewRecorder wraps store. A timeout <= 0 uses 2s.
func NewRecorder(store Store, log *slog.Logger, timeout time.Duration) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	return &Recorder{store: store, log: log, timeout: timeout}
}

// Opened records a new connection.
func (r *Recorder) Opened(ctx context.Context, s Session) {
	if r == nil || r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.Open(ctx, s); err != nil {
		r.log.Warn("devices.open.fail",
			"conn_id", s.ConnectionID,
			"user_id", s.UserID,
			"err", err,
		)
	}
}

// Closed stamps the end of a connection. It runs after the connection context is gone, so the
// caller's cancellation is ignored.
func (r *Recorder) Closed(ctx context.Context, connID, reason string, at time.Time) {
	if r == nil || r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.Close(ctx, connID, reason, at); err != nil {
		r.log.Warn("devices.close.fail",
			"conn_id", connID,
			"reason", reason,
			"err", err,
		)
	}
}
