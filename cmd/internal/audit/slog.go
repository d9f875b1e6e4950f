package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes audit records as structured log lines.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink returns a sink writing to log (slog.Default when nil).
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) LogSecurityEvent(ctx context.Context, ev SecurityEvent) {
	level := slog.LevelInfo
	switch ev.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	s.log.Log(ctx, level, "audit.security",
		"kind", ev.Kind,
		"severity", string(ev.Severity),
		"user_id", ev.UserID,
		"ip", ev.IP,
		"user_agent", ev.UserAgent,
		"context", ev.Context,
		"at", stamp(ev.At),
	)
}

func (s *SlogSink) LogBusinessOperation(ctx context.Context, op BusinessOperation) {
	s.log.InfoContext(ctx, "audit.business",
		"op", op.Op,
		"entity_type", op.EntityType,
		"entity_id", op.EntityID,
		"user_id", op.UserID,
		"outcome", op.Outcome,
		"context", op.Context,
		"at", stamp(op.At),
	)
}
