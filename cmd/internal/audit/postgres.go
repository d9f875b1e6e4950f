package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lyceum/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5/pgxpool"
)

const insertTimeout = 2 * time.Second

// PostgresSink inserts audit records into <schema>.audit_log.
// Insert failures are logged and swallowed.
type PostgresSink struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	schema string
}

// PostgresOption configures PostgresSink.
type PostgresOption func(*PostgresSink) error

// WithSchema sets the schema holding audit_log (default "lyceum").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresSink) error {
		v, err := pgsql.CheckSchema("audit", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresSink constructs a sink over pool. The pool is owned by the caller.
func NewPostgresSink(pool *pgxpool.Pool, log *slog.Logger, opts ...PostgresOption) (*PostgresSink, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &PostgresSink{pool: pool, log: log, schema: pgsql.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	return s, nil
}

func (s *PostgresSink) LogSecurityEvent(ctx context.Context, ev SecurityEvent) {
	s.insert(ctx, row{
		category:  "security",
		action:    ev.Kind,
		severity:  string(ev.Severity),
		userID:    ev.UserID,
		ip:        ev.IP,
		userAgent: ev.UserAgent,
		meta:      ev.Context,
		at:        stamp(ev.At),
	})
}

func (s *PostgresSink) LogBusinessOperation(ctx context.Context, op BusinessOperation) {
	s.insert(ctx, row{
		category:   "business",
		action:     op.Op,
		outcome:    op.Outcome,
		userID:     op.UserID,
		entityType: op.EntityType,
		entityID:   op.EntityID,
		meta:       op.Context,
		at:         stamp(op.At),
	})
}

type row struct {
	category   string
	action     string
	severity   string
	outcome    string
	userID     string
	entityType string
	entityID   string
	ip         string
	userAgent  string
	meta       map[string]any
	at         time.Time
}

func (s *PostgresSink) insert(parent context.Context, r row) {
	if s == nil || s.pool == nil {
		return
	}
	r.action = strings.TrimSpace(r.action)
	if r.action == "" {
		return
	}

	var metaVal *string
	if len(r.meta) > 0 {
		if b, err := json.Marshal(r.meta); err == nil {
			v := string(b)
			metaVal = &v
		}
	}

	// Detached from the caller's cancellation: the record should land even if the
	// connection that produced it is already gone.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), insertTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+pgsql.Ident(s.schema, "audit_log")+` (
			category, action, severity, outcome, user_id, entity_type, entity_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
	`, r.category, r.action, trimOrNil(r.severity), trimOrNil(r.outcome), trimOrNil(r.userID),
		trimOrNil(r.entityType), trimOrNil(r.entityID), trimOrNil(r.ip), trimOrNil(r.userAgent), metaVal, r.at)
	if err != nil {
		s.log.Error("audit.insert.fail", "err", err, "category", r.category, "action", r.action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
