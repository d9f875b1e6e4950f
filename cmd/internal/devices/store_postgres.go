package devices

import (
	"context"
	"errors"
	"time"

	"lyceum/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in <schema>.device_sessions.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding device_sessions (default "lyceum").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgsql.CheckSchema("devices", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgsql.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("devices: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgsql.Ident(s.schema, "device_sessions") }

func (s *PostgresStore) Open(ctx context.Context, sess Session) error {
	if err := sess.validate(); err != nil {
		return err
	}
	if sess.ConnectedAt.IsZero() {
		sess.ConnectedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+`
			(connection_id, user_id, device_class, os, browser, ip, user_agent, connected_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		ON CONFLICT (connection_id) DO NOTHING
	`, sess.ConnectionID, sess.UserID, string(sess.Device.Class), sess.Device.OS, sess.Device.Browser,
		sess.Device.IP, sess.Device.UserAgent, sess.ConnectedAt.UTC())
	return err
}

func (s *PostgresStore) Close(ctx context.Context, connID, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		   SET disconnected_at = $2, disconnect_reason = NULLIF($3, '')
		 WHERE connection_id = $1
		   AND disconnected_at IS NULL
	`, connID, at.UTC(), reason)
	return err
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT connection_id, user_id, device_class, os, browser,
		       COALESCE(ip, ''), COALESCE(user_agent, ''),
		       connected_at, disconnected_at, COALESCE(disconnect_reason, '')
		  FROM `+s.table()+`
		 WHERE user_id = $1
		 ORDER BY connected_at DESC
		 LIMIT $2
	`, userID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess  Session
			class string
		)
		if err := rows.Scan(&sess.ConnectionID, &sess.UserID, &class, &sess.Device.OS, &sess.Device.Browser,
			&sess.Device.IP, &sess.Device.UserAgent, &sess.ConnectedAt, &sess.DisconnectedAt, &sess.DisconnectReason); err != nil {
			return nil, err
		}
		sess.Device.Class = Class(class)
		out = append(out, sess)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
