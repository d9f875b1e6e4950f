package notify

import (
	"context"
	"errors"
	"time"

	"lyceum/cmd/internal/pgsql"
	v1 "lyceum/shared/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists notifications in <schema>.notifications.
//
// The pool is owned by the caller. Insertion ids come from a BIGSERIAL, which gives the
// monotonic tie-break the drain order relies on.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the notifications table (default "lyceum").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgsql.CheckSchema("notify", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
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
		return nil, errors.New("notify: nil pool")
	}
	return st, nil
}

const notificationColumns = `id, user_id, type, title, message, priority, data, read, read_at, expires_at, created_at`

func (s *PostgresStore) table() string { return pgsql.Ident(s.schema, "notifications") }

func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Notification, error) {
	in, err := in.normalize()
	if err != nil {
		return Notification{}, err
	}

	var data any
	if len(in.Data) > 0 {
		data = string(in.Data)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (user_id, type, title, message, priority, data, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		RETURNING `+notificationColumns,
		in.UserID, string(in.Type), in.Title, in.Message, string(in.Priority), data, in.ExpiresAt, in.Now,
	)
	return scanNotification(row)
}

func (s *PostgresStore) ListUnread(ctx context.Context, userID string, now time.Time, limit int) ([]Notification, error) {
	return s.list(ctx, `
		SELECT `+notificationColumns+`
		  FROM `+s.table()+`
		 WHERE user_id = $1
		   AND read = FALSE
		   AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`, userID, now, limit)
}

func (s *PostgresStore) List(ctx context.Context, userID string, now time.Time, limit int) ([]Notification, error) {
	return s.list(ctx, `
		SELECT `+notificationColumns+`
		  FROM `+s.table()+`
		 WHERE user_id = $1
		   AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`, userID, now, limit)
}

func (s *PostgresStore) list(ctx context.Context, query, userID string, now time.Time, limit int) ([]Notification, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, query, userID, now, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Notification, 0, 16)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID string, ids []int64, now time.Time) (int, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		   SET read = TRUE, read_at = $3
		 WHERE user_id = $1
		   AND id = ANY($2)
		   AND read = FALSE
	`, userID, ids, now.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n        Notification
		typ, pri string
		data     []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &pri, &data, &n.Read, &n.ReadAt, &n.ExpiresAt, &n.CreatedAt); err != nil {
		return Notification{}, err
	}
	n.Type = v1.BusinessEventName(typ)
	n.Priority = v1.Priority(pri)
	if len(data) > 0 {
		n.Data = data
	}
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
