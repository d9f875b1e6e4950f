package identity

import (
	"context"
	"errors"
	"strings"

	"lyceum/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the directory over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the store (default "lyceum").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgsql.CheckSchema("identity", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: pgsql.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

// FindUser implements Directory.
func (s *PostgresStore) FindUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.FindUser"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}

	var (
		u    User
		role string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role, active, created_at
		  FROM `+pgsql.Ident(s.schema, "users")+`
		 WHERE id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.Email, &role, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, UserID: userID}
	}
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// CreateUser inserts a user.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := in.normalize(op)
	if err != nil {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+pgsql.Ident(s.schema, "users")+` (id, name, email, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, in.ID, in.Name, in.Email, string(in.Role), in.Active, in.Now)
	if c, ok := pgsql.UniqueViolation(err); ok {
		field := "id"
		if strings.Contains(strings.ToLower(c), "email") {
			field = "email"
		}
		return User{}, ConflictError{Op: op, Field: field}
	}
	if err != nil {
		return User{}, err
	}

	return User{
		ID:        in.ID,
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		Active:    in.Active,
		CreatedAt: in.Now,
	}, nil
}

// SetActive flips a user's active flag.
func (s *PostgresStore) SetActive(ctx context.Context, userID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgsql.Ident(s.schema, "users")+` SET active = $2 WHERE id = $1`,
		userID, active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.SetActive", UserID: userID}
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
