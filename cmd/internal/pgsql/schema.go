package pgsql

import (
	"context"
	_ "embed"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// SchemaSQL returns the reference DDL rendered for schema.
// Production schema changes are applied out of band; this is what the stores expect.
func SchemaSQL(schema string) string {
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize())
}

// ApplySchema creates schema (if missing) and every table the stores need.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if _, err := CheckSchema("pgsql", schema); err != nil {
		return err
	}
	_, err := pool.Exec(ctx, SchemaSQL(schema))
	return err
}
