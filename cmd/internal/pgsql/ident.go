// Package pgsql holds the small PostgreSQL helpers shared by every pgx-backed store:
// identifier quoting, schema validation, error classification and the reference schema.
package pgsql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is the schema used by stores unless overridden with a WithSchema option.
const DefaultSchema = "lyceum"

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain PostgreSQL identifier.
func ValidIdent(s string) bool {
	return identRE.MatchString(s)
}

// CheckSchema trims and validates a schema name for use in a store option.
func CheckSchema(pkg, schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", fmt.Errorf("%s: empty schema", pkg)
	}
	if !ValidIdent(schema) {
		return "", fmt.Errorf("%s: invalid schema identifier", pkg)
	}
	return schema, nil
}

// Ident safely quotes a schema-qualified identifier: "schema"."table".
func Ident(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// UniqueViolation returns the violated constraint name when err is a unique_violation.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	return pgErr.ConstraintName, true
}

// IsForeignKeyViolation reports whether err is a foreign_key_violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
