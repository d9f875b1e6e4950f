// Package pgsqltest opens throwaway PostgreSQL schemas for integration tests.
//
// Integration tests are enabled when LYCEUM_TEST_DATABASE_URL is set.
// This keeps local "go test ./..." fast and deterministic without requiring Postgres.
package pgsqltest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"lyceum/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL names the variable that enables integration tests.
const EnvDatabaseURL = "LYCEUM_TEST_DATABASE_URL"

// Open connects to the test database and creates a fresh schema with every table applied.
// The schema and pool are cleaned up when the test ends.
func Open(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	b := make([]byte, 6)
	_, _ = rand.Read(b)
	schema := "lyceum_it_" + hex.EncodeToString(b)

	if err := pgsql.ApplySchema(ctx, pool, schema); err != nil {
		pool.Close()
		t.Fatalf("apply schema: %v", err)
	}

	t.Cleanup(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_, _ = pool.Exec(dctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		pool.Close()
	})

	return pool, schema
}
