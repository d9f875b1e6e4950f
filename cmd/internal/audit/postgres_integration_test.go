package audit

import (
	"context"
	"testing"
	"time"

	"lyceum/cmd/internal/pgsql"
	"lyceum/cmd/internal/pgsql/pgsqltest"
)

func TestPostgresSink_Inserts(t *testing.T) {
	t.Parallel()

	pool, schema := pgsqltest.Open(t)
	sink, err := NewPostgresSink(pool, nil, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresSink: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sink.LogSecurityEvent(ctx, SecurityEvent{Kind: "ws.auth.unknown_user", Severity: SeverityWarning, IP: "198.51.100.1"})
	sink.LogBusinessOperation(ctx, BusinessOperation{Op: "room.join", EntityType: "room", EntityID: "course:c1", Outcome: "success",
		Context: map[string]any{"member_count": 2}})

	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM `+pgsql.Ident(schema, "audit_log")).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows=%d want 2", n)
	}

	var count float64
	err = pool.QueryRow(ctx,
		`SELECT (meta->>'member_count')::float8 FROM `+pgsql.Ident(schema, "audit_log")+` WHERE category = 'business'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("select meta: %v", err)
	}
	if count != 2 {
		t.Fatalf("member_count=%v", count)
	}
}
