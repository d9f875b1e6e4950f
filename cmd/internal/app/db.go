package app

import (
	"context"
	"time"

	"lyceum/cmd/identity"
	"lyceum/cmd/internal/audit"
	"lyceum/cmd/internal/cache"
	"lyceum/cmd/internal/coursework"
	"lyceum/cmd/internal/devices"
	"lyceum/cmd/internal/notify"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool and validates connectivity.
// It does NOT create tables; schema.sql in cmd/internal/pgsql is applied out of band.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	pcfg.MinConns = cfg.DBMinConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// backends groups the storage collaborators. Either every store is Postgres-backed or every
// store is in memory; the view cache is chosen independently.
type backends struct {
	users      identity.Store
	notes      notify.Store
	devices    devices.Store
	coursework coursework.Store
	audit      audit.Sink
	cache      cache.Store

	pool  *pgxpool.Pool
	redis *cache.RedisStore
}

func openBackends(ctx context.Context, cfg Config, log Logger) (*backends, error) {
	b := &backends{}
	if err := b.openStores(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openCache(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) openStores(ctx context.Context, cfg Config, log Logger) error {
	slogSink := audit.NewSlogSink(log)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		b.users = identity.NewMemoryStore()
		b.notes = notify.NewMemoryStore()
		b.devices = devices.NewMemoryStore()
		b.coursework = coursework.NewMemoryStore()
		b.audit = slogSink
		return nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	b.pool = pool

	// Ownership model: the app owns the pool; stores never close it.
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	notes, err := notify.NewPostgresStore(pool, notify.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	devs, err := devices.NewPostgresStore(pool, devices.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	work, err := coursework.NewPostgresStore(pool, coursework.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	pgSink, err := audit.NewPostgresSink(pool, log, audit.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}

	b.users, b.notes, b.devices, b.coursework = users, notes, devs, work
	b.audit = audit.Multi{slogSink, pgSink}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return nil
}

func (b *backends) openCache(ctx context.Context, cfg Config, log Logger) error {
	if cfg.RedisURL == "" {
		log.Info("cache.disabled.inmemory_store")
		b.cache = cache.NewMemoryStore()
		return nil
	}
	rs, err := cache.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	b.redis = rs
	b.cache = rs
	log.Info("cache.enabled.redis_store")
	return nil
}

// Close releases the pool and the Redis client.
func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
