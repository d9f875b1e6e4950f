package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"lyceum/cmd/internal/metrics"
)

const defaultOpTimeout = 2 * time.Second

// Coordinator owns the cache for instructor views. Reads go through Load and writes call
// Invalidate; neither ever fails the caller because of the cache.
type Coordinator struct {
	store   Store
	log     *slog.Logger
	ttl     time.Duration
	timeout time.Duration
}

// NewCoordinator wraps store. ttl is the lifetime of cached views; ttl <= 0 disables expiry.
func NewCoordinator(store Store, ttl time.Duration, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: store, log: log, ttl: ttl, timeout: defaultOpTimeout}
}

// TTL returns the lifetime applied to cached views.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

// Invalidate drops every cached view of the given kinds owned by owner.
// Failures are logged and counted; the caller's write has already committed.
func (c *Coordinator) Invalidate(ctx context.Context, owner string, kinds ...Kind) {
	if c == nil || c.store == nil || strings.TrimSpace(owner) == "" {
		return
	}
	for _, kind := range kinds {
		prefix := OwnerPrefix(owner, kind)

		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		n, err := c.store.DeleteByPrefix(opCtx, prefix)
		cancel()

		if err != nil {
			metrics.RecordInvalidation(string(kind), "error")
			c.log.Warn("cache.invalidate.fail",
				"owner", owner,
				"kind", string(kind),
				"err", err,
			)
			continue
		}
		metrics.RecordInvalidation(string(kind), "ok")
		c.log.Debug("cache.invalidate",
			"owner", owner,
			"kind", string(kind),
			"deleted", n,
		)
	}
}

// Load is a cache-aside read of key. On a hit the cached JSON is decoded into T; on a miss or any
// cache failure, load runs and its result is stored. Errors from load are returned unchanged and
// never cached.
func Load[T any](ctx context.Context, c *Coordinator, kind Kind, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil || c.store == nil {
		return load(ctx)
	}

	getCtx, cancel := context.WithTimeout(ctx, c.timeout)
	raw, ok, err := c.store.Get(getCtx, key)
	cancel()

	switch {
	case err != nil:
		metrics.RecordCacheLookup(string(kind), "error")
		c.log.Warn("cache.get.fail", "key", key, "err", err)
	case ok:
		var v T
		uerr := json.Unmarshal([]byte(raw), &v)
		if uerr == nil {
			metrics.RecordCacheLookup(string(kind), "hit")
			return v, nil
		}
		metrics.RecordCacheLookup(string(kind), "corrupt")
		c.log.Warn("cache.decode.fail", "key", key, "err", uerr)
	default:
		metrics.RecordCacheLookup(string(kind), "miss")
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	b, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache.encode.fail", "key", key, "err", err)
		return v, nil
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.store.Set(setCtx, key, string(b), c.ttl); err != nil {
		c.log.Warn("cache.set.fail", "key", key, "err", err)
	}
	return v, nil
}
