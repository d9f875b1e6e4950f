package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestViewKey_DeterministicAndScoped(t *testing.T) {
	t.Parallel()

	a := ViewKey("inst-1", KindPendingGrading, map[string]string{"course": "c1", "page": "1"})
	b := ViewKey("inst-1", KindPendingGrading, map[string]string{"page": "1", "course": "c1"})
	if a != b {
		t.Fatalf("param order changed key: %s vs %s", a, b)
	}
	if c := ViewKey("inst-1", KindPendingGrading, map[string]string{"course": "c2"}); c == a {
		t.Fatalf("different params produced the same key")
	}
	if !strings.HasPrefix(a, "lyceum:view:inst-1:pending_grading:") {
		t.Fatalf("unexpected key shape: %s", a)
	}
	if got := OwnerPrefix("evil:owner", KindStudentDetail); got != "lyceum:view:evil_owner:student_detail" {
		t.Fatalf("owner not sanitized: %s", got)
	}
}

func TestMemoryStore_TTLAndPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "a:1", "x", time.Minute)
	_ = m.Set(ctx, "a:2", "y", 0)
	_ = m.Set(ctx, "b:1", "z", 0)

	if v, ok, _ := m.Get(ctx, "a:1"); !ok || v != "x" {
		t.Fatalf("Get a:1 = %q %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "a:1"); ok {
		t.Fatalf("expected a:1 expired")
	}

	n, err := m.DeleteByPrefix(ctx, "a:")
	if err != nil || n != 1 {
		t.Fatalf("DeleteByPrefix n=%d err=%v", n, err)
	}
	if keys := m.Keys(); len(keys) != 1 || keys[0] != "b:1" {
		t.Fatalf("keys=%v", keys)
	}
}

func TestCoordinator_InvalidateOnlyTouchesOwnerAndKinds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	c := NewCoordinator(store, time.Minute, discardLogger())

	keep1 := ViewKey("inst-2", KindPendingGrading, nil)
	keep2 := ViewKey("inst-1", KindCourseRoster, nil)
	drop1 := ViewKey("inst-1", KindPendingGrading, map[string]string{"course": "c1"})
	drop2 := ViewKey("inst-1", KindStudentDetail, map[string]string{"student": "s1"})
	for _, k := range []string{keep1, keep2, drop1, drop2} {
		_ = store.Set(ctx, k, "{}", 0)
	}

	c.Invalidate(ctx, "inst-1", KindPendingGrading, KindStudentDetail)

	got := store.Keys()
	if len(got) != 2 {
		t.Fatalf("keys=%v", got)
	}
	for _, k := range got {
		if k != keep1 && k != keep2 {
			t.Fatalf("unexpected survivor %s", k)
		}
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}

func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("down")
}

func (brokenStore) DeleteByPrefix(context.Context, string) (int, error) {
	return 0, errors.New("down")
}

func TestCoordinator_FailuresDegrade(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(brokenStore{}, time.Minute, discardLogger())
	c.Invalidate(context.Background(), "inst-1", KindPendingGrading)

	v, err := Load(context.Background(), c, KindPendingGrading, "k", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Load = %d, %v", v, err)
	}
}

func TestLoad_CacheAside(t *testing.T) {
	t.Parallel()

	type view struct {
		Count int `json:"count"`
	}

	ctx := context.Background()
	c := NewCoordinator(NewMemoryStore(), time.Minute, discardLogger())
	key := ViewKey("inst-1", KindPendingGrading, map[string]string{"course": "c1"})

	var calls atomic.Int32
	loader := func(context.Context) (view, error) {
		calls.Add(1)
		return view{Count: 3}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := Load(ctx, c, KindPendingGrading, key, loader)
		if err != nil || v.Count != 3 {
			t.Fatalf("Load #%d = %+v, %v", i, v, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("loader calls=%d want 1", calls.Load())
	}

	c.Invalidate(ctx, "inst-1", KindPendingGrading)
	if _, err := Load(ctx, c, KindPendingGrading, key, loader); err != nil {
		t.Fatalf("Load after invalidate: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("loader calls=%d want 2 after invalidation", calls.Load())
	}

	boom := errors.New("boom")
	other := ViewKey("inst-1", KindPendingGrading, map[string]string{"course": "c9"})
	if _, err := Load(ctx, c, KindPendingGrading, other, func(context.Context) (view, error) {
		return view{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestEscapeGlob(t *testing.T) {
	t.Parallel()

	if got := escapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Fatalf("escapeGlob=%s", got)
	}
}
