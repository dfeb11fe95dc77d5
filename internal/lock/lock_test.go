package lock

import (
	"context"
	"testing"
	"time"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewProvider(db)
}

func TestAcquireContentionRelease(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	l1, err := p.TryAcquire(ctx, "job", time.Minute)
	if err != nil || l1 == nil {
		t.Fatalf("first acquire: %v %v", l1, err)
	}
	l2, err := p.TryAcquire(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("contended acquire errored: %v", err)
	}
	if l2 != nil {
		t.Fatalf("second acquire should be refused while held")
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	l3, err := p.TryAcquire(ctx, "job", time.Minute)
	if err != nil || l3 == nil {
		t.Fatalf("acquire after release: %v %v", l3, err)
	}
}

func TestExpiredLeaseIsStolen(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	now := int64(100_000)
	p.nowMs = func() int64 { return now }

	l1, err := p.TryAcquire(ctx, "job", time.Second)
	if err != nil || l1 == nil {
		t.Fatalf("acquire: %v %v", l1, err)
	}

	now += 5_000
	l2, err := p.TryAcquire(ctx, "job", time.Second)
	if err != nil || l2 == nil {
		t.Fatalf("expired lease should be reacquirable: %v %v", l2, err)
	}

	// The lapsed holder's release must not disturb the new lease.
	if err := l1.Release(); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	l3, err := p.TryAcquire(ctx, "job", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if l3 != nil {
		t.Fatalf("new lease should still be held after stale release")
	}
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	a, err := p.TryAcquire(ctx, "job-a", time.Minute)
	if err != nil || a == nil {
		t.Fatalf("acquire a: %v %v", a, err)
	}
	b, err := p.TryAcquire(ctx, "job-b", time.Minute)
	if err != nil || b == nil {
		t.Fatalf("acquire b: %v %v", b, err)
	}
}
