package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/rivenhq/riven/internal/lock"
	"github.com/rivenhq/riven/internal/roster"
	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

func newFixture(t *testing.T) (*roster.Store, *roster.HeartbeatCache, *lock.Provider) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return roster.NewStore(db), roster.NewHeartbeatCache(), lock.NewProvider(db)
}

func TestRunFlushesCachedHeartbeats(t *testing.T) {
	agents, cache, locks := newFixture(t)
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := agents.Register(&roster.Agent{ID: id, TenantID: "acme"}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	cache.Touch("acme", "a1", 1000)
	cache.Touch("acme", "a2", 2000)

	r := New(agents, cache, locks, Options{})
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Skipped || stats.Scanned != 3 || stats.Staged != 2 || stats.Writes != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	a1, _, _ := agents.Get("acme", "a1")
	if a1.LastHeartbeatMs != 1000 {
		t.Fatalf("a1 heartbeat not written: %+v", a1)
	}
	a3, _, _ := agents.Get("acme", "a3")
	if a3.LastHeartbeatMs != 0 {
		t.Fatalf("a3 had no cached ping, must stay untouched: %+v", a3)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	agents, cache, locks := newFixture(t)
	if err := agents.Register(&roster.Agent{ID: "a1", TenantID: "acme"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	cache.Touch("acme", "a1", 1000)

	r := New(agents, cache, locks, Options{})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Staged != 0 || stats.Writes != 0 {
		t.Fatalf("second run over unchanged cache must write nothing: %+v", stats)
	}
}

func TestRunSkipsWhenLeaseHeld(t *testing.T) {
	agents, cache, locks := newFixture(t)
	held, err := locks.TryAcquire(context.Background(), "heartbeat-reconciler", time.Minute)
	if err != nil || held == nil {
		t.Fatalf("pre-acquire: %v %v", held, err)
	}

	r := New(agents, cache, locks, Options{})
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !stats.Skipped || stats.Scanned != 0 {
		t.Fatalf("contended run must do nothing: %+v", stats)
	}
}

func TestRunReleasesLease(t *testing.T) {
	agents, cache, locks := newFixture(t)
	r := New(agents, cache, locks, Options{})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	held, err := locks.TryAcquire(context.Background(), "heartbeat-reconciler", time.Minute)
	if err != nil || held == nil {
		t.Fatalf("lease should be free after run: %v %v", held, err)
	}
}
