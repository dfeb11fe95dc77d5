package tenant

import (
	"testing"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

func TestEnsureIdempotent(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	a, err := Ensure(db, "acme")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if a.Name != "acme" || a.PayloadMaxBytes != 1<<20 {
		t.Fatalf("defaults not applied: %+v", a)
	}
	b, err := Ensure(db, "acme")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if b.CreatedAtMs != a.CreatedAtMs {
		t.Fatalf("second ensure must return existing record")
	}
	if _, ok := Get(db, "missing"); ok {
		t.Fatalf("missing tenant should not resolve")
	}
}

func TestEnsureWithAppliesDefaults(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	m, err := EnsureWith(db, "acme", Meta{PayloadMaxBytes: 512})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if m.PayloadMaxBytes != 512 {
		t.Fatalf("override lost: %+v", m)
	}
	// Existing records win over new defaults.
	m, err = EnsureWith(db, "acme", Meta{PayloadMaxBytes: 9999})
	if err != nil {
		t.Fatalf("reensure: %v", err)
	}
	if m.PayloadMaxBytes != 512 {
		t.Fatalf("existing record replaced: %+v", m)
	}
	// Zero defaults fall back to the built-in ceiling.
	m, err = EnsureWith(db, "beta", Meta{})
	if err != nil {
		t.Fatalf("ensure beta: %v", err)
	}
	if m.PayloadMaxBytes != 1<<20 {
		t.Fatalf("fallback not applied: %+v", m)
	}
}
