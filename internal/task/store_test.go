package task

import (
	"testing"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestPutGetSetStatus(t *testing.T) {
	s := openTestStore(t)
	tk := New("acme", "build", []byte("p"))
	rec := &Record{Task: *tk, Status: StatusDispatched, AgentID: "a1", DispatchedAtMs: 1000}
	if err := s.Put(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get("acme", tk.ID)
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if got.AgentID != "a1" || got.Status != StatusDispatched {
		t.Fatalf("record mismatch: %+v", got)
	}

	if err := s.SetStatus("acme", tk.ID, StatusDone, 2000); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _, _ = s.Get("acme", tk.ID)
	if got.Status != StatusDone || got.CompletedAtMs != 2000 {
		t.Fatalf("status transition lost: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, ok, err := s.Get("acme", "nope"); ok || err != nil {
		t.Fatalf("missing record: %v %v", ok, err)
	}
	if err := s.SetStatus("acme", "nope", StatusDone, 0); err == nil {
		t.Fatalf("set status on missing record should fail")
	}
}
