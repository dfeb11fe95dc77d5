package roster

import (
	"context"
	"testing"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

func openTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegisterGetRemove(t *testing.T) {
	s := NewStore(openTestDB(t))
	a := &Agent{ID: "a1", TenantID: "acme", SupportedTypes: []string{"build"}, Capacity: 4}
	if err := s.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok, err := s.Get("acme", "a1")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if got.Capacity != 4 || !got.Supports("build") {
		t.Fatalf("agent mismatch: %+v", got)
	}
	if got.Supports("deploy") {
		t.Fatalf("should not support deploy")
	}

	if err := s.Remove("acme", "a1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get("acme", "a1"); ok {
		t.Fatalf("agent survived remove")
	}
}

func TestSupportsEmptyListAcceptsAll(t *testing.T) {
	a := &Agent{ID: "a1", TenantID: "acme"}
	if !a.Supports("anything") {
		t.Fatalf("empty type list should accept all")
	}
}

func TestListIsTenantScoped(t *testing.T) {
	s := NewStore(openTestDB(t))
	for _, a := range []*Agent{
		{ID: "a1", TenantID: "acme"},
		{ID: "a2", TenantID: "acme"},
		{ID: "b1", TenantID: "beta"},
	} {
		if err := s.Register(a); err != nil {
			t.Fatalf("register %s: %v", a.ID, err)
		}
	}
	agents, err := s.List("acme")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 acme agents, got %d", len(agents))
	}
}

func TestRefsWalksKeysOnly(t *testing.T) {
	s := NewStore(openTestDB(t))
	for _, a := range []*Agent{
		{ID: "a1", TenantID: "acme"},
		{ID: "b1", TenantID: "beta"},
	} {
		if err := s.Register(a); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	var refs []Ref
	err := s.Refs(context.Background(), func(r Ref) error {
		refs = append(refs, r)
		return nil
	})
	if err != nil {
		t.Fatalf("refs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %v", refs)
	}
	if refs[0] != (Ref{TenantID: "acme", AgentID: "a1"}) {
		t.Fatalf("unexpected first ref: %+v", refs[0])
	}
}

func TestAdjustAssignedClampsAtZero(t *testing.T) {
	s := NewStore(openTestDB(t))
	if err := s.Register(&Agent{ID: "a1", TenantID: "acme", Capacity: 2}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.AdjustAssigned("acme", "a1", 2); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if err := s.AdjustAssigned("acme", "a1", -5); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	got, _, _ := s.Get("acme", "a1")
	if got.Assigned != 0 {
		t.Fatalf("expected clamp at zero, got %d", got.Assigned)
	}
	if err := s.AdjustAssigned("acme", "missing", 1); err == nil {
		t.Fatalf("adjust on missing agent should fail")
	}
}

func TestHeartbeatCacheKeepsLatest(t *testing.T) {
	c := NewHeartbeatCache()
	c.Touch("acme", "a1", 1000)
	c.Touch("acme", "a1", 500)
	at, ok := c.Get("acme", "a1")
	if !ok || at != 1000 {
		t.Fatalf("expected 1000, got %d %v", at, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("expected single entry")
	}
}

func TestBulkWriterFlushAndIdempotence(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	for _, id := range []string{"a1", "a2"} {
		if err := s.Register(&Agent{ID: id, TenantID: "acme"}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	w := NewBulkWriter(db, 0)
	if err := w.Stage(Ref{TenantID: "acme", AgentID: "a1"}, 2000); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := w.Stage(Ref{TenantID: "acme", AgentID: "a2"}, 3000); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if w.Writes != 2 || w.Flushes != 1 {
		t.Fatalf("counters: writes=%d flushes=%d", w.Writes, w.Flushes)
	}
	got, _, _ := s.Get("acme", "a2")
	if got.LastHeartbeatMs != 3000 {
		t.Fatalf("heartbeat not flushed: %+v", got)
	}

	// Staging the same timestamps again is a no-op on flush.
	_ = w.Stage(Ref{TenantID: "acme", AgentID: "a1"}, 2000)
	_ = w.Stage(Ref{TenantID: "acme", AgentID: "a2"}, 3000)
	if err := w.Flush(); err != nil {
		t.Fatalf("reflush: %v", err)
	}
	if w.Writes != 2 || w.Flushes != 1 {
		t.Fatalf("second flush should write nothing: writes=%d flushes=%d", w.Writes, w.Flushes)
	}
}

func TestBulkWriterAutoFlushThreshold(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	for _, id := range []string{"a1", "a2"} {
		if err := s.Register(&Agent{ID: id, TenantID: "acme"}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	w := NewBulkWriter(db, 2)
	_ = w.Stage(Ref{TenantID: "acme", AgentID: "a1"}, 1000)
	if err := w.Stage(Ref{TenantID: "acme", AgentID: "a2"}, 1000); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if w.Staged() != 0 || w.Flushes != 1 {
		t.Fatalf("threshold flush did not fire: staged=%d flushes=%d", w.Staged(), w.Flushes)
	}
}
