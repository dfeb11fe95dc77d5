package pebblestore

import (
	"errors"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetGetDelete(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %q %v", got, err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCreatesAndMutates(t *testing.T) {
	db := openTestDB(t)
	key := []byte("counter")
	incr := func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return []byte{1}, true, nil
		}
		return []byte{current[0] + 1}, true, nil
	}
	for i := 0; i < 3; i++ {
		if err := db.Update(key, incr); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	got, err := db.Get(key)
	if err != nil || got[0] != 3 {
		t.Fatalf("expected 3, got %v %v", got, err)
	}
}

func TestUpdateDeleteAndAbort(t *testing.T) {
	db := openTestDB(t)
	key := []byte("k")
	if err := db.Set(key, []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	// abort leaves the value untouched
	wantErr := errors.New("no thanks")
	if err := db.Update(key, func([]byte, bool) ([]byte, bool, error) {
		return nil, false, wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if got, _ := db.Get(key); string(got) != "v" {
		t.Fatalf("value should be untouched, got %q", got)
	}
	// keep=false deletes
	if err := db.Update(key, func([]byte, bool) ([]byte, bool, error) {
		return nil, false, nil
	}); err != nil {
		t.Fatalf("update delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted, got %v", err)
	}
}
