package pebblestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval enables group-commit by allowing Pebble to coalesce WAL
	// syncs for operations within the configured interval.
	FsyncModeInterval
	// FsyncModeNever avoids forcing WAL syncs from the application. Pebble may
	// still sync based on its own policies.
	FsyncModeNever
)

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning. If nil, sensible defaults are used.
	PebbleOptions *pebble.Options
}

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = pebble.ErrNotFound

// DB wraps a Pebble database with an fsync policy, basic helpers, and a
// serialized read-modify-write primitive used wherever a scheduler needs
// atomic find-and-modify semantics on a single key.
type DB struct {
	inner     *pebble.DB
	writeSync bool

	// updateMu serializes Update calls so one read-modify-write cannot
	// interleave with another writer going through Update.
	updateMu sync.Mutex
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	switch opts.Fsync {
	case FsyncModeAlways:
		// Sync on each commit; WALMinSyncInterval left at default.
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	case FsyncModeNever:
		// Neither set WALMinSyncInterval nor Sync on writes.
	default:
		// Small group-commit window as a reasonable latency/throughput tradeoff.
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}

	return &DB{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways,
	}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits the provided batch with the configured fsync policy.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	syncMode := pebble.NoSync
	if db.writeSync {
		syncMode = pebble.Sync
	}
	return b.Commit(syncMode)
}

// Set sets a key to a value using a small internal batch respecting fsync policy.
func (db *DB) Set(key, value []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Delete removes a key using a small internal batch respecting fsync policy.
func (db *DB) Delete(key []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Get copies the value for the given key. Returns ErrNotFound for missing keys.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// UpdateFunc receives the current value (found=false when absent) and returns
// the replacement. Returning keep=false deletes the key. Returning an error
// aborts the update without writing.
type UpdateFunc func(current []byte, found bool) (next []byte, keep bool, err error)

// Update performs an atomic read-modify-write of a single key.
func (db *DB) Update(key []byte, fn UpdateFunc) error {
	db.updateMu.Lock()
	defer db.updateMu.Unlock()

	current, err := db.Get(key)
	found := true
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		current, found = nil, false
	}
	next, keep, err := fn(current, found)
	if err != nil {
		return err
	}
	if !keep {
		if !found {
			return nil
		}
		return db.Delete(key)
	}
	return db.Set(key, next)
}

// NewIter creates a raw Pebble iterator with the provided options.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

// CompactRange requests compaction of the key range [start, end).
func (db *DB) CompactRange(start, end []byte) error {
	return db.inner.Compact(start, end, true)
}
