package roster

import (
	"context"
	"encoding/json"
	"fmt"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

// BulkWriter stages heartbeat updates and flushes them to the store in
// unordered batches. Staging the same agent twice before a flush keeps the
// later timestamp, so repeated runs over unchanged input produce no writes.
type BulkWriter struct {
	db        *pebblestore.DB
	threshold int
	staged    map[Ref]int64

	// Writes and Flushes count committed updates and batch commits since
	// the writer was created.
	Writes  int
	Flushes int
}

// NewBulkWriter creates a writer that auto-flushes once threshold updates
// are staged. threshold <= 0 disables auto-flush.
func NewBulkWriter(db *pebblestore.DB, threshold int) *BulkWriter {
	return &BulkWriter{db: db, threshold: threshold, staged: make(map[Ref]int64)}
}

// Stage queues a heartbeat update, flushing if the threshold is reached.
func (w *BulkWriter) Stage(ref Ref, atMs int64) error {
	if atMs > w.staged[ref] {
		w.staged[ref] = atMs
	}
	if w.threshold > 0 && len(w.staged) >= w.threshold {
		return w.Flush()
	}
	return nil
}

// Staged reports the number of pending updates.
func (w *BulkWriter) Staged() int { return len(w.staged) }

// Flush commits all staged updates in a single batch. Agents that were
// removed between staging and flush are skipped.
func (w *BulkWriter) Flush() error {
	if len(w.staged) == 0 {
		return nil
	}
	batch := w.db.NewBatch()
	defer batch.Close()

	written := 0
	for ref, atMs := range w.staged {
		b, err := w.db.Get(agentKey(ref.TenantID, ref.AgentID))
		if err != nil {
			continue
		}
		var a Agent
		if err := json.Unmarshal(b, &a); err != nil {
			continue
		}
		if a.LastHeartbeatMs >= atMs {
			continue
		}
		a.LastHeartbeatMs = atMs
		next, err := json.Marshal(&a)
		if err != nil {
			return fmt.Errorf("roster: encode agent %s/%s: %w", ref.TenantID, ref.AgentID, err)
		}
		if err := batch.Set(agentKey(ref.TenantID, ref.AgentID), next, nil); err != nil {
			return err
		}
		written++
	}

	if written > 0 {
		if err := w.db.CommitBatch(context.Background(), batch); err != nil {
			return err
		}
		w.Writes += written
		w.Flushes++
	}
	w.staged = make(map[Ref]int64)
	return nil
}
