package task

import (
	"encoding/json"
	"errors"
	"fmt"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

// Record is the durable form of an accepted task. Records are only written
// once a task passes selection; queued tasks exist solely in the queue.
type Record struct {
	Task           Task   `json:"task"`
	Status         Status `json:"status"`
	AgentID        string `json:"agentId,omitempty"`
	DispatchedAtMs int64  `json:"dispatchedAtMs,omitempty"`
	CompletedAtMs  int64  `json:"completedAtMs,omitempty"`
}

// Store persists task records keyed by tenant and task id.
type Store struct {
	db *pebblestore.DB
}

// NewStore creates a task record store.
func NewStore(db *pebblestore.DB) *Store { return &Store{db: db} }

func recordKey(tenantID, taskID string) []byte {
	return []byte("task/" + tenantID + "/" + taskID)
}

// Put writes a task record.
func (s *Store) Put(rec *Record) error {
	if rec == nil || rec.Task.ID == "" {
		return fmt.Errorf("task: put requires a task id")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(recordKey(rec.Task.TenantID, rec.Task.ID), b)
}

// Get loads a task record, reporting whether it exists.
func (s *Store) Get(tenantID, taskID string) (*Record, bool, error) {
	b, err := s.db.Get(recordKey(tenantID, taskID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false, fmt.Errorf("task: corrupt record %s/%s: %w", tenantID, taskID, err)
	}
	return &rec, true, nil
}

// SetStatus transitions a record's status atomically.
func (s *Store) SetStatus(tenantID, taskID string, status Status, completedAtMs int64) error {
	return s.db.Update(recordKey(tenantID, taskID), func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, fmt.Errorf("task: record %s/%s not found", tenantID, taskID)
		}
		var rec Record
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, false, err
		}
		rec.Status = status
		if completedAtMs > 0 {
			rec.CompletedAtMs = completedAtMs
		}
		next, err := json.Marshal(&rec)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
}
