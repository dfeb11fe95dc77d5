package dispatch

import (
	"errors"
	"strings"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

const assignPrefix = "assign/"

func assignKey(tenantID, taskID string) []byte {
	return []byte(assignPrefix + tenantID + "/" + taskID)
}

// Assignments is the task-to-agent index. It is a plain lookup table, the
// task record never points back at the agent, so reassignment touches one
// key and listing an agent's work is a scan, not a graph walk.
type Assignments struct {
	db *pebblestore.DB
}

// NewAssignments creates the index over the store.
func NewAssignments(db *pebblestore.DB) *Assignments { return &Assignments{db: db} }

// Set records that taskID is assigned to agentID.
func (a *Assignments) Set(tenantID, taskID, agentID string) error {
	return a.db.Set(assignKey(tenantID, taskID), []byte(agentID))
}

// Get returns the agent a task is assigned to, if any.
func (a *Assignments) Get(tenantID, taskID string) (string, bool, error) {
	v, err := a.db.Get(assignKey(tenantID, taskID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(v), true, nil
}

// Remove deletes an assignment. Removing an absent entry is not an error.
func (a *Assignments) Remove(tenantID, taskID string) error {
	return a.db.Delete(assignKey(tenantID, taskID))
}

// ListByAgent returns the task ids currently assigned to an agent within a
// tenant. The index is keyed by task, so this walks the tenant's entries.
func (a *Assignments) ListByAgent(tenantID, agentID string) ([]string, error) {
	lo := []byte(assignPrefix + tenantID + "/")
	hi := append(append([]byte{}, lo...), 0xFF)
	it, err := a.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []string
	for it.First(); it.Valid(); it.Next() {
		if string(it.Value()) != agentID {
			continue
		}
		key := string(it.Key())
		if i := strings.LastIndexByte(key, '/'); i >= 0 {
			ids = append(ids, key[i+1:])
		}
	}
	return ids, it.Error()
}
