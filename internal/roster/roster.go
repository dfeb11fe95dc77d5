// Package roster tracks the agents a tenant has registered: who they are,
// what task types they can run, how much work they currently hold, and when
// they were last heard from.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

// Agent is the durable registration record for a worker process.
// Capacity is the number of tasks the agent will hold at once; a negative
// capacity means unlimited.
type Agent struct {
	ID              string   `json:"id"`
	TenantID        string   `json:"tenantId"`
	SupportedTypes  []string `json:"supportedTypes"`
	Capacity        int      `json:"capacity"`
	Assigned        int      `json:"assigned"`
	LastHeartbeatMs int64    `json:"lastHeartbeatMs"`
}

// Supports reports whether the agent advertises the given task type.
// An empty list means the agent accepts everything.
func (a *Agent) Supports(taskType string) bool {
	if len(a.SupportedTypes) == 0 {
		return true
	}
	for _, t := range a.SupportedTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// Ref identifies an agent without loading its full record. Refs is built by
// parsing keys only, so large rosters can be walked without deserializing
// every value.
type Ref struct {
	TenantID string
	AgentID  string
}

const agentPrefix = "agent/"

func agentKey(tenantID, agentID string) []byte {
	return []byte(agentPrefix + tenantID + "/" + agentID)
}

func parseAgentKey(key []byte) (tenantID, agentID string, ok bool) {
	rest, found := strings.CutPrefix(string(key), agentPrefix)
	if !found {
		return "", "", false
	}
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Store persists agent records in pebble under agent/{tenant}/{id}.
type Store struct {
	db *pebblestore.DB
}

// NewStore creates an agent store.
func NewStore(db *pebblestore.DB) *Store { return &Store{db: db} }

// DB exposes the underlying store for bulk writers.
func (s *Store) DB() *pebblestore.DB { return s.db }

// Register writes or replaces an agent record.
func (s *Store) Register(a *Agent) error {
	if a == nil || a.ID == "" || a.TenantID == "" {
		return fmt.Errorf("roster: register requires tenant and agent id")
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Set(agentKey(a.TenantID, a.ID), b)
}

// Get loads an agent record, reporting whether it exists.
func (s *Store) Get(tenantID, agentID string) (*Agent, bool, error) {
	b, err := s.db.Get(agentKey(tenantID, agentID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var a Agent
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, false, fmt.Errorf("roster: corrupt agent %s/%s: %w", tenantID, agentID, err)
	}
	return &a, true, nil
}

// Remove deletes an agent record. Removing an absent agent is not an error.
func (s *Store) Remove(tenantID, agentID string) error {
	return s.db.Delete(agentKey(tenantID, agentID))
}

// List loads every agent registered under a tenant.
func (s *Store) List(tenantID string) ([]*Agent, error) {
	lo := []byte(agentPrefix + tenantID + "/")
	hi := append(append([]byte{}, lo...), 0xFF)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var agents []*Agent
	for it.First(); it.Valid(); it.Next() {
		var a Agent
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			continue
		}
		cp := a
		agents = append(agents, &cp)
	}
	return agents, it.Error()
}

// Refs streams agent identities across all tenants by parsing keys only.
// fn returning an error stops the walk and surfaces the error.
func (s *Store) Refs(ctx context.Context, fn func(Ref) error) error {
	lo := []byte(agentPrefix)
	hi := append(append([]byte{}, lo...), 0xFF)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		tenantID, agentID, ok := parseAgentKey(it.Key())
		if !ok {
			continue
		}
		if err := fn(Ref{TenantID: tenantID, AgentID: agentID}); err != nil {
			return err
		}
	}
	return it.Error()
}

// AdjustAssigned moves the agent's in-flight count by delta, clamping at
// zero. The read-modify-write is serialized by the store.
func (s *Store) AdjustAssigned(tenantID, agentID string, delta int) error {
	return s.db.Update(agentKey(tenantID, agentID), func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, fmt.Errorf("roster: agent %s/%s not found", tenantID, agentID)
		}
		var a Agent
		if err := json.Unmarshal(current, &a); err != nil {
			return nil, false, err
		}
		a.Assigned += delta
		if a.Assigned < 0 {
			a.Assigned = 0
		}
		next, err := json.Marshal(&a)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
}

// SetHeartbeat writes the durable last-seen timestamp for an agent.
func (s *Store) SetHeartbeat(tenantID, agentID string, atMs int64) error {
	return s.db.Update(agentKey(tenantID, agentID), func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, fmt.Errorf("roster: agent %s/%s not found", tenantID, agentID)
		}
		var a Agent
		if err := json.Unmarshal(current, &a); err != nil {
			return nil, false, err
		}
		a.LastHeartbeatMs = atMs
		next, err := json.Marshal(&a)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
}
