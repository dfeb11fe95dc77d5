package roster

import "sync"

// HeartbeatCache holds the latest heartbeat per agent in memory. Agents ping
// frequently; the cache absorbs those pings so the durable store is only
// touched when the reconciler flushes.
type HeartbeatCache struct {
	mu   sync.RWMutex
	seen map[Ref]int64
}

// NewHeartbeatCache creates an empty cache.
func NewHeartbeatCache() *HeartbeatCache {
	return &HeartbeatCache{seen: make(map[Ref]int64)}
}

// Touch records a heartbeat, keeping the latest timestamp.
func (c *HeartbeatCache) Touch(tenantID, agentID string, atMs int64) {
	ref := Ref{TenantID: tenantID, AgentID: agentID}
	c.mu.Lock()
	if atMs > c.seen[ref] {
		c.seen[ref] = atMs
	}
	c.mu.Unlock()
}

// Get returns the cached heartbeat for an agent, if any.
func (c *HeartbeatCache) Get(tenantID, agentID string) (int64, bool) {
	c.mu.RLock()
	at, ok := c.seen[Ref{TenantID: tenantID, AgentID: agentID}]
	c.mu.RUnlock()
	return at, ok
}

// Len reports the number of cached entries.
func (c *HeartbeatCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}
