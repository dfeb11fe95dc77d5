// Package tenant stores per-tenant metadata and limits. Tenant identity and
// authorization live outside riven; this package only keeps the durable
// record the schedulers partition their keyspaces by.
package tenant

import (
	"encoding/json"
	"time"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

// Meta holds tenant metadata and optional limits/overrides.
type Meta struct {
	Name            string `json:"name"`
	CreatedAtMs     int64  `json:"createdAtMs"`
	PayloadMaxBytes int    `json:"payloadMaxBytes"`
}

// Defaults returns opinionated defaults for new tenants.
func Defaults() Meta {
	return Meta{
		PayloadMaxBytes: 1 << 20, // 1 MiB
	}
}

var metaPrefix = []byte("tenantmeta/")

func metaKey(name string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(name))
	k = append(k, metaPrefix...)
	k = append(k, name...)
	return k
}

// Ensure creates a tenant meta record if absent, returning the effective meta.
// Idempotent: returns the existing record if already present.
func Ensure(db *pebblestore.DB, name string) (Meta, error) {
	return EnsureWith(db, name, Defaults())
}

// EnsureWith is Ensure with caller-supplied defaults for new tenants.
func EnsureWith(db *pebblestore.DB, name string, defaults Meta) (Meta, error) {
	key := metaKey(name)
	if b, err := db.Get(key); err == nil && len(b) > 0 {
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// fall through and rewrite if corrupted
	}
	m := defaults
	if m.PayloadMaxBytes <= 0 {
		m.PayloadMaxBytes = Defaults().PayloadMaxBytes
	}
	m.Name = name
	m.CreatedAtMs = time.Now().UnixMilli()
	bs, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(key, bs); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Get loads the tenant meta record, reporting whether it exists.
func Get(db *pebblestore.DB, name string) (Meta, bool) {
	b, err := db.Get(metaKey(name))
	if err != nil || len(b) == 0 {
		return Meta{}, false
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, false
	}
	return m, true
}
