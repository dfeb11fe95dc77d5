// Package lock provides TTL leases over the shared store so that exactly one
// process instance runs a given maintenance job at a time.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

type leaseRecord struct {
	Holder    string `json:"holder"`
	ExpiresMs int64  `json:"expiresMs"`
}

// Lock is a held lease. Release it when the job finishes; an unreleased lock
// simply lapses at its TTL.
type Lock struct {
	provider *Provider
	key      string
	nonce    string
	expires  int64
}

// Provider hands out leases keyed by job name.
type Provider struct {
	db    *pebblestore.DB
	nowMs func() int64
}

// NewProvider creates a lease provider over the store.
func NewProvider(db *pebblestore.DB) *Provider {
	return &Provider{db: db, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

func lockKey(key string) []byte { return []byte("lock/" + key) }

// TryAcquire attempts to take the lease for key. It returns (nil, nil) when
// another live holder has it; contention is not an error.
func (p *Provider) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if key == "" {
		return nil, fmt.Errorf("lock: key required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := p.nowMs()
	// The nonce must be unique across processes; holder identity guards
	// Release against deleting a successor's lease.
	nonce := uuid.NewString()
	expires := now + ttl.Milliseconds()

	taken := false
	err := p.db.Update(lockKey(key), func(current []byte, found bool) ([]byte, bool, error) {
		if found {
			var rec leaseRecord
			if err := json.Unmarshal(current, &rec); err == nil && rec.ExpiresMs > now {
				// Live holder, leave the record alone.
				return current, true, nil
			}
		}
		next, err := json.Marshal(leaseRecord{Holder: nonce, ExpiresMs: expires})
		if err != nil {
			return nil, false, err
		}
		taken = true
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !taken {
		return nil, nil
	}
	return &Lock{provider: p, key: key, nonce: nonce, expires: expires}, nil
}

// Release gives the lease back. Only the holder's nonce may delete the
// record; a lapsed lease that was re-acquired by someone else is untouched.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return l.provider.db.Update(lockKey(l.key), func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, nil
		}
		var rec leaseRecord
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, false, nil
		}
		if rec.Holder != l.nonce {
			return current, true, nil
		}
		return nil, false, nil
	})
}
