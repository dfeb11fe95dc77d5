package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

// Envelope is an opaque transport unit returned by Dequeue. The payload is
// never interpreted by the queue layer; ItemID is what consumers hand back to
// Acknowledge. Attempts counts deliveries of this item including the current
// one.
type Envelope struct {
	ItemID    string
	TenantKey string
	Payload   []byte
	Attempts  int
}

// Options tunes a queue client.
type Options struct {
	// VisibilityMs is how long a dequeued item stays leased before it becomes
	// eligible for redelivery. Zero means 30s.
	VisibilityMs int64
	// MaxAttempts caps deliveries per item. An item whose lease lapses after
	// its MaxAttempts'th delivery is dropped at reclaim instead of returned
	// to the ready index. Zero means 5; negative means unlimited.
	MaxAttempts int
}

// Client provides durable enqueue/dequeue/acknowledge for one topic. Items are
// sub-partitioned by tenant key and delivered at-least-once: an item that is
// dequeued but never acknowledged returns to the ready index once its lease
// expires, until its delivery attempts run out.
type Client struct {
	db          *pebblestore.DB
	topic       string
	visMs       int64
	maxAttempts int

	mu      sync.Mutex
	lastSeq map[string]uint64

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// Open initializes a Client for a topic.
func Open(db *pebblestore.DB, topic string, opts Options) (*Client, error) {
	if topic == "" {
		return nil, fmt.Errorf("queue: topic is required")
	}
	visMs := opts.VisibilityMs
	if visMs <= 0 {
		visMs = 30_000
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	return &Client{
		db:          db,
		topic:       topic,
		visMs:       visMs,
		maxAttempts: maxAttempts,
		lastSeq:     make(map[string]uint64),
	}, nil
}

// Topic returns the topic this client is bound to.
func (c *Client) Topic() string { return c.topic }

// nextSeq restores a tenant's sequence from metadata on first use.
func (c *Client) nextSeq(tenant string) uint64 {
	if _, ok := c.lastSeq[tenant]; !ok {
		if meta, err := c.db.Get(MetaKey(c.topic, tenant)); err == nil && len(meta) >= 8 {
			c.lastSeq[tenant] = binary.BigEndian.Uint64(meta[:8])
		}
	}
	c.lastSeq[tenant]++
	return c.lastSeq[tenant]
}

// Enqueue inserts a payload for a tenant and returns the queue item id.
// If nowMs <= 0, time.Now().UnixMilli() is used.
func (c *Client) Enqueue(ctx context.Context, tenantKey string, payload []byte, nowMs int64) (string, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.db.NewBatch()
	defer b.Close()

	seq := c.nextSeq(tenantKey)
	val := EncodeRecord(timestampHeader(nowMs), payload)
	if err := b.Set(MsgKey(c.topic, tenantKey, seq), val, nil); err != nil {
		return "", err
	}
	if err := b.Set(ReadyKey(c.topic, tenantKey, seq), nil, nil); err != nil {
		return "", err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(MetaKey(c.topic, tenantKey), meta[:], nil); err != nil {
		return "", err
	}
	if err := c.db.CommitBatch(ctx, b); err != nil {
		return "", err
	}
	return itemID(seq), nil
}

// Dequeue claims up to count ready items for a consumer, creating leases.
// It returns fewer than count when the ready index runs dry; it never blocks
// waiting for items. Corrupt records are dropped from the index rather than
// returned.
func (c *Client) Dequeue(ctx context.Context, consumer string, count int, nowMs int64) ([]Envelope, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if count <= 0 {
		count = 1
	}

	lo, hi := keyRange(ReadyPrefix(c.topic))
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	b := c.db.NewBatch()
	defer b.Close()

	envs := make([]Envelope, 0, count)
	for ok := iter.First(); ok && len(envs) < count; ok = iter.Next() {
		k := iter.Key()
		tenant, seq, okKey := splitTenantSeq(k, lo)
		if !okKey {
			continue
		}
		val, errGet := c.db.Get(MsgKey(c.topic, tenant, seq))
		if errGet != nil {
			// dangling index entry
			_ = b.Delete(k, nil)
			continue
		}
		rec, okDec := DecodeRecord(val)
		if !okDec {
			_ = b.Delete(k, nil)
			continue
		}
		attempts := uint32(1)
		if rv := iter.Value(); len(rv) >= 4 {
			attempts = binary.BigEndian.Uint32(rv[:4]) + 1
		}
		exp := nowMs + c.visMs
		var lbuf [12]byte
		binary.BigEndian.PutUint64(lbuf[0:8], uint64(exp))
		// trailing 4 bytes carry the delivery count; reclaim copies it back
		// into the ready entry so poison items eventually age out
		binary.BigEndian.PutUint32(lbuf[8:12], attempts)
		if err := b.Set(LeaseKey(c.topic, consumer, tenant, seq), lbuf[:], nil); err != nil {
			return nil, err
		}
		if err := b.Set(LeaseIdxKey(c.topic, exp, tenant, seq), []byte(consumer), nil); err != nil {
			return nil, err
		}
		if err := b.Delete(k, nil); err != nil {
			return nil, err
		}
		envs = append(envs, Envelope{ItemID: itemID(seq), TenantKey: tenant, Payload: rec.Payload, Attempts: int(attempts)})
	}
	if b.Count() > 0 {
		if err := c.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
	}
	return envs, nil
}

// Acknowledge removes a claimed item permanently. A missing lease is not an
// error: the item may have been reclaimed and re-dequeued elsewhere, in which
// case the other claim owns it now.
func (c *Client) Acknowledge(ctx context.Context, consumer, tenantKey, id string) error {
	seq, err := parseItemID(id)
	if err != nil {
		return err
	}
	leaseK := LeaseKey(c.topic, consumer, tenantKey, seq)
	lease, err := c.db.Get(leaseK)
	if err != nil {
		return nil
	}

	b := c.db.NewBatch()
	defer b.Close()
	if len(lease) >= 8 {
		exp := int64(binary.BigEndian.Uint64(lease[:8]))
		_ = b.Delete(LeaseIdxKey(c.topic, exp, tenantKey, seq), nil)
	}
	if err := b.Delete(leaseK, nil); err != nil {
		return err
	}
	if err := b.Delete(MsgKey(c.topic, tenantKey, seq), nil); err != nil {
		return err
	}
	return c.db.CommitBatch(ctx, b)
}

// ReclaimExpired scans the lease expiry index and returns items whose lease
// has lapsed to the ready index, carrying their delivery counts forward. An
// item already delivered MaxAttempts times is dropped for good instead of
// re-readied. This is the redelivery half of the at-least-once contract; the
// drop is its retention bound.
func (c *Client) ReclaimExpired(ctx context.Context, nowMs int64, max int) (reclaimed, dropped int, err error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	lo, hi := keyRange(LeaseIdxPrefix(c.topic))
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	b := c.db.NewBatch()
	defer b.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		exp, tenant, seq, okKey := splitLeaseIdx(iter.Key(), lo)
		if !okKey {
			continue
		}
		if exp > nowMs {
			// index is expiry-ordered, nothing further is due
			break
		}
		consumer := string(iter.Value())
		leaseK := LeaseKey(c.topic, consumer, tenant, seq)
		lease, errGet := c.db.Get(leaseK)
		if errGet != nil {
			// dangling index entry, the lease was already released
			_ = b.Delete(iter.Key(), nil)
			continue
		}
		var attempts uint32
		if len(lease) >= 12 {
			attempts = binary.BigEndian.Uint32(lease[8:12])
		}
		_ = b.Delete(iter.Key(), nil)
		_ = b.Delete(leaseK, nil)
		if c.maxAttempts > 0 && int(attempts) >= c.maxAttempts {
			if err := b.Delete(MsgKey(c.topic, tenant, seq), nil); err != nil {
				return reclaimed, dropped, err
			}
			dropped++
			continue
		}
		var av [4]byte
		binary.BigEndian.PutUint32(av[:], attempts)
		if err := b.Set(ReadyKey(c.topic, tenant, seq), av[:], nil); err != nil {
			return reclaimed, dropped, err
		}
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if b.Count() > 0 {
		if err := c.db.CommitBatch(ctx, b); err != nil {
			return reclaimed, dropped, err
		}
	}
	return reclaimed, dropped, nil
}

// StartSweeper runs a background loop reclaiming expired leases.
func (c *Client) StartSweeper(interval time.Duration, maxPerTick int) {
	if c.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxPerTick <= 0 {
		maxPerTick = 1024
	}
	c.sweepStop = make(chan struct{})
	c.sweepWG.Add(1)
	go func() {
		defer c.sweepWG.Done()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-c.sweepStop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				_, _, _ = c.ReclaimExpired(context.Background(), time.Now().UnixMilli(), maxPerTick)
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (c *Client) StopSweeper() {
	if c.sweepStop != nil {
		close(c.sweepStop)
		c.sweepWG.Wait()
		c.sweepStop = nil
	}
}

func itemID(seq uint64) string {
	return strconv.FormatUint(seq, 16)
}

func parseItemID(id string) (uint64, error) {
	seq, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("queue: bad item id %q: %w", id, err)
	}
	return seq, nil
}
