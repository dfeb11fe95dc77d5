// Package heartbeat reconciles the in-memory heartbeat cache with the
// durable agent roster. Agents ping often; only the reconciler writes those
// pings down, in bulk, on a schedule, under a cluster-wide lease so a single
// instance does the work per cycle.
package heartbeat

import (
	"context"
	"time"

	"github.com/rivenhq/riven/internal/lock"
	"github.com/rivenhq/riven/internal/roster"
	"github.com/rivenhq/riven/pkg/log"
)

const lockKey = "heartbeat-reconciler"

// Stats summarizes one reconciliation run.
type Stats struct {
	// Skipped is true when another instance held the lease and this run did
	// no work at all.
	Skipped bool
	Scanned int
	Staged  int
	Writes  int
	Flushes int
}

// Options tunes a Reconciler.
type Options struct {
	// LockTTL bounds how long the lease is held if the process dies mid-run.
	LockTTL time.Duration
	// FlushEvery caps staged updates per batch.
	FlushEvery int
	Logger     log.Logger
}

// Reconciler drains cached heartbeats into the roster store.
type Reconciler struct {
	agents *roster.Store
	cache  *roster.HeartbeatCache
	locks  *lock.Provider
	opts   Options
	logger log.Logger
}

// New creates a reconciler.
func New(agents *roster.Store, cache *roster.HeartbeatCache, locks *lock.Provider, opts Options) *Reconciler {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 5000
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Reconciler{agents: agents, cache: cache, locks: locks, opts: opts, logger: logger.With(log.Component("heartbeat"))}
}

// Run performs one reconciliation cycle. When the lease is contended the run
// is skipped entirely; the next scheduled cycle will retry. Partial progress
// survives an error: batches flushed before the failure stay committed.
func (r *Reconciler) Run(ctx context.Context) (Stats, error) {
	held, err := r.locks.TryAcquire(ctx, lockKey, r.opts.LockTTL)
	if err != nil {
		return Stats{}, err
	}
	if held == nil {
		r.logger.Debug("reconcile skipped, lease held elsewhere")
		return Stats{Skipped: true}, nil
	}
	defer func() {
		if err := held.Release(); err != nil {
			r.logger.Warn("lease release failed", log.Err(err))
		}
	}()

	started := time.Now()
	writer := roster.NewBulkWriter(r.agents.DB(), r.opts.FlushEvery)
	stats := Stats{}

	walkErr := r.agents.Refs(ctx, func(ref roster.Ref) error {
		stats.Scanned++
		cached, ok := r.cache.Get(ref.TenantID, ref.AgentID)
		if !ok {
			return nil
		}
		a, found, err := r.agents.Get(ref.TenantID, ref.AgentID)
		if err != nil {
			return err
		}
		if !found || a.LastHeartbeatMs >= cached {
			return nil
		}
		stats.Staged++
		return writer.Stage(ref, cached)
	})
	if walkErr == nil {
		walkErr = writer.Flush()
	}

	stats.Writes = writer.Writes
	stats.Flushes = writer.Flushes
	if walkErr != nil {
		r.logger.Error("reconcile aborted",
			log.Err(walkErr),
			log.Int("scanned", stats.Scanned),
			log.Int("writes", stats.Writes))
		return stats, walkErr
	}
	r.logger.Info("reconcile complete",
		log.Int("scanned", stats.Scanned),
		log.Int("staged", stats.Staged),
		log.Int("writes", stats.Writes),
		log.Int("flushes", stats.Flushes),
		log.Dur("took", time.Since(started)))
	return stats, nil
}
