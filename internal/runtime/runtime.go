// Package runtime wires the store and the schedulers into one embeddable
// facade. The server binary and the tests both go through it.
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rivenhq/riven/internal/config"
	"github.com/rivenhq/riven/internal/dispatch"
	"github.com/rivenhq/riven/internal/heartbeat"
	"github.com/rivenhq/riven/internal/lock"
	"github.com/rivenhq/riven/internal/queue"
	"github.com/rivenhq/riven/internal/roster"
	"github.com/rivenhq/riven/internal/selection"
	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
	"github.com/rivenhq/riven/internal/task"
	"github.com/rivenhq/riven/internal/tenant"
	"github.com/rivenhq/riven/internal/timeout"
	"github.com/rivenhq/riven/pkg/id"
	"github.com/rivenhq/riven/pkg/log"
)

// Options configures a Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        config.Config
	Logger        log.Logger
}

// Runtime owns the shared store and hands out the services built on it.
type Runtime struct {
	db     *pebblestore.DB
	cfg    config.Config
	logger log.Logger
	node   string

	mu     sync.Mutex
	queues map[string]*queue.Client

	agents   *roster.Store
	tasks    *task.Store
	cache    *roster.HeartbeatCache
	locks    *lock.Provider
	registry *timeout.Registry
	engine   *timeout.Engine
}

// Open opens the store and constructs the runtime. Close releases it.
func Open(opts Options) (*Runtime, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("runtime: Options.DataDir is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	cfg := opts.Config
	node := id.NewGenerator().Next().String()
	r := &Runtime{
		db:       db,
		cfg:      cfg,
		logger:   opts.Logger.With(log.Str("node", node)),
		node:     node,
		queues:   make(map[string]*queue.Client),
		agents:   roster.NewStore(db),
		tasks:    task.NewStore(db),
		cache:    roster.NewHeartbeatCache(),
		locks:    lock.NewProvider(db),
		registry: timeout.NewRegistry(),
	}
	r.engine = timeout.NewEngine(db, r.registry, timeout.Options{
		Poll:       time.Duration(cfg.Timeout.PollMs) * time.Millisecond,
		Workers:    cfg.Timeout.Workers,
		ClaimTTL:   time.Duration(cfg.Timeout.ClaimTTLMs) * time.Millisecond,
		Target:     time.Duration(cfg.Timeout.TargetMs) * time.Millisecond,
		LagAlert:   time.Duration(cfg.Timeout.LagAlertMs) * time.Millisecond,
		SlowHandle: time.Duration(cfg.Timeout.SlowHandleMs) * time.Millisecond,
		Logger:     opts.Logger,
	})
	return r, nil
}

// Close stops background work and closes the store.
func (r *Runtime) Close() error {
	r.engine.Stop()
	r.mu.Lock()
	for _, q := range r.queues {
		q.StopSweeper()
	}
	r.mu.Unlock()
	return r.db.Close()
}

// DB exposes the shared store.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Node is this runtime instance's sortable identifier.
func (r *Runtime) Node() string { return r.node }

// Config returns the effective configuration.
func (r *Runtime) Config() config.Config { return r.cfg }

// Agents returns the roster store.
func (r *Runtime) Agents() *roster.Store { return r.agents }

// Tasks returns the task record store.
func (r *Runtime) Tasks() *task.Store { return r.tasks }

// Heartbeats returns the in-memory heartbeat cache.
func (r *Runtime) Heartbeats() *roster.HeartbeatCache { return r.cache }

// Locks returns the lease provider.
func (r *Runtime) Locks() *lock.Provider { return r.locks }

// Timeouts returns the timeout engine.
func (r *Runtime) Timeouts() *timeout.Engine { return r.engine }

// TimeoutKinds returns the callback registry for startup registration.
func (r *Runtime) TimeoutKinds() *timeout.Registry { return r.registry }

// OpenQueue opens (or returns) the client for a topic, applying the
// configured visibility window and delivery cap.
func (r *Runtime) OpenQueue(topic string) (*queue.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[topic]; ok {
		return q, nil
	}
	q, err := queue.Open(r.db, topic, queue.Options{
		VisibilityMs: int64(r.cfg.Queue.VisibilityMs),
		MaxAttempts:  r.cfg.Queue.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	r.queues[topic] = q
	return q, nil
}

// EnsureTenant creates tenant metadata if absent, seeded from the configured
// tenant defaults.
func (r *Runtime) EnsureTenant(name string) (tenant.Meta, error) {
	return tenant.EnsureWith(r.db, name, tenant.Meta{
		PayloadMaxBytes: r.cfg.TenantDefaults.PayloadMaxBytes,
	})
}

// NewDispatcher builds the dispatch service over the configured topic with
// the default capacity-and-load selection chain. expr optionally narrows
// eligibility with a compiled expression.
func (r *Runtime) NewDispatcher(expr string) (*dispatch.Service, error) {
	q, err := r.OpenQueue(r.cfg.Dispatch.Topic)
	if err != nil {
		return nil, err
	}
	filters := []selection.FilterFunc{selection.CapacityFilter()}
	if expr != "" {
		f, err := selection.ExprFilter(expr)
		if err != nil {
			return nil, fmt.Errorf("runtime: selection expression: %w", err)
		}
		filters = append(filters, f)
	}
	chain := selection.NewChain(selection.LoadOrder(), filters...)
	return dispatch.New(r.db, q, r.tasks, r.agents, chain, dispatch.Options{
		Consumer:          "dispatch-" + r.node,
		BatchSize:         r.cfg.Dispatch.BatchSize,
		AutoCreateTenants: r.cfg.AllowAutoCreateTenants,
		Logger:            r.logger,
	}), nil
}

// NewReconciler builds the heartbeat reconciler.
func (r *Runtime) NewReconciler() *heartbeat.Reconciler {
	return heartbeat.New(r.agents, r.cache, r.locks, heartbeat.Options{
		LockTTL:    time.Duration(r.cfg.Reconciler.LockTTLMs) * time.Millisecond,
		FlushEvery: r.cfg.Reconciler.FlushEvery,
		Logger:     r.logger,
	})
}

// CheckHealth verifies the store answers reads.
func (r *Runtime) CheckHealth() error {
	_, err := r.db.Get([]byte("health/probe"))
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return err
	}
	return nil
}
