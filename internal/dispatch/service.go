// Package dispatch accepts tasks into the durable queue and drains them
// toward agents: dequeue a batch, select an eligible agent per task, persist
// the assignment, then acknowledge. Tasks with no eligible agent stay leased
// and come back after the visibility window.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rivenhq/riven/internal/queue"
	"github.com/rivenhq/riven/internal/roster"
	"github.com/rivenhq/riven/internal/selection"
	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
	"github.com/rivenhq/riven/internal/task"
	"github.com/rivenhq/riven/internal/tenant"
	"github.com/rivenhq/riven/pkg/log"
)

// AvailabilityFunc gates dispatch per tenant. Returning false defers every
// task for that tenant to a later cycle without consuming it.
type AvailabilityFunc func(tenantID string) bool

// Options tunes a Service.
type Options struct {
	// Consumer names this instance's queue consumer.
	Consumer string
	// BatchSize caps tasks pulled per dispatch cycle.
	BatchSize int
	// Codec carries tasks over the queue. Defaults to JSON.
	Codec task.Codec
	// AutoCreateTenants makes Enqueue create unknown tenants on first use.
	AutoCreateTenants bool
	Availability      AvailabilityFunc
	Notifier          Notifier
	Logger            log.Logger
}

// Stats summarizes one dispatch cycle.
type Stats struct {
	Dequeued   int
	Dispatched int
	// Deferred items stay leased and return after the visibility window.
	Deferred int
	// Dropped items were consumed without dispatch: expired before placement.
	Dropped int
}

// Service is the dispatch pipeline over one queue topic.
type Service struct {
	db     *pebblestore.DB
	queue  *queue.Client
	tasks  *task.Store
	agents *roster.Store
	chain  *selection.Chain
	assign *Assignments
	opts   Options
	logger log.Logger
	nowMs  func() int64
}

// New wires a dispatch service.
func New(db *pebblestore.DB, q *queue.Client, tasks *task.Store, agents *roster.Store, chain *selection.Chain, opts Options) *Service {
	if opts.Consumer == "" {
		opts.Consumer = "dispatch"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Codec == nil {
		opts.Codec = task.JSONCodec{}
	}
	if opts.Availability == nil {
		opts.Availability = func(string) bool { return true }
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &Service{
		db:     db,
		queue:  q,
		tasks:  tasks,
		agents: agents,
		chain:  chain,
		assign: NewAssignments(db),
		opts:   opts,
		logger: opts.Logger.With(log.Component("dispatch")),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Assignments exposes the task-to-agent index.
func (s *Service) Assignments() *Assignments { return s.assign }

// Enqueue accepts a task for a tenant. The payload is checked against the
// tenant's limit before anything is written.
func (s *Service) Enqueue(ctx context.Context, tenantID, taskType string, payload []byte) (*task.Task, error) {
	if tenantID == "" || taskType == "" {
		return nil, fmt.Errorf("dispatch: enqueue requires tenant and task type")
	}
	meta, ok := tenant.Get(s.db, tenantID)
	if !ok {
		if !s.opts.AutoCreateTenants {
			return nil, fmt.Errorf("dispatch: unknown tenant %q", tenantID)
		}
		var err error
		meta, err = tenant.Ensure(s.db, tenantID)
		if err != nil {
			return nil, err
		}
	}
	if meta.PayloadMaxBytes > 0 && len(payload) > meta.PayloadMaxBytes {
		return nil, fmt.Errorf("dispatch: payload %d bytes exceeds tenant limit %d", len(payload), meta.PayloadMaxBytes)
	}

	t := task.New(tenantID, taskType, payload)
	encoded, err := s.opts.Codec.Encode(t)
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(ctx, tenantID, encoded, s.nowMs()); err != nil {
		return nil, err
	}
	s.logger.Debug("task enqueued",
		log.Str("tenant", tenantID),
		log.Str("task", t.ID),
		log.Str("type", taskType))
	return t, nil
}

// DispatchBatch pulls one batch off the queue and places each task on an
// agent. Per-item failures are isolated: a bad item is logged and the rest
// of the batch proceeds.
func (s *Service) DispatchBatch(ctx context.Context) (Stats, error) {
	now := s.nowMs()
	items, err := s.queue.Dequeue(ctx, s.opts.Consumer, s.opts.BatchSize, now)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Dequeued: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		s.dispatchOne(ctx, item, now, &stats)
	}
	if stats.Dequeued > 0 {
		s.logger.Info("dispatch cycle",
			log.Int("dequeued", stats.Dequeued),
			log.Int("dispatched", stats.Dispatched),
			log.Int("deferred", stats.Deferred),
			log.Int("dropped", stats.Dropped))
	}
	return stats, nil
}

func (s *Service) dispatchOne(ctx context.Context, item queue.Envelope, now int64, stats *Stats) {
	t, err := s.opts.Codec.Decode(item.Payload)
	if err != nil {
		// Left unacked so the lease lapses and the item is redelivered;
		// the queue drops it for good once its attempts run out.
		s.logger.Error("undecodable item left for redelivery",
			log.Str("tenant", item.TenantKey),
			log.Str("item", item.ItemID),
			log.Int("attempts", item.Attempts),
			log.Err(err))
		stats.Deferred++
		return
	}
	if t.Expired(now) {
		s.logger.Warn("dropping expired task",
			log.Str("tenant", t.TenantID),
			log.Str("task", t.ID))
		s.ack(ctx, item)
		stats.Dropped++
		return
	}
	if !s.opts.Availability(t.TenantID) {
		stats.Deferred++
		return
	}

	agents, err := s.agents.List(t.TenantID)
	if err != nil {
		s.logger.Error("roster load failed", log.Str("tenant", t.TenantID), log.Err(err))
		stats.Deferred++
		return
	}
	candidates := s.chain.Select(agents, t.Type, t.TenantID, now)
	if len(candidates) == 0 {
		// No eligible agent; the lease lapses and the task is retried.
		stats.Deferred++
		return
	}
	agentID := candidates[0]

	rec := &task.Record{Task: *t, Status: task.StatusDispatched, AgentID: agentID, DispatchedAtMs: now}
	if err := s.tasks.Put(rec); err != nil {
		s.logger.Error("task record write failed", log.Str("task", t.ID), log.Err(err))
		stats.Deferred++
		return
	}
	if err := s.assign.Set(t.TenantID, t.ID, agentID); err != nil {
		s.logger.Error("assignment write failed", log.Str("task", t.ID), log.Err(err))
		stats.Deferred++
		return
	}
	if err := s.agents.AdjustAssigned(t.TenantID, agentID, 1); err != nil {
		s.logger.Warn("assigned count adjust failed",
			log.Str("agent", agentID),
			log.Err(err))
	}
	if err := s.opts.Notifier.Notify(ctx, agentID, t); err != nil {
		s.logger.Warn("notify failed, agent will poll",
			log.Str("agent", agentID),
			log.Str("task", t.ID),
			log.Err(err))
	}
	s.ack(ctx, item)
	stats.Dispatched++
}

func (s *Service) ack(ctx context.Context, item queue.Envelope) {
	if err := s.queue.Acknowledge(ctx, s.opts.Consumer, item.TenantKey, item.ItemID); err != nil {
		s.logger.Error("acknowledge failed",
			log.Str("tenant", item.TenantKey),
			log.Str("item", item.ItemID),
			log.Err(err))
	}
}

// Acknowledge consumes a queue item directly, bypassing selection. Used by
// callers that drained an item through their own path. Returns the item id
// on success.
func (s *Service) Acknowledge(ctx context.Context, tenantID, itemID string) (string, error) {
	if err := s.queue.Acknowledge(ctx, s.opts.Consumer, tenantID, itemID); err != nil {
		return "", err
	}
	return itemID, nil
}

// Complete marks a dispatched task done and releases the agent's slot.
func (s *Service) Complete(ctx context.Context, tenantID, taskID string) error {
	rec, found, err := s.tasks.Get(tenantID, taskID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("dispatch: task %s/%s not found", tenantID, taskID)
	}
	if err := s.tasks.SetStatus(tenantID, taskID, task.StatusDone, s.nowMs()); err != nil {
		return err
	}
	if rec.AgentID != "" {
		if err := s.agents.AdjustAssigned(tenantID, rec.AgentID, -1); err != nil {
			s.logger.Warn("assigned count adjust failed",
				log.Str("agent", rec.AgentID),
				log.Err(err))
		}
	}
	return s.assign.Remove(tenantID, taskID)
}
