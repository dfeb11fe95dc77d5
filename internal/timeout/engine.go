package timeout

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
	"github.com/rivenhq/riven/pkg/log"
)

const (
	instPrefix  = "timeout/inst/"
	duePrefix   = "timeout/due/"
	claimPrefix = "timeout/claim/"
)

func instKey(id string) []byte { return []byte(instPrefix + id) }

func dueKey(nextMs int64, id string) []byte {
	k := make([]byte, 0, len(duePrefix)+8+1+len(id))
	k = append(k, duePrefix...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(nextMs))
	k = append(k, ts[:]...)
	k = append(k, '/')
	k = append(k, id...)
	return k
}

func splitDueKey(key []byte) (nextMs int64, id string, ok bool) {
	rest := key[len(duePrefix):]
	if len(rest) < 10 || rest[8] != '/' {
		return 0, "", false
	}
	return int64(binary.BigEndian.Uint64(rest[:8])), string(rest[9:]), true
}

func claimKey(id string) []byte { return []byte(claimPrefix + id) }

type claimRecord struct {
	Owner     string `json:"owner"`
	ExpiresMs int64  `json:"expiresMs"`
}

// Options tunes the engine.
type Options struct {
	// Poll bounds how long a due instance waits when no wake arrives.
	Poll time.Duration
	// Workers is the number of concurrent firing goroutines.
	Workers int
	// ClaimTTL bounds how long a crashed instance blocks a timer.
	ClaimTTL time.Duration
	// Target is the intended worst-case firing latency past the deadline.
	Target time.Duration
	// LagAlert is the grace past Target before a firing is logged as lagged.
	LagAlert time.Duration
	// SlowHandle is the callback duration past which a warning is logged.
	SlowHandle time.Duration
	Logger     log.Logger
}

func (o *Options) fill() {
	if o.Poll <= 0 {
		o.Poll = 10 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = time.Minute
	}
	if o.Target <= 0 {
		o.Target = 2 * time.Minute
	}
	if o.LagAlert <= 0 {
		o.LagAlert = 45 * time.Second
	}
	if o.SlowHandle <= 0 {
		o.SlowHandle = time.Minute
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
}

// Engine scans the due index and fires callbacks. Multiple engines may run
// against the same store; a per-instance claim keeps each firing single.
type Engine struct {
	db     *pebblestore.DB
	reg    *Registry
	opts   Options
	logger log.Logger
	owner  string
	nowMs  func() int64

	wake chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewEngine creates an engine over the store and registry.
func NewEngine(db *pebblestore.DB, reg *Registry, opts Options) *Engine {
	opts.fill()
	return &Engine{
		db:     db,
		reg:    reg,
		opts:   opts,
		logger: opts.Logger.With(log.Component("timeout")),
		owner:  uuid.NewString(),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
		wake:   make(chan struct{}, 1),
	}
}

// RegisterTimeout persists an instance whose deadline comes from tracker.
// A tracker reporting no expiry stores the instance as never due. The engine
// is woken so an already-passed deadline fires promptly.
func (e *Engine) RegisterTimeout(ctx context.Context, id, kind string, data []byte, tracker Tracker) error {
	if id == "" || kind == "" {
		return fmt.Errorf("timeout: register requires id and kind")
	}
	if tracker == nil {
		return fmt.Errorf("timeout: register requires a tracker")
	}
	next := NeverDue
	if at, ok := tracker.ExpiryTime(); ok {
		next = at.UnixMilli()
	}
	inst := Instance{ID: id, Kind: kind, Data: data, NextIterationMs: next, CreatedAtMs: e.nowMs()}
	b, err := json.Marshal(&inst)
	if err != nil {
		return err
	}

	batch := e.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(instKey(id), b, nil); err != nil {
		return err
	}
	if err := batch.Set(dueKey(next, id), []byte(kind), nil); err != nil {
		return err
	}
	if err := e.db.CommitBatch(ctx, batch); err != nil {
		return err
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel removes a pending instance. Cancelling an unknown id is a no-op.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	b, err := e.db.Get(instKey(id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil
		}
		return err
	}
	var inst Instance
	if err := json.Unmarshal(b, &inst); err != nil {
		return fmt.Errorf("timeout: corrupt instance %s: %w", id, err)
	}
	batch := e.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(instKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(dueKey(inst.NextIterationMs, id), nil); err != nil {
		return err
	}
	return e.db.CommitBatch(ctx, batch)
}

// Get loads a pending instance.
func (e *Engine) Get(id string) (*Instance, bool, error) {
	b, err := e.db.Get(instKey(id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var inst Instance
	if err := json.Unmarshal(b, &inst); err != nil {
		return nil, false, fmt.Errorf("timeout: corrupt instance %s: %w", id, err)
	}
	return &inst, true, nil
}

// Start launches the scan loop and worker pool.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.started = true

	work := make(chan dueEntry)
	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ent := range work {
				e.handle(ctx, ent)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(work)
		ticker := time.NewTicker(e.opts.Poll)
		defer ticker.Stop()
		for {
			e.scan(ctx, work)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-e.wake:
			}
		}
	}()
}

// Stop halts the loop and waits for in-flight firings to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.started = false
	e.mu.Unlock()
	e.wg.Wait()
}

// RunOnce performs a single synchronous scan, firing every due instance
// inline. Returns the number of instances consumed. Useful for tests and for
// forced catch-up after restart.
func (e *Engine) RunOnce(ctx context.Context) int {
	handled := 0
	for _, ent := range e.collectDue(ctx) {
		if e.claim(ent.id) && e.handle(ctx, ent) {
			handled++
		}
	}
	return handled
}

func (e *Engine) scan(ctx context.Context, work chan<- dueEntry) {
	for _, ent := range e.collectDue(ctx) {
		if !e.claim(ent.id) {
			continue
		}
		select {
		case work <- ent:
		case <-ctx.Done():
			return
		}
	}
}

// dueEntry is one hit from the due index. dueMs identifies the exact index
// key so cleanup can always remove it.
type dueEntry struct {
	id    string
	dueMs int64
}

// collectDue scans the due index in deadline order, breaking at the first
// entry beyond now. NeverDue entries sort last and are never reached.
func (e *Engine) collectDue(ctx context.Context) []dueEntry {
	now := e.nowMs()
	lo := []byte(duePrefix)
	hi := append(append([]byte{}, lo...), 0xFF)
	iter, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		e.logger.Error("due scan failed", log.Err(err))
		return nil
	}
	defer iter.Close()

	var due []dueEntry
	for iter.First(); iter.Valid(); iter.Next() {
		if ctx.Err() != nil {
			return due
		}
		nextMs, id, ok := splitDueKey(iter.Key())
		if !ok {
			continue
		}
		if nextMs > now {
			break
		}
		due = append(due, dueEntry{id: id, dueMs: nextMs})
	}
	return due
}

// claim takes the per-instance firing claim. Any live claim refuses, even
// our own, so overlapping scans cannot feed one instance to two workers; a
// lapsed claim from a crashed engine is stolen.
func (e *Engine) claim(id string) bool {
	now := e.nowMs()
	taken := false
	err := e.db.Update(claimKey(id), func(current []byte, found bool) ([]byte, bool, error) {
		if found {
			var rec claimRecord
			if err := json.Unmarshal(current, &rec); err == nil && rec.ExpiresMs > now {
				return current, true, nil
			}
		}
		next, err := json.Marshal(claimRecord{Owner: e.owner, ExpiresMs: now + e.opts.ClaimTTL.Milliseconds()})
		if err != nil {
			return nil, false, err
		}
		taken = true
		return next, true, nil
	})
	if err != nil {
		e.logger.Error("claim failed", log.Str("id", id), log.Err(err))
		return false
	}
	return taken
}

// handle fires one claimed instance and consumes it, reporting whether it
// was consumed. The instance is deleted whether the callback succeeds,
// errors, or panics; firing is once, not until-success. Instances already
// marked fired skip straight to cleanup. A failed read must not destroy an
// unfired timer, so the claim is released and a later scan retries.
func (e *Engine) handle(ctx context.Context, ent dueEntry) bool {
	id := ent.id
	inst, found, err := e.Get(id)
	if err != nil {
		e.logger.Error("load instance failed", log.Str("id", id), log.Err(err))
		e.releaseClaim(id)
		return false
	}
	if !found {
		// due entry without an instance; remove it so it stops scanning
		e.cleanup(ctx, id, ent.dueMs)
		return true
	}
	if inst.FiredAtMs > 0 {
		e.logger.Warn("sweeping fired orphan", log.Str("id", id), log.Str("kind", inst.Kind))
		e.cleanup(ctx, id, ent.dueMs)
		return true
	}

	now := e.nowMs()
	lag := time.Duration(now-inst.NextIterationMs) * time.Millisecond
	if lag > e.opts.Target+e.opts.LagAlert {
		e.logger.Warn("timeout fired late",
			log.Str("id", id),
			log.Str("kind", inst.Kind),
			log.Dur("lag", lag))
	}

	ctor, ok := e.reg.Resolve(inst.Kind)
	if !ok {
		e.logger.Error("no constructor for kind", log.Str("id", id), log.Str("kind", inst.Kind))
		e.cleanup(ctx, id, ent.dueMs)
		return true
	}

	started := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("timeout callback panicked",
					log.Str("id", id),
					log.Str("kind", inst.Kind),
					log.F("panic", r))
			}
		}()
		if err := ctor().OnTimeout(ctx, inst.Data); err != nil {
			e.logger.Error("timeout callback failed",
				log.Str("id", id),
				log.Str("kind", inst.Kind),
				log.Err(err))
		}
	}()
	if took := time.Since(started); took > e.opts.SlowHandle {
		e.logger.Warn("slow timeout callback",
			log.Str("id", id),
			log.Str("kind", inst.Kind),
			log.Dur("took", took))
	}

	e.markFired(id, now)
	e.cleanup(ctx, id, ent.dueMs)
	return true
}

func (e *Engine) releaseClaim(id string) {
	if err := e.db.Delete(claimKey(id)); err != nil {
		e.logger.Error("claim release failed", log.Str("id", id), log.Err(err))
	}
}

// markFired stamps the instance before deletion so a failed cleanup leaves a
// sweepable orphan instead of an instance that would fire twice.
func (e *Engine) markFired(id string, nowMs int64) {
	err := e.db.Update(instKey(id), func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, nil
		}
		var inst Instance
		if err := json.Unmarshal(current, &inst); err != nil {
			return nil, false, err
		}
		inst.FiredAtMs = nowMs
		next, err := json.Marshal(&inst)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
	if err != nil {
		e.logger.Error("mark fired failed", log.Str("id", id), log.Err(err))
	}
}

func (e *Engine) cleanup(ctx context.Context, id string, dueMs int64) {
	batch := e.db.NewBatch()
	defer batch.Close()
	_ = batch.Delete(instKey(id), nil)
	_ = batch.Delete(dueKey(dueMs, id), nil)
	_ = batch.Delete(claimKey(id), nil)
	if err := e.db.CommitBatch(ctx, batch); err != nil {
		// The next due scan will re-claim and re-delete the orphan.
		e.logger.Error("instance cleanup failed, orphan left behind", log.Str("id", id), log.Err(err))
	}
}
