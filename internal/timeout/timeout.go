// Package timeout persists timers that survive restarts and fires each one
// exactly once across all process instances. Callers register an instance
// with a kind; when its deadline passes, the engine constructs that kind's
// callback and invokes it with the instance's data.
package timeout

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// NeverDue is the sentinel deadline for instances whose tracker reports no
// expiry. They stay persisted but the due scan never reaches them.
const NeverDue int64 = math.MaxInt64

// Tracker reports when a watched entity should time out. The second return
// is false when the entity never expires.
type Tracker interface {
	ExpiryTime() (time.Time, bool)
}

// TrackerFunc adapts a function to the Tracker interface.
type TrackerFunc func() (time.Time, bool)

func (f TrackerFunc) ExpiryTime() (time.Time, bool) { return f() }

// Instance is one persisted timer. FiredAtMs is set just before deletion;
// an instance that survives with it set is a detectable orphan whose
// callback already ran, and is cleaned up without refiring.
type Instance struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Data            []byte `json:"data,omitempty"`
	NextIterationMs int64  `json:"nextIterationMs"`
	CreatedAtMs     int64  `json:"createdAtMs"`
	FiredAtMs       int64  `json:"firedAtMs,omitempty"`
}

// Registry maps kind names to callback constructors. Kinds are registered
// explicitly at startup; resolving an unknown kind is an error surfaced at
// fire time, not a panic.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds a kind to its constructor. Re-registering a kind replaces
// the previous constructor.
func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" || ctor == nil {
		return fmt.Errorf("timeout: register requires kind and constructor")
	}
	r.mu.Lock()
	r.ctors[kind] = ctor
	r.mu.Unlock()
	return nil
}

// Resolve returns the constructor for kind.
func (r *Registry) Resolve(kind string) (Constructor, bool) {
	r.mu.RLock()
	ctor, ok := r.ctors[kind]
	r.mu.RUnlock()
	return ctor, ok
}
