// Package task defines the unit of work riven dispatches to agents, the
// codecs that carry it over the queue, and the durable record kept once a
// task is accepted.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks a task through its dispatch lifecycle.
type Status string

const (
	// StatusQueued: written to the queue, not yet claimed by a consumer.
	StatusQueued Status = "QUEUED"
	// StatusClaimed: dequeued by a dispatch instance, selection pending.
	StatusClaimed Status = "CLAIMED"
	// StatusDispatched: persisted and handed to a selected agent.
	StatusDispatched Status = "DISPATCHED"
	// StatusAcked: terminal; the queue item was acknowledged.
	StatusAcked Status = "ACKED"
	// StatusDone: terminal; the owning agent reported completion.
	StatusDone Status = "DONE"
)

// Task is the payload-bearing unit of work. The payload is opaque to every
// scheduling layer; Type drives routing and capability matching.
type Task struct {
	ID          string `json:"id" cbor:"1,keyasint"`
	TenantID    string `json:"tenantId" cbor:"2,keyasint"`
	Type        string `json:"type" cbor:"3,keyasint"`
	Payload     []byte `json:"payload,omitempty" cbor:"4,keyasint,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs" cbor:"5,keyasint"`
	ExpiresAtMs int64  `json:"expiresAtMs,omitempty" cbor:"6,keyasint,omitempty"`
}

// New builds a Task with a fresh id and creation timestamp.
func New(tenantID, taskType string, payload []byte) *Task {
	return &Task{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Type:        taskType,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// Expired reports whether the task carries an expiry that has lapsed.
func (t *Task) Expired(nowMs int64) bool {
	return t.ExpiresAtMs > 0 && t.ExpiresAtMs <= nowMs
}
