package dispatch

import (
	"context"

	"github.com/rivenhq/riven/internal/task"
)

// Notifier pushes a dispatched task toward its agent. Delivery is advisory;
// the durable record and assignment index are the source of truth, so a
// failed notify is logged and the agent picks the task up on its next poll.
type Notifier interface {
	Notify(ctx context.Context, agentID string, t *task.Task) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, agentID string, t *task.Task) error

func (f NotifierFunc) Notify(ctx context.Context, agentID string, t *task.Task) error {
	return f(ctx, agentID, t)
}

// NopNotifier discards notifications; agents poll for work instead.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, *task.Task) error { return nil }
