package timeout

import "context"

// Callback handles a fired timer. Data is the blob stored at registration.
// An error is logged, never retried; the instance is consumed either way.
type Callback interface {
	OnTimeout(ctx context.Context, data []byte) error
}

// Constructor builds a fresh Callback per firing. Kinds are late bound: a
// constructor may close over services that did not exist when the instance
// was persisted.
type Constructor func() Callback

// CallbackFunc adapts a function to the Callback interface.
type CallbackFunc func(ctx context.Context, data []byte) error

func (f CallbackFunc) OnTimeout(ctx context.Context, data []byte) error { return f(ctx, data) }
