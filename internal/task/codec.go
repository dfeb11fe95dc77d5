package task

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes tasks for queue transport. Implementations must be safe
// for concurrent use.
type Codec interface {
	Name() string
	Encode(t *Task) ([]byte, error)
	Decode(data []byte) (*Task, error)
}

// JSONCodec carries tasks as JSON. Readable on the wire, the default.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Encode implements Codec.
func (JSONCodec) Encode(t *Task) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("task: encode nil task")
	}
	return json.Marshal(t)
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("task: decode json: %w", err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("task: decode json: missing id")
	}
	return &t, nil
}

// BinaryCodec carries tasks as CBOR with integer keys, for payload-heavy
// tenants where JSON overhead matters.
type BinaryCodec struct{}

// Name implements Codec.
func (BinaryCodec) Name() string { return "cbor" }

// Encode implements Codec.
func (BinaryCodec) Encode(t *Task) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("task: encode nil task")
	}
	return cbor.Marshal(t)
}

// Decode implements Codec.
func (BinaryCodec) Decode(data []byte) (*Task, error) {
	var t Task
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("task: decode cbor: %w", err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("task: decode cbor: missing id")
	}
	return &t, nil
}
