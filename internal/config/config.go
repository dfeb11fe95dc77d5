package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	AllowAutoCreateTenants bool           `json:"allowAutoCreateTenants"`
	DefaultTenantName      string         `json:"defaultTenantName"`
	TenantDefaults         TenantDefaults `json:"tenantDefaults"`
	Dispatch               Dispatch       `json:"dispatch"`
	Reconciler             Reconciler     `json:"reconciler"`
	Timeout                Timeout        `json:"timeout"`
	Queue                  Queue          `json:"queue"`
}

// TenantDefaults captures per-tenant baseline limits.
type TenantDefaults struct {
	PayloadMaxBytes int `json:"payloadMaxBytes"`
}

// Dispatch configures the task dispatch service.
type Dispatch struct {
	Topic     string `json:"topic"`
	BatchSize int    `json:"batchSize"`
	PollMs    int    `json:"pollMs"`
}

// Reconciler configures the heartbeat reconciler.
type Reconciler struct {
	Schedule   string `json:"schedule"`
	LockTTLMs  int    `json:"lockTtlMs"`
	FlushEvery int    `json:"flushEvery"`
}

// Timeout configures the timeout engine.
type Timeout struct {
	PollMs       int `json:"pollMs"`
	Workers      int `json:"workers"`
	ClaimTTLMs   int `json:"claimTtlMs"`
	TargetMs     int `json:"targetMs"`
	LagAlertMs   int `json:"lagAlertMs"`
	SlowHandleMs int `json:"slowHandleMs"`
}

// Queue configures the durable queue client.
type Queue struct {
	VisibilityMs  int `json:"visibilityMs"`
	SweepEveryMs  int `json:"sweepEveryMs"`
	SweepMaxItems int `json:"sweepMaxItems"`
	MaxAttempts   int `json:"maxAttempts"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		AllowAutoCreateTenants: true,
		DefaultTenantName:      "default",
		TenantDefaults: TenantDefaults{
			PayloadMaxBytes: 1 << 20,
		},
		Dispatch: Dispatch{
			Topic:     "tasks",
			BatchSize: 100,
			PollMs:    1000,
		},
		Reconciler: Reconciler{
			Schedule:   "@every 1m",
			LockTTLMs:  120_000,
			FlushEvery: 5000,
		},
		Timeout: Timeout{
			PollMs:       10_000,
			Workers:      5,
			ClaimTTLMs:   60_000,
			TargetMs:     120_000,
			LagAlertMs:   45_000,
			SlowHandleMs: 60_000,
		},
		Queue: Queue{
			VisibilityMs:  30_000,
			SweepEveryMs:  500,
			SweepMaxItems: 1024,
			MaxAttempts:   5,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
