package config

import (
	"os"
	"strconv"
)

// FromEnv overlays RIVEN_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RIVEN_ALLOW_AUTO_CREATE_TENANTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowAutoCreateTenants = b
		}
	}
	if v := os.Getenv("RIVEN_DEFAULT_TENANT_NAME"); v != "" {
		cfg.DefaultTenantName = v
	}
	setInt(&cfg.TenantDefaults.PayloadMaxBytes, "RIVEN_TENANT_PAYLOAD_MAX_BYTES")
	if v := os.Getenv("RIVEN_DISPATCH_TOPIC"); v != "" {
		cfg.Dispatch.Topic = v
	}
	setInt(&cfg.Dispatch.BatchSize, "RIVEN_DISPATCH_BATCH_SIZE")
	setInt(&cfg.Dispatch.PollMs, "RIVEN_DISPATCH_POLL_MS")
	if v := os.Getenv("RIVEN_RECONCILER_SCHEDULE"); v != "" {
		cfg.Reconciler.Schedule = v
	}
	setInt(&cfg.Reconciler.LockTTLMs, "RIVEN_RECONCILER_LOCK_TTL_MS")
	setInt(&cfg.Reconciler.FlushEvery, "RIVEN_RECONCILER_FLUSH_EVERY")
	setInt(&cfg.Timeout.PollMs, "RIVEN_TIMEOUT_POLL_MS")
	setInt(&cfg.Timeout.Workers, "RIVEN_TIMEOUT_WORKERS")
	setInt(&cfg.Timeout.ClaimTTLMs, "RIVEN_TIMEOUT_CLAIM_TTL_MS")
	setInt(&cfg.Queue.VisibilityMs, "RIVEN_QUEUE_VISIBILITY_MS")
	setInt(&cfg.Queue.SweepEveryMs, "RIVEN_QUEUE_SWEEP_EVERY_MS")
	setInt(&cfg.Queue.SweepMaxItems, "RIVEN_QUEUE_SWEEP_MAX_ITEMS")
	setInt(&cfg.Queue.MaxAttempts, "RIVEN_QUEUE_MAX_ATTEMPTS")
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
