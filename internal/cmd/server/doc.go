// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the riven runtime with its background schedulers, handling lifecycle and
// shutdown.
//
// Example:
//
//	opts := serverrun.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
