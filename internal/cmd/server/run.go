package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	cfgpkg "github.com/rivenhq/riven/internal/config"
	"github.com/rivenhq/riven/internal/runtime"
	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
	logpkg "github.com/rivenhq/riven/pkg/log"
)

// Options configures a server run.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	// SelectionExpr optionally narrows agent eligibility.
	SelectionExpr string
	Config        cfgpkg.Config
}

// Run starts the runtime and its background schedulers and blocks until ctx
// is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context; layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	procLogger := logpkg.FromEnv()
	// Redirect stdlib logs (e.g., Pebble) to our logger.
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config()
	procLogger.Info("Starting riven server",
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("topic", cfg.Dispatch.Topic),
		logpkg.Str("reconcile", cfg.Reconciler.Schedule))

	if cfg.DefaultTenantName != "" {
		if _, err := rt.EnsureTenant(cfg.DefaultTenantName); err != nil {
			return err
		}
	}

	dispatcher, err := rt.NewDispatcher(opts.SelectionExpr)
	if err != nil {
		return err
	}
	q, err := rt.OpenQueue(cfg.Dispatch.Topic)
	if err != nil {
		return err
	}
	q.StartSweeper(time.Duration(cfg.Queue.SweepEveryMs)*time.Millisecond, cfg.Queue.SweepMaxItems)

	rt.Timeouts().Start()

	reconciler := rt.NewReconciler()
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Reconciler.Schedule, func() {
		if _, err := reconciler.Run(sctx); err != nil && sctx.Err() == nil {
			procLogger.Error("reconcile run failed", logpkg.Err(err))
		}
	}); err != nil {
		return err
	}
	sched.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(cfg.Dispatch.PollMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				if _, err := dispatcher.DispatchBatch(sctx); err != nil && sctx.Err() == nil {
					procLogger.Error("dispatch cycle failed", logpkg.Err(err))
				}
			}
		}
	}()

	<-sctx.Done()
	// Stop schedulers before closing the runtime/DB to avoid races.
	cronCtx := sched.Stop()
	<-cronCtx.Done()
	wg.Wait()
	procLogger.Info("riven server stopped")
	return nil
}
