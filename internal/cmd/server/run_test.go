package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/rivenhq/riven/internal/config"
	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
)

func TestRunStartsAndStops(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Dispatch.PollMs = 50
	cfg.Queue.SweepEveryMs = 50

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			DataDir: dir,
			Fsync:   pebblestore.FsyncModeNever,
			Config:  cfg,
		})
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Reconciler.Schedule = "not a schedule"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Run(ctx, Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfg}); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}

func TestRunRejectsBadSelectionExpr(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Run(ctx, Options{
		DataDir:       t.TempDir(),
		Fsync:         pebblestore.FsyncModeNever,
		SelectionExpr: "assigned <",
		Config:        cfgpkg.Default(),
	})
	if err == nil {
		t.Fatalf("expected selection expression error")
	}
}
