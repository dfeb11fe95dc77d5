package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	serverrun "github.com/rivenhq/riven/internal/cmd/server"
	cfgpkg "github.com/rivenhq/riven/internal/config"
	pebblestore "github.com/rivenhq/riven/internal/storage/pebble"
	logpkg "github.com/rivenhq/riven/pkg/log"
)

func main() {
	// Respect RIVEN_LOG_LEVEL for CLI output before a server logger exists.
	logger := logpkg.FromEnv()
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "riven",
		Short: "Riven task dispatch CLI",
		Long:  "Riven is a single-binary task dispatch runtime. This CLI manages the server and basic operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start riven server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			selectionExpr, _ := cmd.Flags().GetString("selection-expr")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if logLevel != "" {
				_ = os.Setenv("RIVEN_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("RIVEN_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				SelectionExpr: selectionExpr,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("config", "", "Path to JSON config file")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("RIVEN_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("RIVEN_LOG_FORMAT"), "Log format: text|json (default text)")
	serverStartCmd.Flags().String("selection-expr", os.Getenv("RIVEN_SELECTION_EXPR"), "Optional CEL expression narrowing agent eligibility")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
