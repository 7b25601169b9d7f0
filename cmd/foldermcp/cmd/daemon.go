package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/internal/logging"
	"github.com/foldermcp/foldermcp/pkg/version"
)

func newDaemonCmd() *cobra.Command {
	var stderrLogs bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the daemon in the foreground",
		Long: `Run the foldermcp daemon in the foreground.

The daemon owns every registered folder: it watches for changes, builds
and maintains the indexes, and serves search over the control socket.
'foldermcp start' runs this command detached; run it directly for
debugging or under a process supervisor.`,
		Example: `  foldermcp daemon            # logs to file only
  foldermcp daemon --stderr   # tee logs to the terminal`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, stderrLogs)
		},
	}

	cmd.Flags().BoolVar(&stderrLogs, "stderr", false, "Also write logs to stderr")
	return cmd
}

func runDaemon(cmd *cobra.Command, stderrLogs bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if debugMode {
		logCfg.Level = "debug"
	}
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxGenerations
	logCfg.WriteToStderr = stderrLogs

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	// SIGINT/SIGTERM cancel the run context; the orchestrator closes every
	// store before Run returns.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := daemon.NewOrchestrator(daemon.Options{
		Config:     cfg,
		ConfigPath: config.DefaultConfigPath(),
		Version:    version.Version,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("daemon starting",
		slog.String("version", version.Version),
		slog.String("socket", cfg.Daemon.SocketPath),
		slog.String("log_file", logging.DaemonLogPath()))

	return orch.Run(ctx)
}
