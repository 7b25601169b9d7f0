package cmd

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/internal/output"
	"github.com/foldermcp/foldermcp/pkg/client"
)

// stopPollInterval and stopPollAttempts bound the graceful-shutdown wait
// before escalating to SIGKILL.
const (
	stopPollInterval = 100 * time.Millisecond
	stopPollAttempts = 50
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running foldermcp daemon.

Asks the daemon to shut down over its control socket; if the socket does
not answer but the pidfile names a live process, falls back to SIGTERM
and finally SIGKILL. Graceful shutdown closes every folder's index
cleanly, so the next start skips recovery.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStop(cmd.Context(), cmd)
		},
	}
}

func runStop(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	pidfile := daemon.NewPidfile(cfg.Daemon.PidfilePath)
	cli := newDaemonClient(cfg)

	err = cli.Stop(ctx)
	switch {
	case err == nil:
		// Acknowledged; wait for the process to actually exit.
	case errors.Is(err, client.ErrDaemonNotRunning):
		if !pidfile.IsRunning() {
			out.Status("", "Daemon is not running")
			return nil
		}
		// Socket is gone but the process lives; signal it directly.
		if err := pidfile.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to signal daemon: %w", err)
		}
	default:
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < stopPollAttempts; i++ {
		time.Sleep(stopPollInterval)
		if !pidfile.IsRunning() {
			out.Success("Daemon stopped")
			return nil
		}
	}

	out.Warning("Daemon did not stop in time, sending SIGKILL")
	if err := pidfile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	out.Success("Daemon killed")
	return nil
}
