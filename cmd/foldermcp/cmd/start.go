package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/logging"
	"github.com/foldermcp/foldermcp/internal/output"
	"github.com/foldermcp/foldermcp/pkg/client"
)

// startPollInterval and startPollAttempts bound how long 'start' waits for
// the detached daemon to answer on its socket.
const (
	startPollInterval = 100 * time.Millisecond
	startPollAttempts = 20
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Long: `Start the foldermcp daemon as a detached background process.

The command returns once the daemon answers on its control socket.
Use 'foldermcp daemon' to run it in the foreground instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd.Context(), cmd)
		},
	}
}

func runStart(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cli := newDaemonClient(cfg)
	if cli.Ping(ctx) {
		out.Status("", "Daemon is already running")
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	// Re-execute self as a detached session so the daemon outlives this
	// shell.
	bgCmd := exec.Command(execPath, "daemon")
	bgCmd.Stdin = nil
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child when it eventually exits, and catch a premature death
	// during the readiness poll.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < startPollAttempts; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon exited during startup: %w (logs: %s)", err, logging.DaemonLogPath())
			}
			return fmt.Errorf("daemon exited during startup (logs: %s)", logging.DaemonLogPath())
		case <-time.After(startPollInterval):
		}

		if cli.Ping(ctx) {
			out.Successf("Daemon started (pid %d)", bgCmd.Process.Pid)
			out.Statusf("", "Socket: %s", cfg.Daemon.SocketPath)
			out.Statusf("", "Logs:   %s", logging.DaemonLogPath())
			return nil
		}
	}

	return fmt.Errorf("daemon did not become ready in time (logs: %s)", logging.DaemonLogPath())
}

// newDaemonClient builds a control-socket client from the loaded config.
func newDaemonClient(cfg *config.Config) *client.Client {
	return client.New(cfg.Daemon.SocketPath, cfg.Daemon.WebsocketPort)
}
