// Package cmd provides the CLI commands for foldermcp.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/logging"
	"github.com/foldermcp/foldermcp/internal/profiling"
	"github.com/foldermcp/foldermcp/pkg/client"
	"github.com/foldermcp/foldermcp/pkg/version"
)

// Exit codes. Scripts depend on these staying stable.
const (
	ExitOK               = 0
	ExitUsage            = 2
	ExitDaemonNotRunning = 3
	ExitInternal         = 4
)

// Profiling flags, hidden behind the root command.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// usageError marks an error caused by bad arguments rather than a failed
// operation, so Execute can map it to the usage exit code.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// usagef builds a usageError.
func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// NewRootCmd creates the root command for the foldermcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foldermcp",
		Short: "Local semantic search over your folders, served to AI assistants via MCP",
		Long: `foldermcp watches the folders you register, indexes their documents
locally (embeddings + keyword index), and serves search to MCP clients
like Claude Desktop and Cursor.

Everything runs on your machine; no document content ever leaves it.

Getting started:
  foldermcp start           # start the background daemon
  foldermcp add ~/Documents # register a folder
  foldermcp status --watch  # watch indexing progress`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("foldermcp version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	_ = cmd.PersistentFlags().MarkHidden("profile-cpu")
	_ = cmd.PersistentFlags().MarkHidden("profile-mem")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.foldermcp/logs/")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging if
// the flags ask for them.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DaemonLogPath()),
			slog.String("version", version.Version))
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, and writes the heap
// profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and maps its error to a process exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	code := exitCode(err)
	switch code {
	case ExitOK:
	case ExitDaemonNotRunning:
		fmt.Fprintln(os.Stderr, "Error: the daemon is not running. Start it with 'foldermcp start'.")
	case ExitUsage:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\nDetails may be in %s\n", err, logging.DaemonLogPath())
	}
	return code
}

// exitCode classifies an Execute error.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	if errors.Is(err, client.ErrDaemonNotRunning) {
		return ExitDaemonNotRunning
	}
	// Cobra reports unparsable invocations as plain errors; they are usage
	// errors for exit-code purposes.
	msg := err.Error()
	if strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "accepts ") ||
		strings.HasPrefix(msg, "requires at least") {
		return ExitUsage
	}
	return ExitInternal
}
