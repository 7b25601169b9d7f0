package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/internal/logging"
	"github.com/foldermcp/foldermcp/internal/mcp"
	"github.com/foldermcp/foldermcp/internal/validation"
	"github.com/foldermcp/foldermcp/pkg/version"
)

func newMCPCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Long: `Serve the MCP tool surface over stdio for an AI assistant.

This process holds no index and no model; every tool call becomes one
RPC to the running daemon. Configure your MCP client to launch it:

  { "command": "foldermcp", "args": ["mcp"] }

--folder pins every tool call to one folder; otherwise tools take a
folder argument, defaulting to the only registered folder.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd, folder)
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Pin tool calls to this folder")
	return cmd
}

func runMCP(cmd *cobra.Command, folder string) error {
	// Stdout carries JSON-RPC exclusively from here on; logs go to file.
	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("failed to setup MCP logging: %w", err)
	}
	defer cleanup()
	log := slog.Default()

	if folder != "" {
		folder, err = validation.NormalizePath(folder)
		if err != nil {
			return &usageError{err: err}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Register so the daemon can terminate this process if it lingers
	// across a daemon restart.
	registry := daemon.NewMCPRegistry(config.MCPRegistryPath())
	if err := registry.Register(folder); err != nil {
		log.Warn("failed to register MCP server", slog.String("error", err.Error()))
	} else {
		defer func() {
			if err := registry.Unregister(os.Getpid()); err != nil {
				log.Warn("failed to unregister MCP server", slog.String("error", err.Error()))
			}
		}()
	}

	cli := newDaemonClient(cfg)
	srv := mcp.NewServer(cli, folder, version.Version, log)

	log.Info("MCP server starting",
		slog.String("folder", folder),
		slog.Int("pid", os.Getpid()))

	return srv.Run(cmd.Context())
}
