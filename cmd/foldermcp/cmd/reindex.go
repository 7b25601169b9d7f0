package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/output"
	"github.com/foldermcp/foldermcp/internal/validation"
	"github.com/foldermcp/foldermcp/pkg/client"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <folder>",
		Short: "Rebuild a folder's index from scratch",
		Long: `Drop a registered folder's index and rebuild it from scratch.

Useful after changing the folder's model or when an index is suspected
stale. The folder keeps serving nothing until the rebuild reaches
ACTIVE; follow progress with 'foldermcp status --watch'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), cmd, args[0])
		},
	}
}

func runReindex(ctx context.Context, cmd *cobra.Command, folder string) error {
	out := output.New(cmd.OutOrStdout())

	path, err := validation.NormalizePath(folder)
	if err != nil {
		return &usageError{err: err}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cli := newDaemonClient(cfg)
	if err := cli.Reindex(ctx, path); err != nil {
		if client.IsFolderUnknown(err) {
			return usagef("folder is not registered: %s", path)
		}
		return err
	}

	out.Successf("Reindexing %s", path)
	return nil
}
