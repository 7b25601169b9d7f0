package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/internal/output"
	"github.com/foldermcp/foldermcp/internal/validation"
	"github.com/foldermcp/foldermcp/pkg/client"
)

func newRemoveCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "remove <folder>",
		Short: "Unregister a folder",
		Long: `Unregister a folder from the daemon.

In-flight work for the folder is cancelled and its index stops serving.
The hidden .foldermcp index directory stays on disk unless --purge is
given; the folder's own files are never touched.`,
		Example: `  foldermcp remove ~/Documents/notes
  foldermcp remove ~/Documents/notes --purge`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args[0], purge)
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the on-disk index data")
	return cmd
}

func runRemove(ctx context.Context, cmd *cobra.Command, folder string, purge bool) error {
	out := output.New(cmd.OutOrStdout())

	// The folder may already be deleted from disk; normalize without
	// requiring it to exist so stale registrations can still be removed.
	path, err := validation.NormalizePath(folder)
	if err != nil {
		return &usageError{err: err}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cli := newDaemonClient(cfg)
	err = cli.RemoveFolder(ctx, daemon.RemoveFolderParams{Path: path, Purge: purge})
	if err != nil {
		if client.IsFolderUnknown(err) {
			return usagef("folder is not registered: %s", path)
		}
		return err
	}

	if purge {
		out.Successf("Removed %s and deleted its index", path)
	} else {
		out.Successf("Removed %s (index data kept on disk)", path)
	}
	return nil
}
