package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/internal/model"
	"github.com/foldermcp/foldermcp/internal/output"
	"github.com/foldermcp/foldermcp/internal/validation"
	"github.com/foldermcp/foldermcp/pkg/client"
)

func newAddCmd() *cobra.Command {
	var modelID string
	var priority int

	cmd := &cobra.Command{
		Use:   "add <folder>",
		Short: "Register a folder for indexing",
		Long: `Register a folder with the running daemon.

The daemon scans and indexes the folder immediately and keeps the index
current as files change. Index data lives in a hidden .foldermcp
directory inside the folder itself, so the folder stays portable.`,
		Example: `  foldermcp add ~/Documents/notes
  foldermcp add ~/papers --model bge-m3 --priority 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), cmd, args[0], modelID, priority)
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "", "Embedding model id (default: best for this machine)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Indexing priority relative to other folders")
	return cmd
}

func runAdd(ctx context.Context, cmd *cobra.Command, folder, modelID string, priority int) error {
	out := output.New(cmd.OutOrStdout())

	path, err := validation.FolderPath(folder)
	if err != nil {
		return &usageError{err: err}
	}

	reg, err := model.Load()
	if err != nil {
		return err
	}
	if err := validation.ModelID(reg, modelID); err != nil {
		return &usageError{err: err}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cli := newDaemonClient(cfg)
	err = cli.AddFolder(ctx, daemon.AddFolderParams{
		Path:     path,
		Model:    modelID,
		Priority: priority,
	})
	if err != nil {
		if client.IsFolderExists(err) {
			out.Statusf("", "Folder is already registered: %s", path)
			return nil
		}
		return err
	}

	out.Successf("Added %s", path)
	out.Status("", "Indexing has started; follow it with 'foldermcp status --watch'")
	return nil
}
