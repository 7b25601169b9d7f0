package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/output"
	"github.com/foldermcp/foldermcp/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var watch bool
	var noColor bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and folder status",
		Long: `Show the daemon's status and the state of every registered folder.

--watch subscribes to the daemon's live state feed and renders indexing
progress until interrupted.`,
		Example: `  foldermcp status
  foldermcp status --json
  foldermcp status --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return runStatusWatch(cmd.Context(), cmd, noColor)
			}
			return runStatus(cmd.Context(), cmd, jsonOutput, noColor)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow live indexing progress")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable styled output")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput, noColor bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cli := newDaemonClient(cfg)
	snap, err := cli.GetFMDM(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	ui.NewStatusRenderer(cmd.OutOrStdout(), noColor).Render(snap)
	return nil
}

func runStatusWatch(ctx context.Context, cmd *cobra.Command, noColor bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cli := newDaemonClient(cfg)
	sub, err := cli.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	err = ui.RunWatch(ctx, ui.WatchConfig{
		Output:    cmd.OutOrStdout(),
		NoColor:   noColor,
		Snapshots: sub.Snapshots(),
	})
	if err != nil {
		return err
	}
	if serr := sub.Err(); serr != nil {
		out.Warning("Lost connection to the daemon")
		return serr
	}
	return nil
}
