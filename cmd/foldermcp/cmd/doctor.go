package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/doctor"
	"github.com/foldermcp/foldermcp/internal/output"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the installation",
		Long: `Run self-diagnostics: disk space, file-descriptor limits, memory,
embedding-engine reachability, and per-folder index health.

When the daemon is running its live diagnostics (hardware profile, model
runners, pool queue) are included; otherwise only the local checks run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show fix suggestions for every finding")
	return cmd
}

// doctorReport is the --json payload.
type doctorReport struct {
	Summary string               `json:"summary"`
	Checks  []doctor.CheckResult `json:"checks"`
	Daemon  any                  `json:"daemon,omitempty"`
}

func runDoctor(ctx context.Context, cmd *cobra.Command, jsonOutput, verbose bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	checker := doctor.New(cfg, nil)
	results := checker.RunAll(ctx)
	report := doctorReport{
		Summary: doctor.Summary(results),
		Checks:  results,
	}

	// Live daemon diagnostics are additive; a stopped daemon is itself a
	// finding, not a failure of the doctor command.
	cli := newDaemonClient(cfg)
	diag, diagErr := cli.Diagnostics(ctx)
	if diagErr == nil {
		report.Daemon = diag
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out.Status("", "foldermcp doctor")
	out.Newline()
	for _, r := range results {
		out.Statusf("", "[%s] %s: %s", r.Status, r.Name, r.Message)
		if verbose && r.Details != "" {
			out.Statusf("", "       %s", r.Details)
		}
	}
	out.Newline()

	if diagErr != nil {
		out.Status("", "Daemon: not running (start it with 'foldermcp start')")
	} else {
		gpu := string(diag.Hardware.GPU.Kind)
		if gpu == "" {
			gpu = "none"
		}
		out.Statusf("", "Daemon: up %s", diag.Uptime)
		out.Statusf("", "Hardware: %s/%s, %d cores, %.0f GB RAM, GPU %s",
			diag.Hardware.OS, diag.Hardware.Arch, diag.Hardware.CPUCores, diag.Hardware.RAMGB, gpu)
		for _, m := range diag.Models {
			state := "ready"
			if !m.Ready {
				state = "loading"
			}
			out.Statusf("", "Model %s: %s, %d dims, batch %d", m.ModelID, state, m.Dimensions, m.BatchSize)
		}
		for _, f := range diag.Folders {
			line := fmt.Sprintf("Folder %s: %s", f.Path, strings.ToUpper(f.State))
			if f.Info != nil {
				line += fmt.Sprintf(", %s documents, %s chunks",
					humanize.Comma(int64(f.Info.DocumentCount)), humanize.Comma(int64(f.Info.ChunkCount)))
			}
			out.Status("", line)
		}
	}
	out.Newline()
	out.Statusf("", "Status: %s", strings.ToUpper(report.Summary))

	if doctor.HasCriticalFailures(results) {
		return fmt.Errorf("diagnostics found critical problems")
	}
	return nil
}
