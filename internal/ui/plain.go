package ui

import (
	"context"
	"fmt"

	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// runPlainWatch prints one line per state change, suitable for pipes and
// CI logs. Heartbeat snapshots that change nothing visible are skipped.
func runPlainWatch(ctx context.Context, cfg WatchConfig) error {
	var last map[string]string

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-cfg.Snapshots:
			if !ok {
				return nil
			}
			current := make(map[string]string, len(snap.Folders))
			for _, f := range snap.Folders {
				line := fmt.Sprintf("[%s] %s", StateIcon(f.State), f.Path)
				if label := progressLabel(f.Progress); label != "" {
					line += " " + label
				}
				if f.State == fmdm.StateError && f.ErrorMessage != "" {
					line += " " + f.ErrorMessage
				}
				current[f.Path] = line
				if last[f.Path] != line {
					fmt.Fprintln(cfg.Output, line)
				}
			}
			for path := range last {
				if _, ok := current[path]; !ok {
					fmt.Fprintf(cfg.Output, "[GONE] %s\n", path)
				}
			}
			last = current
		}
	}
}
