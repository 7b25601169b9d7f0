// Package main provides hwprobe, a developer tool that runs the hardware
// capability probe once and prints the resulting profile as JSON. Useful
// for debugging accelerator detection on a user's machine without starting
// the daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/foldermcp/foldermcp/internal/embed"
	"github.com/foldermcp/foldermcp/internal/hardware"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	profile := hardware.NewProber(log).ForceRefresh(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(profile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "gpu capable: %v\n", profile.GPUCapable())
	fmt.Fprintf(os.Stderr, "cpu batch-size hint: %d\n", embed.BatchSizeHint(profile, embed.BackendCPU))
}
