// Package ui renders daemon state for the terminal: a one-shot status
// view and a live watch view fed by FMDM snapshots. The daemon never
// imports this package; the UI is a pure subscriber.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// StateIcon returns the short state tag for plain output.
func StateIcon(state string) string {
	switch state {
	case fmdm.StateInitializing:
		return "INIT"
	case fmdm.StateScanning:
		return "SCAN"
	case fmdm.StateDownloadingModel:
		return "MODEL"
	case fmdm.StateIndexing:
		return "INDEX"
	case fmdm.StateActive:
		return "OK"
	case fmdm.StateError:
		return "ERR"
	case fmdm.StateRemoving:
		return "RM"
	default:
		return "???"
	}
}

// stateStyle picks the style a folder state renders in.
func (s Styles) stateStyle(state string) interface{ Render(...string) string } {
	switch state {
	case fmdm.StateActive:
		return s.Success
	case fmdm.StateError:
		return s.Error
	case fmdm.StateInitializing, fmdm.StateRemoving:
		return s.Dim
	default:
		return s.Active
	}
}

// FormatETA renders an ETA in the compact form the watch view uses.
func FormatETA(seconds int64) string {
	if seconds < 0 {
		return "--"
	}
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// FormatRate renders a throughput figure.
func FormatRate(perSecond float64) string {
	if perSecond <= 0 {
		return ""
	}
	if perSecond >= 100 {
		return fmt.Sprintf("%.0f/s", perSecond)
	}
	return fmt.Sprintf("%.1f/s", perSecond)
}

// progressLabel renders "stage done/total (pct)" for a folder in progress.
func progressLabel(p *fmdm.Progress) string {
	if p == nil {
		return ""
	}
	label := fmt.Sprintf("%s %d/%d (%.0f%%)", p.Stage, p.Done, p.Total, p.Percent)
	if rate := FormatRate(p.Rate); rate != "" {
		label += " " + rate
	}
	if p.ETASeconds >= 0 {
		label += " eta " + FormatETA(p.ETASeconds)
	}
	return label
}
