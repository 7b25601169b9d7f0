package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// StatusRenderer writes a one-shot view of an FMDM snapshot.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer builds a renderer; noColor forces the plain palette.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the snapshot as a folder table with a daemon header.
func (r *StatusRenderer) Render(snap fmdm.Snapshot) {
	s := r.styles
	fmt.Fprintln(r.out, s.Header.Render(
		fmt.Sprintf("foldermcp %s (pid %d)", snap.Version, snap.PID)))

	if len(snap.Folders) == 0 {
		fmt.Fprintln(r.out, s.Label.Render("No folders indexed. Add one with `foldermcp add <path>`."))
		return
	}

	for _, f := range snap.Folders {
		r.renderFolder(f)
	}
}

func (r *StatusRenderer) renderFolder(f fmdm.Folder) {
	s := r.styles
	state := s.stateStyle(f.State).Render(fmt.Sprintf("%-6s", StateIcon(f.State)))
	line := fmt.Sprintf("%s %s", state, f.Path)

	var details []string
	if f.Model != "" {
		details = append(details, f.Model)
	}
	if f.State == fmdm.StateActive {
		details = append(details, fmt.Sprintf("%d docs, %d chunks", f.Documents, f.Chunks))
		if f.Watching {
			details = append(details, "watching")
		}
	}
	if label := progressLabel(f.Progress); label != "" {
		details = append(details, label)
	}
	if len(details) > 0 {
		line += s.Label.Render("  " + strings.Join(details, " · "))
	}
	fmt.Fprintln(r.out, line)

	if f.State == fmdm.StateError && f.ErrorMessage != "" {
		fmt.Fprintln(r.out, "       "+s.Error.Render(f.ErrorMessage))
	}
}
