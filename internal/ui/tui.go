package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// WatchConfig configures the live watch view.
type WatchConfig struct {
	Output  io.Writer
	NoColor bool

	// Snapshots feeds the view. The view exits when the channel closes.
	Snapshots <-chan fmdm.Snapshot
}

// RunWatch renders live FMDM snapshots until the feed closes, the context
// ends, or the user quits. Falls back to line output on non-TTYs.
func RunWatch(ctx context.Context, cfg WatchConfig) error {
	if !IsTTY(cfg.Output) {
		return runPlainWatch(ctx, cfg)
	}

	m := newWatchModel(cfg)
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if f, ok := cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	_, err := tea.NewProgram(m, opts...).Run()
	if err == tea.ErrProgramKilled || err == context.Canceled {
		return nil
	}
	return err
}

// snapshotMsg delivers one FMDM snapshot into the bubbletea loop.
type snapshotMsg fmdm.Snapshot

// feedClosedMsg reports that the subscription ended.
type feedClosedMsg struct{}

type watchModel struct {
	styles  Styles
	spin    spinner.Model
	feed    <-chan fmdm.Snapshot
	snap    fmdm.Snapshot
	haveOne bool
	spark   *Sparkline

	// lastChunks tracks total chunk count between snapshots for the
	// throughput sparkline.
	lastChunks int
}

func newWatchModel(cfg WatchConfig) *watchModel {
	styles := GetStyles(cfg.NoColor)
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = styles.Bar
	return &watchModel{
		styles: styles,
		spin:   sp,
		feed:   cfg.Snapshots,
		spark:  NewSparkline(40),
	}
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForSnapshot())
}

func (m *watchModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.feed
		if !ok {
			return feedClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case snapshotMsg:
		snap := fmdm.Snapshot(msg)
		if m.haveOne {
			total := 0
			for _, f := range snap.Folders {
				total += f.Chunks
			}
			if delta := total - m.lastChunks; delta >= 0 {
				m.spark.Add(float64(delta))
			}
			m.lastChunks = total
		} else {
			for _, f := range snap.Folders {
				m.lastChunks += f.Chunks
			}
		}
		m.snap = snap
		m.haveOne = true
		return m, m.waitForSnapshot()
	case feedClosedMsg:
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) View() string {
	s := m.styles
	if !m.haveOne {
		return m.spin.View() + " waiting for daemon…\n"
	}

	var sb strings.Builder
	sb.WriteString(s.Header.Render(fmt.Sprintf(
		"foldermcp %s · pid %d · seq %d", m.snap.Version, m.snap.PID, m.snap.Seq)))
	sb.WriteString("\n\n")

	if len(m.snap.Folders) == 0 {
		sb.WriteString(s.Label.Render("No folders indexed.\n"))
	}
	for _, f := range m.snap.Folders {
		sb.WriteString(m.renderFolder(f))
		sb.WriteString("\n")
	}

	if m.snap.Busy() {
		sb.WriteString("\n")
		sb.WriteString(s.Label.Render("chunks/s "))
		sb.WriteString(s.Sparkline.Render(m.spark.Render()))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(s.Dim.Render("q to quit"))
	sb.WriteString("\n")
	return s.Panel.Render(sb.String())
}

func (m *watchModel) renderFolder(f fmdm.Folder) string {
	s := m.styles
	var sb strings.Builder

	marker := s.stateStyle(f.State).Render(fmt.Sprintf("%-6s", StateIcon(f.State)))
	if f.State == fmdm.StateScanning || f.State == fmdm.StateIndexing ||
		f.State == fmdm.StateDownloadingModel {
		marker = m.spin.View() + " " + marker
	}
	sb.WriteString(fmt.Sprintf("%s %s\n", marker, f.Path))

	if p := f.Progress; p != nil {
		sb.WriteString("  ")
		sb.WriteString(s.Bar.Render(renderBar(p.Percent, barWidth)))
		sb.WriteString(s.Label.Render("  " + progressLabel(p)))
		sb.WriteString("\n")
	} else if f.State == fmdm.StateActive {
		sb.WriteString(s.Label.Render(fmt.Sprintf("  %d docs · %d chunks", f.Documents, f.Chunks)))
		if f.Watching {
			sb.WriteString(s.Label.Render(" · watching"))
		}
		sb.WriteString("\n")
	}
	if f.State == fmdm.StateError && f.ErrorMessage != "" {
		sb.WriteString("  " + s.Error.Render(f.ErrorMessage) + "\n")
	}
	return sb.String()
}
