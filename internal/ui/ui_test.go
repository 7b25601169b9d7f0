package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

func TestStateIcon(t *testing.T) {
	assert.Equal(t, "OK", StateIcon(fmdm.StateActive))
	assert.Equal(t, "ERR", StateIcon(fmdm.StateError))
	assert.Equal(t, "INDEX", StateIcon(fmdm.StateIndexing))
	assert.Equal(t, "???", StateIcon("BOGUS"))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "--", FormatETA(-1))
	assert.Equal(t, "45s", FormatETA(45))
	assert.Equal(t, "2m05s", FormatETA(125))
	assert.Equal(t, "1h01m", FormatETA(3700))
}

func TestRenderBar(t *testing.T) {
	full := renderBar(100, 10)
	assert.Equal(t, strings.Repeat("█", 10), full)

	empty := renderBar(0, 10)
	assert.Equal(t, strings.Repeat("░", 10), empty)

	half := renderBar(50, 10)
	assert.Contains(t, half, "█████")
	// Width is stable regardless of fill.
	assert.Equal(t, 10, len([]rune(half)))
}

func TestSparklineScalesToMax(t *testing.T) {
	sp := NewSparkline(4)
	sp.Add(0)
	sp.Add(50)
	sp.Add(100)

	out := []rune(sp.Render())
	require.Len(t, out, 4)
	assert.Equal(t, '▁', out[0])
	assert.Equal(t, '█', out[2])
	assert.Equal(t, ' ', out[3], "unfilled tail stays blank")
}

func TestStatusRendererShowsFolders(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	r.Render(fmdm.Snapshot{
		Version: "1.0.0",
		PID:     77,
		Folders: []fmdm.Folder{
			{
				Path:      "/data/docs",
				State:     fmdm.StateActive,
				Model:     "builtin-hash-384",
				Documents: 4,
				Chunks:    19,
				Watching:  true,
			},
			{
				Path:  "/data/wiki",
				State: fmdm.StateIndexing,
				Progress: &fmdm.Progress{
					Stage:   "indexing",
					Done:    3,
					Total:   10,
					Percent: 30,
				},
			},
			{
				Path:         "/data/broken",
				State:        fmdm.StateError,
				ErrorMessage: "model runtime unavailable",
			},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "foldermcp 1.0.0 (pid 77)")
	assert.Contains(t, out, "/data/docs")
	assert.Contains(t, out, "4 docs, 19 chunks")
	assert.Contains(t, out, "watching")
	assert.Contains(t, out, "indexing 3/10 (30%)")
	assert.Contains(t, out, "model runtime unavailable")
}

func TestStatusRendererEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewStatusRenderer(&buf, true).Render(fmdm.Snapshot{Version: "1.0.0"})
	assert.Contains(t, buf.String(), "foldermcp add")
}

func TestPlainWatchPrintsChangesOnly(t *testing.T) {
	feed := make(chan fmdm.Snapshot, 3)
	folder := fmdm.Folder{Path: "/data/docs", State: fmdm.StateIndexing,
		Progress: &fmdm.Progress{Stage: "indexing", Done: 1, Total: 2, Percent: 50, ETASeconds: -1}}
	feed <- fmdm.Snapshot{Seq: 1, Folders: []fmdm.Folder{folder}}
	// Heartbeat with no visible change.
	feed <- fmdm.Snapshot{Seq: 2, Folders: []fmdm.Folder{folder}}
	folder.State = fmdm.StateActive
	folder.Progress = nil
	feed <- fmdm.Snapshot{Seq: 3, Folders: []fmdm.Folder{folder}}
	close(feed)

	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runPlainWatch(ctx, WatchConfig{Output: &buf, Snapshots: feed}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "heartbeat must not repeat an unchanged line")
	assert.Contains(t, lines[0], "[INDEX] /data/docs")
	assert.Contains(t, lines[1], "[OK] /data/docs")
}

func TestWatchModelRendersSnapshot(t *testing.T) {
	feed := make(chan fmdm.Snapshot, 1)
	m := newWatchModel(WatchConfig{Snapshots: feed, NoColor: true})

	model, _ := m.Update(snapshotMsg(fmdm.Snapshot{
		Version: "1.0.0",
		Folders: []fmdm.Folder{{
			Path:  "/data/docs",
			State: fmdm.StateIndexing,
			Progress: &fmdm.Progress{
				Stage: "indexing", Done: 5, Total: 10, Percent: 50, ETASeconds: 12,
			},
		}},
	}))
	view := model.(*watchModel).View()
	assert.Contains(t, view, "/data/docs")
	assert.Contains(t, view, "indexing 5/10 (50%)")
	assert.Contains(t, view, "eta 12s")
	assert.Contains(t, view, "q to quit")
}
