package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/foldermcp/foldermcp/internal/lifecycle"
	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

func newTestHub(t *testing.T) *hub {
	t.Helper()
	h := newHub("test", nil)
	t.Cleanup(h.Close)
	return h
}

func TestHubPublishesOnUpdate(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t)

	ch, cancel := h.Subscribe()
	defer cancel()

	// The current snapshot is pre-buffered.
	first := <-ch
	assert.Empty(t, first.Folders)

	h.Update(lifecycle.Status{
		FolderPath: "/data/docs",
		State:      lifecycle.StateScanning,
		ModelID:    "builtin-hash-384",
	})

	snap := <-ch
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, "/data/docs", snap.Folders[0].Path)
	assert.Equal(t, fmdm.StateScanning, snap.Folders[0].State)
	assert.Greater(t, snap.Seq, first.Seq)
}

func TestHubSequenceMonotonic(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t)

	var last uint64
	for i := 0; i < 5; i++ {
		h.Update(lifecycle.Status{FolderPath: "/a", State: lifecycle.StateIndexing})
		snap := h.Snapshot()
		assert.Greater(t, snap.Seq, last)
		last = snap.Seq
	}
}

func TestHubRemoveDropsFolder(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t)

	h.Update(lifecycle.Status{FolderPath: "/a", State: lifecycle.StateActive})
	h.Update(lifecycle.Status{FolderPath: "/b", State: lifecycle.StateActive})
	require.Len(t, h.Snapshot().Folders, 2)

	h.Remove("/a")
	snap := h.Snapshot()
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, "/b", snap.Folders[0].Path)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t)

	ch, cancel := h.Subscribe()
	defer cancel()

	// Never read: the pre-buffered snapshot plus buffer-many updates fill
	// the channel, and the next publish drops the subscriber.
	for i := 0; i <= subscriberBuffer+1; i++ {
		h.Update(lifecycle.Status{FolderPath: "/a", State: lifecycle.StateIndexing})
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return // dropped, channel closed
			}
		case <-deadline:
			t.Fatal("slow subscriber was not dropped")
		}
	}
}

func TestHubSubscribeAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHub("test", nil)
	h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok, "subscription after close must be a closed channel")
}

func TestHubCancelIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t)

	_, cancel := h.Subscribe()
	cancel()
	cancel()
}

func TestFolderFromStatusCarriesProgress(t *testing.T) {
	st := lifecycle.Status{
		FolderPath: "/a",
		State:      lifecycle.StateIndexing,
		ModelID:    "m",
		Progress: &lifecycle.Progress{
			Stage:      "indexing",
			Done:       3,
			Total:      10,
			Percent:    30,
			ETASeconds: 7,
		},
		Documents: 3,
		Chunks:    12,
		Watching:  true,
	}
	f := folderFromStatus(st)
	require.NotNil(t, f.Progress)
	assert.Equal(t, int64(3), f.Progress.Done)
	assert.Equal(t, int64(10), f.Progress.Total)
	assert.Equal(t, 12, f.Chunks)
	assert.True(t, f.Watching)
}
