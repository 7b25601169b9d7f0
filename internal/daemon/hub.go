package daemon

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/foldermcp/foldermcp/internal/lifecycle"
	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// heartbeatInterval is the snapshot cadence while any folder is busy.
// Idle folders publish only on transitions.
const heartbeatInterval = time.Second

// subscriberBuffer is how many snapshots a subscriber may fall behind
// before the hub drops it. Every snapshot is complete, so a dropped
// subscriber can resubscribe and lose nothing but intermediate frames.
const subscriberBuffer = 16

// hub owns the folder-model snapshot: one immutable, sequence-numbered
// view of every registered folder. Engines feed it status changes; the
// control servers and the heartbeat read from it. Publishing never blocks
// the caller.
type hub struct {
	log       *slog.Logger
	version   string
	startedAt time.Time

	mu      sync.Mutex
	seq     uint64
	folders map[string]fmdm.Folder
	current fmdm.Snapshot
	subs    map[chan fmdm.Snapshot]struct{}
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// newHub starts the heartbeat goroutine and returns a hub with an empty
// snapshot at sequence zero.
func newHub(version string, log *slog.Logger) *hub {
	if log == nil {
		log = slog.Default()
	}
	h := &hub{
		log:       log,
		version:   version,
		startedAt: time.Now().UTC(),
		folders:   make(map[string]fmdm.Folder),
		subs:      make(map[chan fmdm.Snapshot]struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.current = h.buildLocked()
	go h.heartbeat()
	return h
}

// Update records a folder transition and publishes a fresh snapshot.
// Safe to call from any engine goroutine.
func (h *hub) Update(st lifecycle.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.folders[st.FolderPath] = folderFromStatus(st)
	h.publishLocked()
}

// Remove drops a folder from the model and publishes.
func (h *hub) Remove(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	delete(h.folders, path)
	h.publishLocked()
}

// Snapshot returns the current model.
func (h *hub) Snapshot() fmdm.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Subscribe registers a snapshot channel. The current snapshot is already
// buffered in the returned channel, so subscribers render state without
// waiting for the next transition. The cancel function is idempotent.
func (h *hub) Subscribe() (<-chan fmdm.Snapshot, func()) {
	ch := make(chan fmdm.Snapshot, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	ch <- h.current
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close stops the heartbeat and closes every subscriber channel.
func (h *hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[chan fmdm.Snapshot]struct{})
	h.mu.Unlock()

	close(h.stop)
	<-h.done
}

// heartbeat republishes at a fixed cadence while any folder is busy, so
// subscribers see progress ticks even between engine transitions.
func (h *hub) heartbeat() {
	defer close(h.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			if !h.closed && h.current.Busy() {
				h.publishLocked()
			}
			h.mu.Unlock()
		case <-h.stop:
			return
		}
	}
}

// publishLocked rebuilds the snapshot and fans it out. A subscriber whose
// buffer is full gets dropped on the spot rather than slowing the rest.
func (h *hub) publishLocked() {
	h.current = h.buildLocked()
	for ch := range h.subs {
		select {
		case ch <- h.current:
		default:
			delete(h.subs, ch)
			close(ch)
			h.log.Warn("dropped slow snapshot subscriber",
				slog.Uint64("seq", h.current.Seq))
		}
	}
}

// buildLocked assembles the next snapshot from the folder map.
func (h *hub) buildLocked() fmdm.Snapshot {
	h.seq++
	folders := make([]fmdm.Folder, 0, len(h.folders))
	for _, f := range h.folders {
		folders = append(folders, f)
	}
	fmdm.SortFolders(folders)

	return fmdm.Snapshot{
		Seq:       h.seq,
		PID:       os.Getpid(),
		Version:   h.version,
		StartedAt: h.startedAt,
		UpdatedAt: time.Now().UTC(),
		Folders:   folders,
	}
}

// folderFromStatus converts an engine status into its public FMDM form.
func folderFromStatus(st lifecycle.Status) fmdm.Folder {
	f := fmdm.Folder{
		Path:         st.FolderPath,
		State:        string(st.State),
		Model:        st.ModelID,
		ErrorCode:    st.ErrorCode,
		ErrorMessage: st.ErrorMessage,
		Documents:    st.Documents,
		Chunks:       st.Chunks,
		Watching:     st.Watching,
		UpdatedAt:    st.UpdatedAt,
	}
	if st.Progress != nil {
		f.Progress = &fmdm.Progress{
			Stage:      st.Progress.Stage,
			Done:       st.Progress.Done,
			Total:      st.Progress.Total,
			Percent:    st.Progress.Percent,
			Rate:       st.Progress.Rate,
			ETASeconds: st.Progress.ETASeconds,
		}
	}
	return f
}
