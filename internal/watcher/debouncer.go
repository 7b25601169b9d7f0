package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of events for the same path. Within one
// window:
//
//	create then modify -> create
//	create then delete -> both dropped, the file never really existed
//	modify then delete -> delete
//	delete then create -> modify, the file was replaced
//
// Each new event restarts the window, so a burst flushes one window after
// its last event.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*tracked
	out     chan []FileEvent
	timer   *time.Timer
	stopped bool
}

// tracked holds the coalesced event for one path plus the operation the
// burst started with, which decides how later events merge.
type tracked struct {
	event   FileEvent
	firstOp Op
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*tracked),
		out:     make(chan []FileEvent, 10),
	}
}

// Add feeds one raw event into the current window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged := merge(existing, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
		}
	} else {
		d.pending[event.Path] = &tracked{event: event, firstOp: event.Op}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// merge applies the coalescing rules. Returns nil when the events cancel
// out.
func merge(existing *tracked, incoming FileEvent) *FileEvent {
	switch existing.firstOp {
	case OpCreate:
		switch incoming.Op {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &incoming
		}
	case OpDelete:
		if incoming.Op == OpCreate {
			replaced := incoming
			replaced.Op = OpModify
			return &replaced
		}
		return &incoming
	default:
		return &incoming
	}
}

// flush emits everything pending as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, tr := range d.pending {
		batch = append(batch, tr.event)
	}
	d.pending = make(map[string]*tracked)

	select {
	case d.out <- batch:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of coalesced batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.out
}

// Stop closes the output channel. Safe to call more than once; Add after
// Stop is a no-op.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
