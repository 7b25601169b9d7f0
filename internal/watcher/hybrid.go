package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/foldermcp/foldermcp/internal/ignore"
)

// Watcher watches one folder, picking fsnotify when the platform provides
// it and polling otherwise. Events flow through the debouncer and are
// filtered against the folder's ignore rules before they reach consumers.
type Watcher struct {
	fsw         *fsnotify.Watcher
	poller      *Poller
	useFsnotify bool
	debouncer   *Debouncer
	tree        *ignore.Tree
	events      chan []FileEvent
	errs        chan error
	stopCh      chan struct{}
	root        string
	opts        Options
	logger      *slog.Logger

	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

// NewWatcher creates a watcher. The backend is fixed here: if fsnotify
// cannot initialize, the watcher runs in polling mode for its lifetime.
func NewWatcher(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	w := &Watcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errs:      make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
		logger:    opts.Logger,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		w.fsw = fsw
		w.useFsnotify = true
	} else {
		w.logger.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
		w.poller = NewPoller(opts.PollInterval)
	}
	return w, nil
}

// Start blocks, watching the folder until the context ends or Stop is
// called.
func (w *Watcher) Start(ctx context.Context, folder string) error {
	absRoot, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	tree, err := ignore.NewTree(absRoot, w.opts.IgnorePatterns...)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.root = absRoot
	w.tree = tree
	w.mu.Unlock()

	go w.forward(ctx)

	if w.useFsnotify {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

// runFsnotify registers the folder tree and pumps raw fsnotify events.
func (w *Watcher) runFsnotify(ctx context.Context) error {
	if err := w.watchRecursive(w.root); err != nil {
		return fmt.Errorf("watch folder tree: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// runPolling forwards poller events through the same filtering as the
// fsnotify path.
func (w *Watcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case event, ok := <-w.poller.Events():
				if !ok {
					return
				}
				w.handlePolled(event)
			case err, ok := <-w.poller.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()

	err := w.poller.Start(ctx, w.root)
	_ = w.Stop()
	return err
}

// handleEvent filters and converts one raw fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	rel = filepath.ToSlash(rel)

	isDir := detectDir(event.Name)

	if w.tree.Ignored(rel, isDir) {
		return
	}

	if filepath.Base(event.Name) == ignore.IgnoreFileName {
		w.tree.Reset()
		w.debouncer.Add(FileEvent{Path: rel, Op: OpIgnoreChange, Timestamp: time.Now()})
		return
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories need their own watch; their prior contents
		// surface on the next rescan.
		if isDir {
			_ = w.fsw.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and anything unrecognized.
		return
	}

	w.debouncer.Add(FileEvent{Path: rel, Op: op, IsDir: isDir, Timestamp: time.Now()})
}

// handlePolled filters one poller event.
func (w *Watcher) handlePolled(event FileEvent) {
	if w.tree.Ignored(event.Path, event.IsDir) {
		return
	}
	if filepath.Base(event.Path) == ignore.IgnoreFileName {
		w.tree.Reset()
		w.debouncer.Add(FileEvent{Path: event.Path, Op: OpIgnoreChange, Timestamp: event.Timestamp})
		return
	}
	w.debouncer.Add(event)
}

// forward moves debounced batches to the output channel.
func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			w.emit(batch)
		}
	}
}

// watchRecursive adds every non-ignored directory under root to fsnotify.
func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return w.fsw.Add(path)
		}
		if w.tree.Ignored(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// detectDir classifies an event target. Stat answers while the path still
// exists; for deleted paths the name is the only signal left, and an
// extensionless name is read as a directory.
func detectDir(absPath string) bool {
	if info, err := os.Stat(absPath); err == nil {
		return info.IsDir()
	}
	return filepath.Ext(filepath.Base(absPath)) == ""
}

// emit delivers one batch without ever blocking the event pump. The read
// lock is held across the send so Stop cannot close the channel under it.
func (w *Watcher) emit(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("dropped_total", n))
	}
}

// emitError delivers a non-fatal error without blocking.
func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}
	select {
	case w.errs <- err:
	default:
	}
}

// Stop ends watching and closes the channels. Safe to call more than
// once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	if w.poller != nil {
		_ = w.poller.Stop()
	}

	close(w.events)
	close(w.errs)
	return nil
}

// Events returns the channel of debounced batches. It closes on Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal errors. It closes on Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Mode reports which backend the watcher runs on, "fsnotify" or
// "polling".
func (w *Watcher) Mode() string {
	if w.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// Root returns the watched folder root.
func (w *Watcher) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}

// DroppedBatches counts batches lost to a slow consumer.
func (w *Watcher) DroppedBatches() uint64 {
	return w.dropped.Load()
}

// Healthy reports whether the watcher is still running.
func (w *Watcher) Healthy() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.stopped
}
