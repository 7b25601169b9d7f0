package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// Poller detects changes by walking the folder on a fixed interval and
// comparing snapshots. It is the fallback for filesystems where fsnotify
// does not work; a size or mtime difference counts as a modification.
type Poller struct {
	interval time.Duration
	previous map[string]snapshot
	events   chan FileEvent
	errs     chan error
	stopCh   chan struct{}
	mu       sync.Mutex
	stopped  bool
	root     string
}

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPoller creates a poller with the given scan interval.
func NewPoller(interval time.Duration) *Poller {
	return &Poller{
		interval: interval,
		previous: make(map[string]snapshot),
		events:   make(chan FileEvent, 128),
		errs:     make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start blocks, polling the folder until the context ends or Stop is
// called. The first walk establishes the baseline and emits nothing.
func (p *Poller) Start(ctx context.Context, folder string) error {
	absRoot, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolve poll root: %w", err)
	}
	p.root = absRoot

	baseline, err := p.walk()
	if err != nil {
		return fmt.Errorf("baseline scan: %w", err)
	}
	p.mu.Lock()
	p.previous = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.tick(); err != nil {
				select {
				case p.errs <- err:
				default:
				}
			}
		}
	}
}

// Stop ends polling and closes the channels. Safe to call more than once.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errs)
	return nil
}

// Events returns the raw, undebounced event channel.
func (p *Poller) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of non-fatal walk errors.
func (p *Poller) Errors() <-chan error {
	return p.errs
}

// walk snapshots every entry under the root. Unreadable entries are
// skipped.
func (p *Poller) walk() (map[string]snapshot, error) {
	state := make(map[string]snapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[filepath.ToSlash(rel)] = snapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	return state, err
}

// tick walks once and emits the difference against the previous snapshot.
func (p *Poller) tick() error {
	current, err := p.walk()
	if err != nil {
		return fmt.Errorf("poll walk: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	now := time.Now()
	for path, snap := range current {
		prev, ok := p.previous[path]
		switch {
		case !ok:
			p.emit(FileEvent{Path: path, Op: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			p.emit(FileEvent{Path: path, Op: OpModify, IsDir: snap.isDir, Timestamp: now})
		}
	}
	for path, snap := range p.previous {
		if _, ok := current[path]; !ok {
			p.emit(FileEvent{Path: path, Op: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}

	p.previous = current
	return nil
}

// emit sends without blocking; the caller holds the mutex.
func (p *Poller) emit(event FileEvent) {
	select {
	case p.events <- event:
	default:
		slog.Warn("poller buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Op.String()))
	}
}
