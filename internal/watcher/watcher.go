// Package watcher reports file changes inside watched folders. It prefers
// fsnotify and falls back to directory polling where fsnotify cannot run
// (network mounts, some containers). Raw events are debounced so editor
// save storms and bulk operations arrive as one coalesced batch.
package watcher

import (
	"log/slog"
	"time"
)

// Op is the kind of change a FileEvent reports.
type Op int

const (
	// OpCreate reports a new file or directory.
	OpCreate Op = iota
	// OpModify reports a content change.
	OpModify
	// OpDelete reports a removal.
	OpDelete
	// OpRename reports the old path of a rename. The new path arrives as
	// its own OpCreate; the scanner change set pairs them by fingerprint.
	OpRename
	// OpIgnoreChange reports that an ignore file changed somewhere in the
	// folder. Consumers should rescan rather than chase per-file events.
	OpIgnoreChange
)

// String returns the wire-friendly name of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpIgnoreChange:
		return "IGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one debounced change. Path is relative to the watched
// folder root, slash-separated.
type FileEvent struct {
	Path      string
	Op        Op
	IsDir     bool
	Timestamp time.Time
}

// Options tunes a Watcher.
type Options struct {
	// DebounceWindow is how long events for the same path may coalesce
	// before the batch is emitted.
	DebounceWindow time.Duration

	// PollInterval is the scan period in polling mode.
	PollInterval time.Duration

	// EventBufferSize is the batch channel capacity. When the consumer
	// falls this far behind, whole batches are dropped and counted.
	EventBufferSize int

	// IgnorePatterns stack on top of the built-in defaults.
	IgnorePatterns []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the defaults: a one second debounce window, five
// second polling, and room for 1024 batches.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  time.Second,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1024,
	}
}

// WithDefaults fills zero values with the defaults.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
