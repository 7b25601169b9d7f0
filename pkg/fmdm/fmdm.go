// Package fmdm defines the folder data model: the snapshot of daemon state
// pushed to every connected client. A snapshot always carries the whole
// model, never a diff, and is versioned by a monotonic sequence number, so
// a client can miss any number of deliveries and still render correctly
// from the next one. Snapshots are immutable once published.
package fmdm

import (
	"sort"
	"time"
)

// Folder states as published in snapshots. They mirror the daemon's
// lifecycle states; clients compare against these instead of importing
// daemon internals.
const (
	StateInitializing     = "INITIALIZING"
	StateScanning         = "SCANNING"
	StateDownloadingModel = "DOWNLOADING_MODEL"
	StateIndexing         = "INDEXING"
	StateActive           = "ACTIVE"
	StateError            = "ERROR"
	StateRemoving         = "REMOVING"
)

// Progress reports how far a folder is through its current stage.
type Progress struct {
	Stage   string  `json:"stage"`
	Done    int64   `json:"done"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`

	// Rate is smoothed units per second; zero until known.
	Rate float64 `json:"rate,omitempty"`

	// ETASeconds is the smoothed time to completion, -1 when unknown.
	ETASeconds int64 `json:"eta_seconds"`
}

// Folder is one registered folder as of a snapshot.
type Folder struct {
	Path  string `json:"path"`
	State string `json:"state"`
	Model string `json:"model,omitempty"`

	// Progress is set while the folder is scanning, downloading a model,
	// or indexing.
	Progress *Progress `json:"progress,omitempty"`

	// ErrorCode and ErrorMessage are set in the ERROR state.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Documents int  `json:"documents"`
	Chunks    int  `json:"chunks"`
	Watching  bool `json:"watching"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the whole daemon state at one instant.
type Snapshot struct {
	// Seq increases by one per published snapshot. Clients drop anything
	// older than the last Seq they rendered.
	Seq uint64 `json:"seq"`

	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Folders are sorted by path.
	Folders []Folder `json:"folders"`
}

// Folder returns the folder at path and whether it exists in the snapshot.
func (s Snapshot) Folder(path string) (Folder, bool) {
	for _, f := range s.Folders {
		if f.Path == path {
			return f, true
		}
	}
	return Folder{}, false
}

// Busy reports whether any folder is in a progress-bearing state. The
// daemon heartbeats snapshots at 1 Hz while this holds so clients see
// counters move without waiting for a transition.
func (s Snapshot) Busy() bool {
	for _, f := range s.Folders {
		switch f.State {
		case StateScanning, StateDownloadingModel, StateIndexing:
			return true
		}
	}
	return false
}

// SortFolders orders folders by path, the order snapshots publish them in.
func SortFolders(folders []Folder) {
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].Path < folders[j].Path
	})
}
