// Package lifecycle drives one watched folder from configuration to a
// searchable index and keeps it current. Each folder gets an Engine that
// owns the folder's store, walks the state machine below, feeds chunk
// batches to the shared embedding pool, and reacts to watcher events once
// the index is live.
//
// The engine is crash-oriented: every file lands in the store atomically,
// interrupted work is requeued on the next open, and a structurally
// corrupted index is quarantined and rebuilt rather than repaired in place.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// State is one stop in a folder's lifecycle.
type State string

const (
	// StateInitializing covers store open, schema checks, and crash
	// recovery. Folders start here on every daemon boot.
	StateInitializing State = "INITIALIZING"

	// StateScanning enumerates the folder and diffs it against the
	// recorded file state.
	StateScanning State = "SCANNING"

	// StateDownloadingModel pulls missing model artifacts before the
	// first embedding session opens.
	StateDownloadingModel State = "DOWNLOADING_MODEL"

	// StateIndexing works through pending files: extract, chunk, embed,
	// persist.
	StateIndexing State = "INDEXING"

	// StateActive means the index is current and serving queries; the
	// watcher keeps it that way.
	StateActive State = "ACTIVE"

	// StateError is terminal until the operator intervenes. The index
	// data is preserved and keeps serving whatever it holds.
	StateError State = "ERROR"

	// StateRemoving tears the folder down: in-flight work is cancelled
	// and the store closes.
	StateRemoving State = "REMOVING"
)

// transitions lists the forward edges of the state machine. ERROR and
// REMOVING are reachable from every state and are not listed. ERROR's
// outgoing edges are the operator retry paths.
var transitions = map[State][]State{
	StateInitializing:     {StateScanning},
	StateScanning:         {StateDownloadingModel, StateIndexing, StateActive},
	StateDownloadingModel: {StateIndexing, StateActive},
	StateIndexing:         {StateActive},
	StateActive:           {StateScanning, StateIndexing},
	StateError:            {StateInitializing, StateScanning},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if to == StateError || to == StateRemoving {
		return from != StateRemoving
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state accepts no further work.
func Terminal(s State) bool {
	return s == StateError || s == StateRemoving
}

// Status is one folder's externally visible condition. The daemon stamps
// these into the folder data model it pushes to clients, so the struct is
// immutable: every read gets a fresh copy.
type Status struct {
	FolderPath string `json:"folder_path"`
	State      State  `json:"state"`
	ModelID    string `json:"model_id,omitempty"`

	// Progress is set while scanning, downloading, or indexing.
	Progress *Progress `json:"progress,omitempty"`

	// ErrorCode and ErrorMessage are set in ERROR state.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Documents and Chunks are the indexed totals as of the last count.
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`

	// Watching reports whether file events are being consumed.
	Watching bool `json:"watching"`

	UpdatedAt time.Time `json:"updated_at"`
}

// invalidTransition builds the error surfaced when the engine is asked to
// make an illegal move, which indicates a bug rather than an input problem.
func invalidTransition(from, to State) error {
	return errors.New(errors.ErrCodeLifecycle,
		fmt.Sprintf("illegal folder state transition %s -> %s", from, to), nil)
}
