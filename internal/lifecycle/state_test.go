package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateInitializing, StateScanning},
		{StateScanning, StateDownloadingModel},
		{StateScanning, StateIndexing},
		{StateScanning, StateActive},
		{StateDownloadingModel, StateIndexing},
		{StateDownloadingModel, StateActive},
		{StateIndexing, StateActive},
		{StateActive, StateScanning},
		{StateActive, StateIndexing},
		{StateError, StateInitializing},
		{StateError, StateScanning},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to State }{
		{StateInitializing, StateIndexing},
		{StateInitializing, StateActive},
		{StateIndexing, StateScanning},
		{StateIndexing, StateDownloadingModel},
		{StateActive, StateDownloadingModel},
		{StateError, StateActive},
		{StateRemoving, StateScanning},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestCanTransition_ErrorAndRemovingReachableFromAnywhere(t *testing.T) {
	from := []State{
		StateInitializing, StateScanning, StateDownloadingModel,
		StateIndexing, StateActive, StateError,
	}
	for _, s := range from {
		assert.True(t, CanTransition(s, StateError), "%s -> ERROR", s)
		assert.True(t, CanTransition(s, StateRemoving), "%s -> REMOVING", s)
	}

	// Removal is one-way.
	assert.False(t, CanTransition(StateRemoving, StateError))
	assert.False(t, CanTransition(StateRemoving, StateRemoving))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(StateError))
	assert.True(t, Terminal(StateRemoving))
	assert.False(t, Terminal(StateActive))
	assert.False(t, Terminal(StateIndexing))
}
