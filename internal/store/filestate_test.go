package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_FileStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fs, err := s.GetFileState(ctx, "unknown.md")
	require.NoError(t, err)
	assert.Nil(t, fs)

	want := &FileState{
		Path:           "docs/report.md",
		Fingerprint:    "sha256:abc123",
		Size:           2048,
		ModTime:        testModTime,
		Status:         FileStatusPending,
		ChunkCount:     0,
		ScanGeneration: 3,
	}
	require.NoError(t, s.UpsertFileState(ctx, want))

	got, err := s.GetFileState(ctx, "docs/report.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Fingerprint, got.Fingerprint)
	assert.Equal(t, want.Size, got.Size)
	assert.True(t, got.ModTime.Equal(testModTime))
	assert.Equal(t, FileStatusPending, got.Status)
	assert.Equal(t, int64(3), got.ScanGeneration)
	assert.False(t, got.UpdatedAt.IsZero())

	// Upsert replaces every field.
	want.Status = FileStatusIndexed
	want.ChunkCount = 9
	require.NoError(t, s.UpsertFileState(ctx, want))

	got, err = s.GetFileState(ctx, "docs/report.md")
	require.NoError(t, err)
	assert.Equal(t, FileStatusIndexed, got.Status)
	assert.Equal(t, 9, got.ChunkCount)

	count, err := s.CountFileStates(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_ListFileStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for path, status := range map[string]string{
		"c.md": FileStatusIndexed,
		"a.md": FileStatusPending,
		"b.md": FileStatusError,
		"d.md": FileStatusPending,
	} {
		require.NoError(t, s.UpsertFileState(ctx, &FileState{Path: path, Status: status}))
	}

	all, err := s.ListFileStates(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a.md", all[0].Path)
	assert.Equal(t, "d.md", all[3].Path)

	pending, err := s.ListFileStates(ctx, FileStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a.md", pending[0].Path)
	assert.Equal(t, "d.md", pending[1].Path)

	count, err := s.CountFileStates(ctx, FileStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_MarkFileStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Creates the record when none exists.
	require.NoError(t, s.MarkFileStatus(ctx, "new.md", FileStatusSkipped, "binary file"))
	fs, err := s.GetFileState(ctx, "new.md")
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, FileStatusSkipped, fs.Status)
	assert.Equal(t, "binary file", fs.Reason)

	// Updates only status and reason on an existing record.
	require.NoError(t, s.UpsertFileState(ctx, &FileState{
		Path:        "tracked.md",
		Fingerprint: "sha256:keepme",
		Status:      FileStatusIndexing,
	}))
	require.NoError(t, s.MarkFileStatus(ctx, "tracked.md", FileStatusError, "parser crashed"))

	fs, err = s.GetFileState(ctx, "tracked.md")
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, FileStatusError, fs.Status)
	assert.Equal(t, "parser crashed", fs.Reason)
	assert.Equal(t, "sha256:keepme", fs.Fingerprint)
}

func TestStore_ResetInterrupted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for path, status := range map[string]string{
		"a.md": FileStatusIndexing,
		"b.md": FileStatusIndexing,
		"c.md": FileStatusIndexed,
		"d.md": FileStatusPending,
	} {
		require.NoError(t, s.UpsertFileState(ctx, &FileState{Path: path, Status: status}))
	}

	reset, err := s.ResetInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	for _, path := range []string{"a.md", "b.md"} {
		fs, err := s.GetFileState(ctx, path)
		require.NoError(t, err)
		require.NotNil(t, fs)
		assert.Equal(t, FileStatusPending, fs.Status)
		assert.Equal(t, "interrupted", fs.Reason)
	}

	done, err := s.GetFileState(ctx, "c.md")
	require.NoError(t, err)
	assert.Equal(t, FileStatusIndexed, done.Status)

	// Idempotent once nothing is mid-write.
	reset, err = s.ResetInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, reset)
}

func TestStore_DeleteFileState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFileState(ctx, &FileState{
		Path:    "a.md",
		Status:  FileStatusIndexed,
		ModTime: time.Now().UTC(),
	}))

	require.NoError(t, s.DeleteFileState(ctx, "a.md"))
	fs, err := s.GetFileState(ctx, "a.md")
	require.NoError(t, err)
	assert.Nil(t, fs)

	assert.NoError(t, s.DeleteFileState(ctx, "a.md"))
}
