package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/errors"
)

func newTestVectorIndex(t *testing.T) *VectorIndex {
	t.Helper()
	idx := NewVectorIndex(DefaultVectorIndexConfig())
	t.Cleanup(idx.Close)
	return idx
}

func TestVectorIndex_AddAndSearch(t *testing.T) {
	idx := newTestVectorIndex(t)

	err := idx.Add([]int64{1, 2, 3}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	})
	require.NoError(t, err)

	matches, err := idx.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, int64(1), matches[0].Rowid)
	assert.Equal(t, int64(3), matches[1].Rowid)
	assert.Greater(t, matches[0].Score, float32(0.99))
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestVectorIndex_FirstAddFixesDimensions(t *testing.T) {
	idx := newTestVectorIndex(t)
	assert.Zero(t, idx.Dimensions())

	require.NoError(t, idx.Add([]int64{1}, [][]float32{{1, 0, 0, 0}}))
	assert.Equal(t, 4, idx.Dimensions())

	err := idx.Add([]int64{2}, [][]float32{{1, 0, 0}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}

func TestVectorIndex_AddRejectsMixedDimensionsBeforeInserting(t *testing.T) {
	idx := newTestVectorIndex(t)

	err := idx.Add([]int64{1, 2}, [][]float32{
		{1, 0, 0, 0},
		{1, 0, 0},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
	assert.Zero(t, idx.Count())
}

func TestVectorIndex_AddSkipsExistingRowid(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{7}, [][]float32{{1, 0, 0, 0}}))

	// Chunk rows are immutable; a second add with the same rowid is ignored.
	require.NoError(t, idx.Add([]int64{7}, [][]float32{{0, 1, 0, 0}}))
	assert.Equal(t, 1, idx.Count())

	matches, err := idx.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(7), matches[0].Rowid)
	assert.Greater(t, matches[0].Score, float32(0.99))
}

func TestVectorIndex_AddLengthMismatch(t *testing.T) {
	idx := newTestVectorIndex(t)

	err := idx.Add([]int64{1, 2}, [][]float32{{1, 0, 0, 0}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestVectorIndex_SearchRejectsWrongQueryDimensions(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{1}, [][]float32{{1, 0, 0, 0}}))

	_, err := idx.Search([]float32{1, 0}, 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}

func TestVectorIndex_SearchNormalizesForCosine(t *testing.T) {
	idx := newTestVectorIndex(t)

	// Same direction, wildly different magnitude.
	require.NoError(t, idx.Add([]int64{1}, [][]float32{{10, 0, 0, 0}}))

	matches, err := idx.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Greater(t, matches[0].Score, float32(0.99))
}

func TestVectorIndex_SearchEmptyIndex(t *testing.T) {
	idx := newTestVectorIndex(t)

	matches, err := idx.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestVectorIndex_DeleteIsLazy(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{1, 2, 3}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}))

	idx.Delete([]int64{2})

	assert.Equal(t, 2, idx.Count())
	assert.False(t, idx.Contains(2))
	assert.True(t, idx.Contains(1))

	stats := idx.Stats()
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, 3, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)

	// The orphaned node must never surface in results.
	matches, err := idx.Search([]float32{0, 1, 0, 0}, 3)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, int64(2), m.Rowid)
	}
}

func TestVectorIndex_KeysAreSorted(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{30, 10, 20}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}))

	assert.Equal(t, []int64{10, 20, 30}, idx.Keys())
}

func TestVectorIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), VectorsFileName)

	idx := NewVectorIndex(DefaultVectorIndexConfig())
	require.NoError(t, idx.Add([]int64{1, 2, 3}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}))
	idx.Delete([]int64{2})
	require.NoError(t, idx.Save(path))
	assert.False(t, idx.Dirty())
	idx.Close()

	loaded, err := LoadVectorIndex(path, DefaultVectorIndexConfig())
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, 2, loaded.Count())
	assert.Equal(t, 4, loaded.Dimensions())
	assert.False(t, loaded.Contains(2))

	// The deleted node's orphan travels with the export.
	stats := loaded.Stats()
	assert.Equal(t, 3, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)

	matches, err := loaded.Search([]float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(3), matches[0].Rowid)
}

func TestVectorIndex_SaveIfDirtySkipsCleanIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), VectorsFileName)

	idx := NewVectorIndex(DefaultVectorIndexConfig())
	defer idx.Close()
	require.NoError(t, idx.Add([]int64{1}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Save(path))

	// Remove the file; a clean index must not write it back.
	require.NoError(t, os.Remove(path))
	require.NoError(t, idx.SaveIfDirty(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, idx.Add([]int64{2}, [][]float32{{0, 1, 0, 0}}))
	require.NoError(t, idx.SaveIfDirty(path))
	assert.FileExists(t, path)
}

func TestVectorIndex_LoadMissingFileFails(t *testing.T) {
	_, err := LoadVectorIndex(filepath.Join(t.TempDir(), "absent.hnsw"), DefaultVectorIndexConfig())
	require.Error(t, err)
}

func TestReadVectorIndexDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, VectorsFileName)

	dims, err := ReadVectorIndexDimensions(path)
	require.NoError(t, err)
	assert.Zero(t, dims)

	idx := NewVectorIndex(DefaultVectorIndexConfig())
	defer idx.Close()
	require.NoError(t, idx.Add([]int64{1}, [][]float32{{1, 0, 0, 0, 0, 0}}))
	require.NoError(t, idx.Save(path))

	dims, err = ReadVectorIndexDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 6, dims)
}

func TestVectorIndex_ClosedOperationsFail(t *testing.T) {
	idx := NewVectorIndex(DefaultVectorIndexConfig())
	idx.Close()

	err := idx.Add([]int64{1}, [][]float32{{1, 0}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreClosed, errors.GetCode(err))

	_, err = idx.Search([]float32{1, 0}, 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreClosed, errors.GetCode(err))

	err = idx.Save(filepath.Join(t.TempDir(), "closed.hnsw"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreClosed, errors.GetCode(err))
}

func TestVectorIndex_CompactEvictsOrphans(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{1, 2, 3}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}))
	idx.Delete([]int64{2})

	removed, err := idx.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats := idx.Stats()
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Zero(t, stats.Orphans)

	matches, err := idx.Search([]float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(1), matches[0].Rowid)
}

func TestVectorIndex_CompactWithNothingLiveSwapsGraph(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{1, 2}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}))
	idx.Delete([]int64{1, 2})

	removed, err := idx.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, VectorIndexStats{}, idx.Stats())

	// The fresh graph accepts inserts again.
	require.NoError(t, idx.Add([]int64{3}, [][]float32{{0, 0, 1, 0}}))
	matches, err := idx.Search([]float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(3), matches[0].Rowid)
}

func TestVectorIndex_CompactWithoutOrphansIsNoop(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{1}, [][]float32{{1, 0, 0, 0}}))

	removed, err := idx.Compact(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestVectorIndex_CompactHonorsCancellation(t *testing.T) {
	idx := newTestVectorIndex(t)
	require.NoError(t, idx.Add([]int64{1, 2}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}))
	idx.Delete([]int64{2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	removed, err := idx.Compact(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, removed)
	assert.Equal(t, 1, idx.Stats().Orphans)
}

func TestVectorIndex_OrphansSurviveSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), VectorsFileName)

	idx := NewVectorIndex(DefaultVectorIndexConfig())
	require.NoError(t, idx.Add([]int64{1, 2, 3}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}))
	idx.Delete([]int64{3})
	require.NoError(t, idx.Save(path))
	idx.Close()

	loaded, err := LoadVectorIndex(path, DefaultVectorIndexConfig())
	require.NoError(t, err)
	t.Cleanup(loaded.Close)

	assert.Equal(t, 1, loaded.Stats().Orphans)

	removed, err := loaded.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, loaded.Stats().Orphans)
}
