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

func TestFTSTokens(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"camel case splits", "getUserName", "get user name"},
		{"snake case splits", "retry_count", "retry count"},
		{"stop words drop", "the quick brown fox", "quick brown fox"},
		{"short tokens drop", "a b xy", "xy"},
		{"mixed code line", "func getUserName() string", "func get user name string"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FTSTokens(tt.content))
		})
	}
}

func TestStore_KeywordSearchMatchesSplitIdentifiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := testFileResult("main.go",
		"func getUserName() string { return userName }",
		"retry_count increments on every failure")
	require.NoError(t, s.SaveFileResult(ctx, res))

	// A camelCase query finds the camelCase identifier.
	matches, err := s.KeywordSearch(ctx, "getUserName", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.Chunks[0].Rowid, matches[0].Rowid)
	assert.Equal(t, []string{"get", "user", "name"}, matches[0].MatchedTerms)
	assert.Positive(t, matches[0].Score)

	// Word-level queries cross naming conventions.
	matches, err = s.KeywordSearch(ctx, "user name", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.Chunks[0].Rowid, matches[0].Rowid)

	matches, err = s.KeywordSearch(ctx, "retryCount", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.Chunks[1].Rowid, matches[0].Rowid)
}

func TestStore_KeywordSearchRanksByRelevance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := testFileResult("notes.md",
		"database database database connection",
		"our database is large together with many other tables that pad this chunk out")
	require.NoError(t, s.SaveFileResult(ctx, res))

	matches, err := s.KeywordSearch(ctx, "database", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, res.Chunks[0].Rowid, matches[0].Rowid)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestStore_KeywordSearchDegenerateQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFileResult(ctx, testFileResult("a.md", "some indexed content")))

	for name, query := range map[string]string{
		"empty":           "",
		"whitespace":      "   ",
		"stop words only": "the and of to",
		"too short":       "a b c",
	} {
		matches, err := s.KeywordSearch(ctx, query, 10)
		require.NoError(t, err, name)
		assert.Empty(t, matches, name)
	}

	// A valid term with no hits is empty, not an error.
	matches, err := s.KeywordSearch(ctx, "zebra", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_KeywordSearchRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := testFileResult("a.md",
		"shared term here", "shared term again", "shared term once more")
	require.NoError(t, s.SaveFileResult(ctx, res))

	matches, err := s.KeywordSearch(ctx, "shared", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestNewKeywordIndex_Backends(t *testing.T) {
	idx, err := NewKeywordIndex("", nil, "")
	require.NoError(t, err)
	assert.IsType(t, &ftsKeywordIndex{}, idx)

	idx, err = NewKeywordIndex(KeywordBackendFTS, nil, "")
	require.NoError(t, err)
	assert.IsType(t, &ftsKeywordIndex{}, idx)

	dir := t.TempDir()
	idx, err = NewKeywordIndex(KeywordBackendBleve, nil, dir)
	require.NoError(t, err)
	assert.IsType(t, &bleveKeywordIndex{}, idx)
	assert.DirExists(t, filepath.Join(dir, KeywordDirName))
	require.NoError(t, idx.Close())

	idx, err = NewKeywordIndex("lucene", nil, "")
	require.Error(t, err)
	assert.Nil(t, idx)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestBleveKeywordIndex_IndexSearchDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), KeywordDirName)
	idx, err := NewBleveKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []KeywordEntry{
		{Rowid: 1, Content: "func getUserName() string"},
		{Rowid: 2, Content: "vacation policy rollover rules"},
	}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := idx.Search(ctx, "getUserName", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Rowid)
	assert.Positive(t, matches[0].Score)

	matches, err = idx.Search(ctx, "vacation", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(2), matches[0].Rowid)
	assert.Contains(t, matches[0].MatchedTerms, "vacation")

	require.NoError(t, idx.Delete(ctx, []int64{1}))
	count, err = idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	matches, err = idx.Search(ctx, "getUserName", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestBleveKeywordIndex_ReopenKeepsDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), KeywordDirName)
	ctx := context.Background()

	idx, err := NewBleveKeywordIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, []KeywordEntry{{Rowid: 1, Content: "persistent entry"}}))
	require.NoError(t, idx.Close())

	idx, err = NewBleveKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBleveKeywordIndex_ClearsCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), KeywordDirName)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{{not json"), 0o644))

	idx, err := NewBleveKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_BleveBackendEndToEnd(t *testing.T) {
	folder := t.TempDir()
	ctx := context.Background()
	s := openTestStore(t, folder, Options{KeywordBackend: KeywordBackendBleve})

	assert.Equal(t, KeywordBackendBleve, s.KeywordBackend())

	res := testFileResult("handbook.md",
		"vacation policy accrues monthly",
		"expense reports need itemized receipts")
	require.NoError(t, s.SaveFileResult(ctx, res))

	matches, err := s.KeywordSearch(ctx, "vacation", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.Chunks[0].Rowid, matches[0].Rowid)

	require.NoError(t, s.DeleteDocument(ctx, "handbook.md"))
	matches, err = s.KeywordSearch(ctx, "vacation", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_BleveBackfillAfterIndexLoss(t *testing.T) {
	folder := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, folder, Options{KeywordBackend: KeywordBackendBleve, Logger: testLogger()})
	require.NoError(t, err)
	res := testFileResult("handbook.md", "vacation policy accrues monthly")
	require.NoError(t, s.SaveFileResult(ctx, res))
	require.NoError(t, s.Close())

	// Lose the derived index; the chunk rows are the source of truth.
	require.NoError(t, os.RemoveAll(KeywordDirPath(folder)))

	s = openTestStore(t, folder, Options{KeywordBackend: KeywordBackendBleve})
	matches, err := s.KeywordSearch(ctx, "vacation", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, res.Chunks[0].Rowid, matches[0].Rowid)
}
