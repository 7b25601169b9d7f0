package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/errors"
)

var testModTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T, folder string, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	s, err := Open(context.Background(), folder, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStore(t, t.TempDir(), Options{})
}

// testFileResult builds a FileResult for path with one chunk per content
// string. Vectors stay nil; withUnitVectors fills them in.
func testFileResult(path string, contents ...string) *FileResult {
	res := &FileResult{
		Document: Document{
			Path:        path,
			Title:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Class:       "text",
			Size:        int64(64 * len(contents)),
			ModTime:     testModTime,
			Fingerprint: "sha256:" + path,
		},
		ScanGeneration: 1,
	}
	for i, content := range contents {
		res.Chunks = append(res.Chunks, &ChunkRecord{
			ChunkID:       fmt.Sprintf("%s:%d", path, i),
			Seq:           i,
			Content:       content,
			ContentType:   "text",
			StartLine:     i*8 + 1,
			EndLine:       i*8 + 8,
			StartByte:     i * 64,
			TokenEstimate: len(content) / 4,
			KeyPhrases:    []string{"test phrase"},
			Readability:   0.5,
		})
	}
	return res
}

func withUnitVectors(res *FileResult, dims int) *FileResult {
	res.Vectors = make([][]float32, len(res.Chunks))
	for i := range res.Chunks {
		res.Vectors[i] = unitVec(dims, i%dims)
	}
	return res
}

func unitVec(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

func TestStore_OpenCreatesLayout(t *testing.T) {
	folder := t.TempDir()
	s := openTestStore(t, folder, Options{})

	assert.DirExists(t, HiddenDir(folder))
	assert.FileExists(t, DBPath(folder))
	assert.FileExists(t, StatePath(folder))

	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	count, err := s.EmbeddingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Equal(t, KeywordBackendFTS, s.KeywordBackend())
	assert.Equal(t, folder, s.FolderPath())
}

func TestStore_OpenSecondOpenerIsLocked(t *testing.T) {
	folder := t.TempDir()
	openTestStore(t, folder, Options{})

	second, err := Open(context.Background(), folder, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Nil(t, second)
	assert.Equal(t, errors.ErrCodeStoreLocked, errors.GetCode(err))
}

func TestStore_CloseReleasesLock(t *testing.T) {
	folder := t.TempDir()
	s, err := Open(context.Background(), folder, Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openTestStore(t, folder, Options{})
	assert.Equal(t, folder, reopened.FolderPath())
}

func TestStore_ReopenKeepsData(t *testing.T) {
	folder := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, folder, Options{Logger: testLogger()})
	require.NoError(t, err)

	res := withUnitVectors(testFileResult("docs/handbook.md",
		"vacation policy accrues monthly",
		"expense reports need receipts"), 4)
	require.NoError(t, s.SaveFileResult(ctx, res))
	require.NoError(t, s.SetState(ctx, "probe", "survives"))
	firstRowid := res.Chunks[0].Rowid
	require.NoError(t, s.Close())

	s = openTestStore(t, folder, Options{})

	doc, err := s.GetDocument(ctx, "docs/handbook.md")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 2, doc.ChunkCount)

	count, err := s.EmbeddingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := s.VectorSearch(ctx, unitVec(4, 0), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, firstRowid, hits[0].Rowid)

	matches, err := s.KeywordSearch(ctx, "vacation", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, firstRowid, matches[0].Rowid)

	value, err := s.GetState(ctx, "probe")
	require.NoError(t, err)
	assert.Equal(t, "survives", value)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	folder := t.TempDir()
	s, err := Open(context.Background(), folder, Options{Logger: testLogger()})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestStore_ClosedStoreRefusesOperations(t *testing.T) {
	folder := t.TempDir()
	ctx := context.Background()
	s, err := Open(ctx, folder, Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.EmbeddingCount(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreUnavailable, errors.GetCode(err))

	_, err = s.VectorSearch(ctx, unitVec(4, 0), 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreClosed, errors.GetCode(err))

	_, err = s.KeywordSearch(ctx, "anything", 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreClosed, errors.GetCode(err))

	err = s.SaveVectors()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreClosed, errors.GetCode(err))
}

func TestStore_OpenRefusesCorruptDatabase(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.MkdirAll(HiddenDir(folder), 0o755))
	garbage := []byte("definitely not a sqlite file, long enough to have a header")
	require.NoError(t, os.WriteFile(DBPath(folder), garbage, 0o644))

	s, err := Open(context.Background(), folder, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, errors.ErrCodeStoreCorrupted, errors.GetCode(err))

	// The damaged file stays where it is; recovery renames it aside.
	assert.FileExists(t, DBPath(folder))
}

func TestStore_OpenRefusesForeignDatabase(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.MkdirAll(HiddenDir(folder), 0o755))

	db, err := sql.Open("sqlite", DBPath(folder))
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(context.Background(), folder, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, errors.ErrCodeStoreCorrupted, errors.GetCode(err))
}

func TestStore_OpenRefusesNewerSchema(t *testing.T) {
	folder := t.TempDir()
	s, err := Open(context.Background(), folder, Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", DBPath(folder))
	require.NoError(t, err)
	_, err = db.Exec(
		"INSERT INTO schema_info (version, name, applied_at) VALUES (?, ?, ?)",
		CurrentSchemaVersion+98, "from a newer build", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err = Open(context.Background(), folder, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, errors.ErrCodeSchemaMismatch, errors.GetCode(err))
}

func TestStore_OpenUnknownKeywordBackend(t *testing.T) {
	folder := t.TempDir()

	s, err := Open(context.Background(), folder, Options{
		KeywordBackend: "lucene",
		Logger:         testLogger(),
	})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))

	// The failed open must not leave the lock behind.
	openTestStore(t, folder, Options{})
}

func TestStore_Info(t *testing.T) {
	folder := t.TempDir()
	ctx := context.Background()
	s := openTestStore(t, folder, Options{})

	require.NoError(t, s.SaveFileResult(ctx, withUnitVectors(
		testFileResult("a.md", "alpha content", "beta content"), 4)))
	require.NoError(t, s.SaveFileResult(ctx, testFileResult("b.md", "gamma content")))
	require.NoError(t, s.SetModelInfo(ctx, "all-minilm-l6-v2", 4))
	_, err := s.BumpScanGeneration(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetLastFullScan(ctx, time.Now().UTC()))

	info, err := s.Info(ctx)
	require.NoError(t, err)

	assert.Equal(t, folder, info.FolderPath)
	assert.Equal(t, "all-minilm-l6-v2", info.ModelID)
	assert.Equal(t, 4, info.Dimensions)
	assert.Equal(t, CurrentSchemaVersion, info.SchemaVersion)
	assert.Equal(t, int64(1), info.ScanGeneration)
	assert.False(t, info.LastFullScan.IsZero())
	assert.Equal(t, 2, info.DocumentCount)
	assert.Equal(t, 3, info.ChunkCount)
	assert.Equal(t, 2, info.EmbeddingCount)
	assert.Equal(t, 2, info.VectorCount)
	assert.Equal(t, KeywordBackendFTS, info.KeywordBackend)
	assert.Positive(t, info.DBSizeBytes)
}

func TestStore_SaveVectorsPersistsGraph(t *testing.T) {
	folder := t.TempDir()
	ctx := context.Background()
	s := openTestStore(t, folder, Options{})

	require.NoError(t, s.SaveFileResult(ctx, withUnitVectors(
		testFileResult("a.md", "first", "second"), 4)))

	require.NoError(t, s.SaveVectors())
	assert.FileExists(t, VectorsPath(folder))
	assert.FileExists(t, VectorsMetaPath(folder))

	dims, err := ReadVectorIndexDimensions(VectorsPath(folder))
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
}

func TestDataFilePaths_CoverEveryDataFile(t *testing.T) {
	folder := t.TempDir()
	paths := DataFilePaths(folder)

	assert.Contains(t, paths, DBPath(folder))
	assert.Contains(t, paths, DBPath(folder)+"-wal")
	assert.Contains(t, paths, DBPath(folder)+"-shm")
	assert.Contains(t, paths, VectorsPath(folder))
	assert.Contains(t, paths, VectorsMetaPath(folder))
	assert.Contains(t, paths, KeywordDirPath(folder))
	assert.NotContains(t, paths, StatePath(folder))
	assert.NotContains(t, paths, filepath.Join(HiddenDir(folder), LockFileName))
}
