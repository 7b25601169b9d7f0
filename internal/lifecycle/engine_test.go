package lifecycle

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/pool"
	"github.com/foldermcp/foldermcp/internal/scanner"
	"github.com/foldermcp/foldermcp/internal/store"
	"github.com/foldermcp/foldermcp/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, workers int) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Options{Workers: workers, Logger: testLogger()})
	p.Start(context.Background())
	t.Cleanup(p.Close)
	return p
}

func writeFile(t *testing.T, folder, rel, content string) string {
	t.Helper()
	abs := filepath.Join(folder, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	return abs
}

// fakeSession is an EmbedSession that derives stable vectors from the text
// itself, so tests can count and inspect embedding traffic without a model.
type fakeSession struct {
	model string
	dims  int

	mu      sync.Mutex
	ready   bool
	openErr error
	opens   int
	batches int
	texts   []string
}

func newFakeSession(model string) *fakeSession {
	return &fakeSession{model: model, dims: 8, ready: true}
}

func (s *fakeSession) ModelReady(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSession) Open(ctx context.Context, progressFn func(done, total int64)) error {
	s.mu.Lock()
	s.opens++
	err := s.openErr
	wasReady := s.ready
	if err == nil {
		s.ready = true
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if !wasReady && progressFn != nil {
		progressFn(512, 1024)
		progressFn(1024, 1024)
	}
	return nil
}

func (s *fakeSession) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.batches++
	s.texts = append(s.texts, texts...)
	s.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, txt := range texts {
		out[i] = fakeVector(txt, s.dims)
	}
	return out, nil
}

func (s *fakeSession) Dimensions() int   { return s.dims }
func (s *fakeSession) ModelName() string { return s.model }

func (s *fakeSession) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func fakeVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%2000)/1000 - 1
	}
	return vec
}

// statusRecorder collects every pushed status for later inspection.
type statusRecorder struct {
	mu   sync.Mutex
	list []Status
}

func (r *statusRecorder) add(s Status) {
	r.mu.Lock()
	r.list = append(r.list, s)
	r.mu.Unlock()
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.list...)
}

func testEngineConfig(t *testing.T, folder string, session EmbedSession) Config {
	t.Helper()
	return Config{
		FolderPath:     folder,
		Session:        session,
		Pool:           newTestPool(t, 2),
		Store:          store.Options{Logger: testLogger()},
		Scanner:        scanner.Options{Logger: testLogger()},
		Batch:          pool.BatcherConfig{Linger: 20 * time.Millisecond},
		DisableWatcher: true,
		Logger:         testLogger(),
	}
}

func startTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := New(cfg)
	require.NoError(t, err)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng
}

func waitForState(t *testing.T, eng *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return eng.State() == want },
		10*time.Second, 10*time.Millisecond, "engine never reached %s", want)
}

func waitForDocuments(t *testing.T, eng *Engine, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := eng.Store()
		if st == nil {
			return false
		}
		docs, err := st.CountDocuments(context.Background())
		return err == nil && docs == want
	}, 10*time.Second, 10*time.Millisecond, "folder never reached %d documents", want)
}

func TestNewValidation(t *testing.T) {
	p := newTestPool(t, 1)
	session := newFakeSession("test-model")
	folder := t.TempDir()

	_, err := New(Config{Session: session, Pool: p})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	_, err = New(Config{FolderPath: filepath.Join(folder, "missing"), Session: session, Pool: p})
	assert.Equal(t, errors.ErrCodeFolderNotFound, errors.GetCode(err))

	_, err = New(Config{FolderPath: folder, Pool: p})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))

	_, err = New(Config{FolderPath: folder, Session: session})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestEngineIndexesFolder(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "readme.md", "# Readme\n\nThis folder explains the project in some detail.\n")
	writeFile(t, folder, "notes/guide.txt", "Operating guide for the service. Step one: start it.\n")

	session := newFakeSession("test-model")
	eng := startTestEngine(t, testEngineConfig(t, folder, session))
	waitForState(t, eng, StateActive)

	status := eng.Status()
	assert.Equal(t, 2, status.Documents)
	assert.Greater(t, status.Chunks, 0)
	assert.Equal(t, "test-model", status.ModelID)
	assert.Empty(t, status.ErrorCode)

	ctx := context.Background()
	st := eng.Store()
	require.NotNil(t, st)

	doc, err := st.GetDocument(ctx, "readme.md")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "markdown", doc.Class)

	states, err := st.ListFileStates(ctx, store.FileStatusIndexed)
	require.NoError(t, err)
	assert.Len(t, states, 2)

	embedded, err := st.EmbeddingCount(ctx)
	require.NoError(t, err)
	assert.Greater(t, embedded, 0)
	assert.Greater(t, session.batchCount(), 0)

	sc, err := store.ReadStateSidecar(folder)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "test-model", sc.ModelID)
}

func TestEngineEmptyFolderGoesActive(t *testing.T) {
	eng := startTestEngine(t, testEngineConfig(t, t.TempDir(), newFakeSession("test-model")))
	waitForState(t, eng, StateActive)

	status := eng.Status()
	assert.Equal(t, 0, status.Documents)
	assert.Equal(t, 0, status.Chunks)
}

func TestEngineSkipsUnsupportedFiles(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "readme.md", "# Hello\n\nSupported content.\n")
	writeFile(t, folder, "data.bin", "\x00\x01\x02 opaque bytes")

	eng := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, eng, StateActive)

	ctx := context.Background()
	st := eng.Store()

	docs, err := st.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)

	fs, err := st.GetFileState(ctx, "data.bin")
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, store.FileStatusSkipped, fs.Status)
	assert.Equal(t, "unsupported format", fs.Reason)
}

func TestEngineIndexesPunctuationOnlyFile(t *testing.T) {
	folder := t.TempDir()
	// Non-blank but nothing a phrase extractor can trim into a word. Such a
	// file must still index, and every chunk it produces must carry at
	// least one key phrase.
	writeFile(t, folder, "noise.txt", "... !!! ???\n")

	eng := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, eng, StateActive)

	ctx := context.Background()
	st := eng.Store()
	require.NotNil(t, st)

	fs, err := st.GetFileState(ctx, "noise.txt")
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, store.FileStatusIndexed, fs.Status)

	chunks, err := st.GetDocumentChunks(ctx, "noise.txt", 0, -1)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.NotEmpty(t, ch.KeyPhrases, "chunk seq %d persisted without key phrases", ch.Seq)
	}
}

func TestEngineSecondRunDoesNotReembed(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nFirst document body.\n")
	writeFile(t, folder, "b.md", "# B\n\nSecond document body.\n")

	first := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, first, StateActive)
	first.Stop()

	// Same model, untouched files: the second run must resume, not rebuild.
	session := newFakeSession("test-model")
	second := startTestEngine(t, testEngineConfig(t, folder, session))
	waitForState(t, second, StateActive)

	assert.Equal(t, 0, session.batchCount())
	assert.Equal(t, 2, second.Status().Documents)
}

func TestEngineModelChangeForcesReembed(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nDocument body to embed twice.\n")

	first := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("model-a")))
	waitForState(t, first, StateActive)
	first.Stop()

	session := newFakeSession("model-b")
	second := startTestEngine(t, testEngineConfig(t, folder, session))
	waitForState(t, second, StateActive)

	assert.Greater(t, session.batchCount(), 0)
	assert.Equal(t, 1, second.Status().Documents)

	ctx := context.Background()
	embedded, err := second.Store().EmbeddingCount(ctx)
	require.NoError(t, err)
	assert.Greater(t, embedded, 0)

	sc, err := store.ReadStateSidecar(folder)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "model-b", sc.ModelID)
}

func TestEngineResumesInterruptedFiles(t *testing.T) {
	folder := t.TempDir()
	abs := writeFile(t, folder, "a.md", "# A\n\nInterrupted mid-index last time.\n")

	// Seed a store that crashed while a.md was in the embedding stage.
	ctx := context.Background()
	fp, err := scanner.Fingerprint(abs, 0)
	require.NoError(t, err)
	info, err := os.Stat(abs)
	require.NoError(t, err)

	st, err := store.Open(ctx, folder, store.Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, st.UpsertFileState(ctx, &store.FileState{
		Path:           "a.md",
		Fingerprint:    fp,
		Size:           info.Size(),
		ModTime:        info.ModTime(),
		Status:         store.FileStatusIndexing,
		ScanGeneration: 1,
	}))
	require.NoError(t, st.Close())

	session := newFakeSession("test-model")
	eng := startTestEngine(t, testEngineConfig(t, folder, session))
	waitForState(t, eng, StateActive)

	fs, err := eng.Store().GetFileState(ctx, "a.md")
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, store.FileStatusIndexed, fs.Status)
	assert.Greater(t, session.batchCount(), 0)
	assert.Equal(t, 1, eng.Status().Documents)
}

func TestEngineTriggerScanPicksUpChanges(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "one.md", "# One\n\nOriginal content.\n")

	eng := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, eng, StateActive)
	waitForDocuments(t, eng, 1)

	ctx := context.Background()

	// Addition.
	writeFile(t, folder, "two.md", "# Two\n\nA second document appears.\n")
	eng.TriggerScan()
	waitForDocuments(t, eng, 2)

	// Modification.
	original, err := eng.Store().GetDocument(ctx, "one.md")
	require.NoError(t, err)
	require.NotNil(t, original)
	writeFile(t, folder, "one.md", "# One\n\nRewritten content, longer than before and different.\n")
	eng.TriggerScan()
	require.Eventually(t, func() bool {
		doc, err := eng.Store().GetDocument(ctx, "one.md")
		return err == nil && doc != nil && doc.Fingerprint != original.Fingerprint
	}, 10*time.Second, 10*time.Millisecond)

	// Deletion.
	require.NoError(t, os.Remove(filepath.Join(folder, "two.md")))
	eng.TriggerScan()
	waitForDocuments(t, eng, 1)
}

func TestEngineRenameDoesNotReembed(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "old.md", "# Stable\n\nContent that only moves, never changes.\n")

	session := newFakeSession("test-model")
	eng := startTestEngine(t, testEngineConfig(t, folder, session))
	waitForState(t, eng, StateActive)
	waitForDocuments(t, eng, 1)

	ctx := context.Background()
	chunksBefore, err := eng.Store().CountChunks(ctx)
	require.NoError(t, err)
	batchesBefore := session.batchCount()

	require.NoError(t, os.Rename(
		filepath.Join(folder, "old.md"), filepath.Join(folder, "new.md")))
	eng.TriggerScan()

	require.Eventually(t, func() bool {
		doc, err := eng.Store().GetDocument(ctx, "new.md")
		return err == nil && doc != nil
	}, 10*time.Second, 10*time.Millisecond)

	old, err := eng.Store().GetDocument(ctx, "old.md")
	require.NoError(t, err)
	assert.Nil(t, old)

	chunksAfter, err := eng.Store().CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunksBefore, chunksAfter)
	assert.Equal(t, batchesBefore, session.batchCount())
}

func TestEngineQuarantinesCorruptIndex(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nSurvives the corrupted index.\n")

	// A database that is not SQLite at all.
	hidden := store.HiddenDir(folder)
	require.NoError(t, os.MkdirAll(hidden, 0o755))
	require.NoError(t, os.WriteFile(store.DBPath(folder),
		[]byte("this is decidedly not a sqlite database"), 0o644))

	eng := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, eng, StateActive)
	assert.Equal(t, 1, eng.Status().Documents)

	// The damaged file was renamed aside, not deleted.
	entries, err := os.ReadDir(hidden)
	require.NoError(t, err)
	quarantined := 0
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".corrupted.") {
			quarantined++
		}
	}
	assert.Equal(t, 1, quarantined)
}

func TestEngineLockedStoreParksInError(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nWaits for the lock holder to leave.\n")

	ctx := context.Background()
	holder, err := store.Open(ctx, folder, store.Options{Logger: testLogger()})
	require.NoError(t, err)

	eng := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, eng, StateError)

	status := eng.Status()
	assert.Equal(t, errors.ErrCodeStoreLocked, status.ErrorCode)
	assert.NotEmpty(t, status.ErrorMessage)

	// An environment failure must never trip the quarantine path.
	entries, err := os.ReadDir(store.HiddenDir(folder))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".corrupted.")
	}

	// Lock released: a rescan request retries and recovers.
	require.NoError(t, holder.Close())
	eng.TriggerScan()
	waitForState(t, eng, StateActive)
	assert.Equal(t, 1, eng.Status().Documents)
	assert.Empty(t, eng.Status().ErrorCode)
}

func TestEngineDownloadSurfacesProgress(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nIndexed after the model arrives.\n")

	session := newFakeSession("test-model")
	session.ready = false

	rec := &statusRecorder{}
	cfg := testEngineConfig(t, folder, session)
	cfg.OnStatus = rec.add

	eng := startTestEngine(t, cfg)
	waitForState(t, eng, StateActive)

	var sawDownload, sawBytes bool
	for _, s := range rec.all() {
		if s.State != StateDownloadingModel {
			continue
		}
		sawDownload = true
		if s.Progress != nil && s.Progress.Stage == StageDownloading && s.Progress.Done > 0 {
			sawBytes = true
		}
	}
	assert.True(t, sawDownload, "DOWNLOADING_MODEL was never published")
	assert.True(t, sawBytes, "download progress bytes were never published")
	assert.Equal(t, 1, eng.Status().Documents)
}

func TestEngineReindex(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nEmbedded once, then once more on demand.\n")

	session := newFakeSession("test-model")
	eng := startTestEngine(t, testEngineConfig(t, folder, session))
	waitForState(t, eng, StateActive)

	before := session.batchCount()
	require.NoError(t, eng.Reindex(context.Background()))

	require.Eventually(t, func() bool {
		return session.batchCount() > before && eng.State() == StateActive
	}, 10*time.Second, 10*time.Millisecond)

	fs, err := eng.Store().GetFileState(context.Background(), "a.md")
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, store.FileStatusIndexed, fs.Status)
}

func TestEngineRemovePurgesIndexData(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nAbout to be forgotten.\n")

	eng := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, eng, StateActive)
	require.DirExists(t, store.HiddenDir(folder))

	require.NoError(t, eng.Remove(true))
	assert.Equal(t, StateRemoving, eng.State())
	assert.NoDirExists(t, store.HiddenDir(folder))

	// The source files are untouched.
	assert.FileExists(t, filepath.Join(folder, "a.md"))

	// Repeat removal is a no-op.
	require.NoError(t, eng.Remove(true))
}

func TestEngineStopPreservesIndexData(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nStays indexed across restarts.\n")

	eng := startTestEngine(t, testEngineConfig(t, folder, newFakeSession("test-model")))
	waitForState(t, eng, StateActive)

	eng.Stop()
	assert.Nil(t, eng.Store())
	assert.DirExists(t, store.HiddenDir(folder))
	assert.FileExists(t, store.DBPath(folder))
}

func TestEngineWatcherAppliesLiveChanges(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, folder, "a.md", "# A\n\nThe folder is being watched.\n")

	cfg := testEngineConfig(t, folder, newFakeSession("test-model"))
	cfg.DisableWatcher = false
	cfg.Watch = watcher.Options{
		DebounceWindow: 50 * time.Millisecond,
		PollInterval:   200 * time.Millisecond,
		Logger:         testLogger(),
	}

	eng := startTestEngine(t, cfg)
	waitForState(t, eng, StateActive)
	waitForDocuments(t, eng, 1)
	assert.True(t, eng.Status().Watching)

	// No TriggerScan: the watcher alone must pick these up.
	writeFile(t, folder, "b.md", "# B\n\nArrived while watching.\n")
	waitForDocuments(t, eng, 2)

	require.NoError(t, os.Remove(filepath.Join(folder, "b.md")))
	waitForDocuments(t, eng, 1)
}
