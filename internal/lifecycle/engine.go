package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foldermcp/foldermcp/internal/chunk"
	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/extract"
	"github.com/foldermcp/foldermcp/internal/pool"
	"github.com/foldermcp/foldermcp/internal/scanner"
	"github.com/foldermcp/foldermcp/internal/semantic"
	"github.com/foldermcp/foldermcp/internal/store"
	"github.com/foldermcp/foldermcp/internal/watcher"
)

const (
	// maxOpenFiles bounds how many files sit in the embedding stage at
	// once. Batches span files, so this is about memory, not parallelism.
	maxOpenFiles = 8

	// checkpointEvery is how many completed files pass between vector
	// graph flushes. A crash loses at most this much graph work; the
	// relational rows are already safe per file.
	checkpointEvery = 8
)

// EmbedSession is the slice of the model runner the engine needs. One
// session per model is shared across folders; the daemon owns its
// lifetime.
type EmbedSession interface {
	// ModelReady reports whether opening would require a download.
	ModelReady(ctx context.Context) bool

	// Open establishes the inference session, pulling artifacts when
	// missing. progressFn receives cumulative (done, total) bytes.
	Open(ctx context.Context, progressFn func(done, total int64)) error

	// EmbedBatch embeds texts through the active session.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the embedding vector width.
	Dimensions() int

	// ModelName is the catalog model id.
	ModelName() string
}

// Config wires an Engine. FolderPath, Session, and Pool are required.
type Config struct {
	// FolderPath is the absolute path of the watched folder.
	FolderPath string

	// Priority orders this folder's batches in the shared pool.
	Priority int

	// Session embeds this folder's chunks and queries.
	Session EmbedSession

	// Pool is the shared embedding worker pool.
	Pool *pool.Pool

	// Store configures the folder's hybrid index.
	Store store.Options

	// Scanner tunes folder enumeration and fingerprinting.
	Scanner scanner.Options

	// Batch shapes embedding batches; zero values take the defaults.
	Batch pool.BatcherConfig

	// Watch tunes the file watcher.
	Watch watcher.Options

	// DisableWatcher turns off live updates; the folder only changes on
	// explicit rescans. Tests use this for determinism.
	DisableWatcher bool

	// OnStatus receives every status change. Calls can be frequent
	// during downloads and indexing; receivers coalesce. May be nil.
	OnStatus func(Status)

	Logger *slog.Logger
}

// Engine owns one folder's journey from configuration to a live index.
// Start launches the run loop; Stop and Remove end it. All exported
// methods are safe for concurrent use.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     State
	store     *store.Store
	errCode   string
	errMsg    string
	docs      int
	chunks    int
	watching  bool
	updatedAt time.Time

	tracker *tracker
	watcher *watcher.Watcher

	// sessionOpen is touched only by the run goroutine.
	sessionOpen bool

	cancel  context.CancelFunc
	runDone chan struct{}
	kick    chan struct{}
}

// New validates the wiring and returns an idle engine.
func New(cfg Config) (*Engine, error) {
	if cfg.FolderPath == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "folder path is required", nil)
	}
	info, err := os.Stat(cfg.FolderPath)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.ErrCodeFolderNotFound,
			fmt.Sprintf("%s is not a readable directory", cfg.FolderPath), err)
	}
	if cfg.Session == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "embedding session is required", nil)
	}
	if cfg.Pool == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "worker pool is required", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		cfg:       cfg,
		log:       cfg.Logger.With(slog.String("folder", cfg.FolderPath)),
		state:     StateInitializing,
		tracker:   newTracker(),
		kick:      make(chan struct{}, 1),
		updatedAt: time.Now().UTC(),
	}, nil
}

// Start launches the run loop. The engine stops when ctx is cancelled or
// Stop or Remove is called.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.runDone = make(chan struct{})
	go e.run(runCtx)
}

// Stop ends the run loop and closes the store, preserving all index data.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.runDone
}

// Remove tears the folder down: queued and in-flight embedding work is
// cancelled, the store closes, and with purge the hidden index directory
// is deleted from disk.
func (e *Engine) Remove(purge bool) error {
	e.mu.Lock()
	if e.state == StateRemoving {
		e.mu.Unlock()
		return nil
	}
	e.state = StateRemoving
	e.updatedAt = time.Now().UTC()
	e.mu.Unlock()
	e.pushStatus()

	if e.cancel != nil {
		e.cancel()
		e.cfg.Pool.CancelFolder(e.cfg.FolderPath)
		<-e.runDone
	}

	if purge {
		if err := os.RemoveAll(store.HiddenDir(e.cfg.FolderPath)); err != nil {
			return errors.New(errors.ErrCodeLifecycle,
				fmt.Sprintf("cannot purge index data for %s", e.cfg.FolderPath), err)
		}
	}
	e.log.Info("folder removed", slog.Bool("purge", purge))
	return nil
}

// TriggerScan requests a full rescan. Coalesces when one is already
// queued; a no-op before the engine reaches ACTIVE (the pass underway
// already covers it).
func (e *Engine) TriggerScan() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Reindex marks every known file pending and triggers a pass, forcing a
// full re-extract and re-embed without touching what is already served.
func (e *Engine) Reindex(ctx context.Context) error {
	st := e.Store()
	if st == nil {
		return errors.New(errors.ErrCodeLifecycle, "folder store is not open", nil)
	}
	states, err := st.ListFileStates(ctx, "")
	if err != nil {
		return err
	}
	for _, fs := range states {
		if err := st.MarkFileStatus(ctx, fs.Path, store.FileStatusPending, "reindex requested"); err != nil {
			return err
		}
	}
	e.log.Info("reindex requested", slog.Int("files", len(states)))
	e.TriggerScan()
	return nil
}

// Store exposes the folder's open store for query serving, nil before the
// engine has opened it or after teardown.
func (e *Engine) Store() *store.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// FolderPath returns the folder this engine manages.
func (e *Engine) FolderPath() string {
	return e.cfg.FolderPath
}

// Status returns a snapshot of the folder's condition.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		FolderPath:   e.cfg.FolderPath,
		State:        e.state,
		ModelID:      e.cfg.Session.ModelName(),
		Progress:     e.tracker.snapshot(),
		ErrorCode:    e.errCode,
		ErrorMessage: e.errMsg,
		Documents:    e.docs,
		Chunks:       e.chunks,
		Watching:     e.watching,
		UpdatedAt:    e.updatedAt,
	}
}

// run is the engine's single long-lived goroutine. Failures park the
// folder in ERROR until a rescan request retries; only context
// cancellation ends the loop.
func (e *Engine) run(ctx context.Context) {
	defer close(e.runDone)
	defer e.teardown()

	for ctx.Err() == nil && e.Store() == nil {
		if err := e.open(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.fail(err)
			e.park(ctx)
		}
	}
	if ctx.Err() != nil {
		return
	}

	e.startWatcher(ctx)

	pendingOnly := false
	for ctx.Err() == nil {
		if err := e.pass(ctx, pendingOnly); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.fail(err)
			e.park(ctx)
			pendingOnly = false
			continue
		}

		reason, events := e.waitActive(ctx)
		switch reason {
		case wakeShutdown:
			return
		case wakeRescan:
			pendingOnly = false
		case wakeEvents:
			pendingOnly = e.applyEvents(ctx, events)
		}
	}
}

// pass runs one scan-ensure-index cycle and lands in ACTIVE. With
// pendingOnly the scan is skipped; watcher events already queued the work.
func (e *Engine) pass(ctx context.Context, pendingOnly bool) error {
	if !pendingOnly {
		if err := e.scanPass(ctx); err != nil {
			return err
		}
	}
	if err := e.ensureSession(ctx); err != nil {
		return err
	}
	if err := e.indexPass(ctx); err != nil {
		return err
	}
	e.refreshCounts(ctx)
	e.setState(StateActive)
	return nil
}

// open brings the folder's store up, healing what it can. Corruption is
// quarantined and the open retried once; every other failure preserves
// the data and surfaces to the caller.
func (e *Engine) open(ctx context.Context) error {
	e.setState(StateInitializing)

	rebuildReason := ""
	if sc, err := store.ReadStateSidecar(e.cfg.FolderPath); err == nil && sc != nil &&
		sc.ModelID != "" && sc.ModelID != e.cfg.Session.ModelName() {
		// A different model embeds into a different space. The vector
		// graph is useless; documents and chunks rebuild from source.
		e.log.Warn("embedding model changed, folder will re-embed",
			slog.String("previous", sc.ModelID),
			slog.String("current", e.cfg.Session.ModelName()))
		_ = os.Remove(store.VectorsPath(e.cfg.FolderPath))
		_ = os.Remove(store.VectorsMetaPath(e.cfg.FolderPath))
		rebuildReason = "embedding model changed"
	}

	st, err := store.Open(ctx, e.cfg.FolderPath, e.cfg.Store)
	if err != nil {
		class := ClassifyOpenFailure(err)
		e.log.Warn("store open failed",
			slog.String("class", class.String()),
			slog.String("error", err.Error()))
		if class != FailureCorruption {
			return err
		}
		if _, qerr := QuarantineCorrupted(e.cfg.FolderPath, time.Now(), e.log); qerr != nil {
			return err
		}
		st, err = store.Open(ctx, e.cfg.FolderPath, e.cfg.Store)
		if err != nil {
			return err
		}
	}

	if err := e.prepareStore(ctx, st, rebuildReason); err != nil {
		_ = st.Close()
		return err
	}

	e.mu.Lock()
	e.store = st
	e.mu.Unlock()
	e.refreshCounts(ctx)
	return nil
}

// prepareStore runs the open-time checks and repairs on a freshly opened
// store: schema gate, crash recovery, vector reconciliation, and the
// resume-or-rebuild decision.
func (e *Engine) prepareStore(ctx context.Context, st *store.Store, rebuildReason string) error {
	stored, err := st.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if expected := ExpectedSchemaVersion(e.log); stored > expected {
		return errors.New(errors.ErrCodeSchemaMismatch,
			fmt.Sprintf("index schema %d is newer than this installation expects (%d)", stored, expected), nil).
			WithSuggestion("upgrade foldermcp or remove and re-add the folder")
	}

	requeued, err := st.ResetInterrupted(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		e.log.Info("interrupted files requeued", slog.Int("files", requeued))
	}

	if _, err := st.Reconcile(ctx); err != nil {
		return err
	}

	if rebuildReason == "" {
		docs, err := st.CountDocuments(ctx)
		if err != nil {
			return err
		}
		if docs > 0 {
			// The zero here is authoritative only because the count
			// retries transient failures; an error means "don't know",
			// never "rebuild".
			n, err := st.EmbeddingCountWithRetry(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				rebuildReason = "embeddings missing"
			}
		}
	}
	if rebuildReason != "" {
		if err := e.markAllPending(ctx, st, rebuildReason); err != nil {
			return err
		}
	}

	return st.SetModelInfo(ctx, e.cfg.Session.ModelName(), e.cfg.Session.Dimensions())
}

// markAllPending requeues every known file for re-embedding.
func (e *Engine) markAllPending(ctx context.Context, st *store.Store, reason string) error {
	states, err := st.ListFileStates(ctx, "")
	if err != nil {
		return err
	}
	for _, fs := range states {
		if err := st.MarkFileStatus(ctx, fs.Path, store.FileStatusPending, reason); err != nil {
			return err
		}
	}
	if len(states) > 0 {
		e.log.Warn("folder queued for full re-embedding",
			slog.String("reason", reason),
			slog.Int("files", len(states)))
	}
	return nil
}

// scanPass enumerates the folder, diffs it against the recorded state, and
// queues the work.
func (e *Engine) scanPass(ctx context.Context) error {
	e.setState(StateScanning)
	e.tracker.begin(StageScanning, 0)
	defer e.tracker.clear()

	start := time.Now()
	sc, err := scanner.New(e.cfg.FolderPath, e.cfg.Scanner)
	if err != nil {
		return err
	}
	current, err := sc.Collect(ctx)
	if err != nil {
		return err
	}

	previous, err := e.previousFingerprints(ctx)
	if err != nil {
		return err
	}
	cs := scanner.ComputeChanges(current, previous)

	gen, err := e.Store().BumpScanGeneration(ctx)
	if err != nil {
		return err
	}
	if err := e.applyChanges(ctx, cs, gen); err != nil {
		return err
	}
	if err := e.Store().SetLastFullScan(ctx, time.Now().UTC()); err != nil {
		e.log.Warn("scan timestamp write failed", slog.String("error", err.Error()))
	}

	e.log.Info("folder scanned",
		slog.Int("files", len(current)),
		slog.Int("added", len(cs.Added)),
		slog.Int("modified", len(cs.Modified)),
		slog.Int("renamed", len(cs.Renamed)),
		slog.Int("deleted", len(cs.Deleted)),
		slog.Int("unchanged", cs.Unchanged),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// previousFingerprints loads the recorded path to fingerprint map.
func (e *Engine) previousFingerprints(ctx context.Context) (map[string]string, error) {
	states, err := e.Store().ListFileStates(ctx, "")
	if err != nil {
		return nil, err
	}
	previous := make(map[string]string, len(states))
	for _, fs := range states {
		previous[fs.Path] = fs.Fingerprint
	}
	return previous, nil
}

// applyChanges writes a change set into the store. Order is fixed so
// repeated runs behave identically: deletions, then renames, then
// modifications, then additions, each path-sorted by ComputeChanges.
// Per-file failures degrade to warnings; the next scan retries them.
func (e *Engine) applyChanges(ctx context.Context, cs *scanner.ChangeSet, gen int64) error {
	if cs.Empty() {
		return nil
	}
	st := e.Store()

	for _, path := range cs.Deleted {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := st.DeleteDocument(ctx, path); err != nil {
			e.log.Warn("document delete failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	for _, ren := range cs.Renamed {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := st.UpdateDocumentPath(ctx, ren.OldPath, ren.NewPath)
		if errors.GetCode(err) == errors.ErrCodeFileNotFound {
			// Renamed before it was ever indexed: treat as an addition.
			_ = st.DeleteFileState(ctx, ren.OldPath)
			e.queuePath(ctx, ren.NewPath, ren.Fingerprint, gen)
		} else if err != nil {
			e.log.Warn("document rename failed",
				slog.String("old", ren.OldPath), slog.String("new", ren.NewPath),
				slog.String("error", err.Error()))
		}
	}

	for _, f := range cs.Modified {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.queueMeta(ctx, f, gen)
	}
	for _, f := range cs.Added {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.queueMeta(ctx, f, gen)
	}
	return nil
}

// queueMeta records one scanned file as pending work.
func (e *Engine) queueMeta(ctx context.Context, f *scanner.FileMeta, gen int64) {
	fs := &store.FileState{
		Path:           f.Path,
		Fingerprint:    f.Fingerprint,
		Size:           f.Size,
		ModTime:        f.ModTime,
		Status:         store.FileStatusPending,
		ScanGeneration: gen,
	}
	if err := e.Store().UpsertFileState(ctx, fs); err != nil {
		e.log.Warn("file queue failed",
			slog.String("path", f.Path), slog.String("error", err.Error()))
	}
}

// queuePath stats a path and records it as pending work, for change paths
// that carry no scan metadata.
func (e *Engine) queuePath(ctx context.Context, rel, fingerprint string, gen int64) {
	abs := filepath.Join(e.cfg.FolderPath, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return
	}
	e.queueMeta(ctx, &scanner.FileMeta{
		Path:        rel,
		AbsPath:     abs,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Fingerprint: fingerprint,
	}, gen)
}

// ensureSession opens the embedding session once, surfacing a download as
// the DOWNLOADING_MODEL state.
func (e *Engine) ensureSession(ctx context.Context) error {
	if e.sessionOpen {
		return nil
	}
	if !e.cfg.Session.ModelReady(ctx) {
		e.setState(StateDownloadingModel)
		e.tracker.begin(StageDownloading, 0)
		defer e.tracker.clear()
		e.log.Info("model download started",
			slog.String("model", e.cfg.Session.ModelName()))
	}
	err := e.cfg.Session.Open(ctx, func(done, total int64) {
		e.tracker.set(done, total)
		e.pushStatus()
	})
	if err != nil {
		return err
	}
	e.sessionOpen = true
	return nil
}

// indexRun carries one indexing pass's moving parts.
type indexRun struct {
	asm         *assembler
	total       int
	outstanding int
	indexed     int
	skipped     int
	failed      int
	done        int
	sinceFlush  int
}

// indexPass drains the pending queue: extract, chunk, embed, persist.
// Files are prepared in path order and handed to the assembler; completed
// files land in the store atomically as their vectors arrive.
func (e *Engine) indexPass(ctx context.Context) error {
	st := e.Store()
	pending, err := st.ListFileStates(ctx, store.FileStatusPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	e.setState(StateIndexing)
	e.tracker.begin(StageIndexing, int64(len(pending)))
	defer e.tracker.clear()

	gen, err := st.ScanGeneration(ctx)
	if err != nil {
		return err
	}

	dispatcher := extract.NewDispatcher()
	router := chunk.NewRouter(chunk.Options{})
	defer router.Close()
	meta := semantic.NewExtractor(semantic.Config{})

	run := &indexRun{
		asm: newAssembler(ctx, e.cfg.FolderPath, e.cfg.Priority, maxOpenFiles,
			e.cfg.Pool, e.cfg.Session.EmbedBatch, e.cfg.Batch),
		total: len(pending),
	}
	defer run.asm.close()

	start := time.Now()
	for _, fs := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		for run.outstanding >= maxOpenFiles {
			if err := e.collectOne(ctx, run); err != nil {
				return err
			}
		}

		result, skip, err := e.prepare(ctx, dispatcher, router, meta, fs, gen)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.failed++
			e.log.Warn("file preparation failed",
				slog.String("path", fs.Path), slog.String("error", err.Error()))
			_ = st.MarkFileStatus(ctx, fs.Path, store.FileStatusError, err.Error())
			e.fileDone(run)
		case skip != "":
			run.skipped++
			_ = st.MarkFileStatus(ctx, fs.Path, store.FileStatusSkipped, skip)
			e.fileDone(run)
		default:
			if err := st.MarkFileStatus(ctx, fs.Path, store.FileStatusIndexing, ""); err != nil {
				e.log.Warn("file status update failed",
					slog.String("path", fs.Path), slog.String("error", err.Error()))
			}
			run.asm.add(result)
			run.outstanding++
		}
	}

	run.asm.flush()
	for run.outstanding > 0 {
		if err := e.collectOne(ctx, run); err != nil {
			return err
		}
	}

	if err := st.SaveVectors(); err != nil {
		return err
	}
	if err := st.ClearCheckpoint(ctx); err != nil {
		e.log.Warn("checkpoint clear failed", slog.String("error", err.Error()))
	}

	e.log.Info("indexing complete",
		slog.Int("indexed", run.indexed),
		slog.Int("skipped", run.skipped),
		slog.Int("failed", run.failed),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// collectOne waits for one assembled file and persists it. The select on
// ctx matters: a batch cancelled out from under the assembler never
// delivers, and cancellation is the only way out then.
func (e *Engine) collectOne(ctx context.Context, run *indexRun) error {
	select {
	case job := <-run.asm.completed():
		run.outstanding--
		st := e.Store()
		path := job.result.Document.Path
		switch {
		case job.err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.failed++
			e.log.Warn("file embedding failed",
				slog.String("path", path), slog.String("error", job.err.Error()))
			_ = st.MarkFileStatus(ctx, path, store.FileStatusError, job.err.Error())
		default:
			if err := st.SaveFileResult(ctx, job.result); err != nil {
				run.failed++
				e.log.Warn("file save failed",
					slog.String("path", path), slog.String("error", err.Error()))
				_ = st.MarkFileStatus(ctx, path, store.FileStatusError, err.Error())
			} else {
				run.indexed++
			}
		}
		e.fileDone(run)

		run.sinceFlush++
		if run.sinceFlush >= checkpointEvery {
			run.sinceFlush = 0
			if err := st.SaveVectors(); err != nil {
				e.log.Warn("vector checkpoint failed", slog.String("error", err.Error()))
			}
			_ = st.SaveCheckpoint(ctx, &store.IndexCheckpoint{
				Stage:      StageIndexing,
				TotalFiles: run.total,
				DoneFiles:  run.done,
				ModelID:    e.cfg.Session.ModelName(),
			})
		}
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// fileDone advances progress for one finished file, whatever its outcome.
func (e *Engine) fileDone(run *indexRun) {
	run.done++
	e.tracker.advance(1)
	e.pushStatus()
}

// prepare turns one pending file into a ready-to-embed FileResult. A
// non-empty skip reason means the file is a recorded no-op, not a failure.
func (e *Engine) prepare(ctx context.Context, dispatcher *extract.Dispatcher, router *chunk.Router, meta *semantic.Extractor, fs *store.FileState, gen int64) (*store.FileResult, string, error) {
	abs := filepath.Join(e.cfg.FolderPath, filepath.FromSlash(fs.Path))

	extracted, err := dispatcher.Extract(ctx, abs)
	if err != nil {
		if reason, ok := skipReason(err); ok {
			return nil, reason, nil
		}
		return nil, "", err
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return nil, "no extractable text", nil
	}

	chunks, err := router.Chunk(ctx, &chunk.FileInput{
		Path:        fs.Path,
		Content:     []byte(extracted.Text),
		Language:    extracted.Language,
		ContentType: contentTypeFor(extracted.Class),
		PageBreaks:  pageBreaksFor(extracted.Pages),
	})
	if err != nil {
		return nil, "", err
	}
	if len(chunks) == 0 {
		return nil, "no chunks produced", nil
	}

	records := make([]*store.ChunkRecord, len(chunks))
	for i, ch := range chunks {
		body := ch.RawContent
		if body == "" {
			body = ch.Content
		}
		md := meta.Extract(body, ch.HeadingTrail)
		records[i] = &store.ChunkRecord{
			ChunkID:       ch.ID,
			Seq:           ch.Seq,
			Content:       ch.Content,
			Context:       ch.Context,
			ContentType:   string(ch.ContentType),
			Language:      ch.Language,
			StartLine:     ch.StartLine,
			EndLine:       ch.EndLine,
			StartByte:     ch.StartByte,
			HeadingTrail:  ch.HeadingTrail,
			Page:          ch.Page,
			TokenEstimate: ch.TokenEstimate,
			KeyPhrases:    md.KeyPhrases,
			Topics:        md.Topics,
			Readability:   md.Readability,
		}
	}

	return &store.FileResult{
		Document: store.Document{
			Path:        fs.Path,
			Title:       extracted.Title,
			Class:       string(extracted.Class),
			Language:    extracted.Language,
			Size:        fs.Size,
			ModTime:     fs.ModTime,
			Fingerprint: fs.Fingerprint,
			PageCount:   len(extracted.Pages),
			ChunkCount:  len(records),
			IndexedAt:   time.Now().UTC(),
		},
		Chunks:         records,
		ScanGeneration: gen,
	}, "", nil
}

// skipReason maps extraction outcomes that are conditions of the file, not
// failures of the pipeline, to the reason recorded on the skip.
func skipReason(err error) (string, bool) {
	switch errors.GetCode(err) {
	case errors.ErrCodeUnsupportedFormat:
		return "unsupported format", true
	case errors.ErrCodeFileTooLarge:
		return "file too large to extract", true
	case errors.ErrCodeFileNotFound:
		return "file removed before extraction", true
	}
	return "", false
}

func contentTypeFor(class extract.Class) chunk.ContentType {
	switch class {
	case extract.ClassMarkdown:
		return chunk.ContentTypeMarkdown
	case extract.ClassCode:
		return chunk.ContentTypeCode
	default:
		return chunk.ContentTypeText
	}
}

func pageBreaksFor(pages []extract.PageOffset) []chunk.PageBreak {
	if len(pages) == 0 {
		return nil
	}
	breaks := make([]chunk.PageBreak, len(pages))
	for i, p := range pages {
		breaks[i] = chunk.PageBreak{Page: p.Page, Offset: p.Offset}
	}
	return breaks
}

// wake is why waitActive returned.
type wake int

const (
	wakeShutdown wake = iota
	wakeRescan
	wakeEvents
)

// waitActive blocks in ACTIVE until something needs attention.
func (e *Engine) waitActive(ctx context.Context) (wake, []watcher.FileEvent) {
	var events <-chan []watcher.FileEvent
	var errs <-chan error
	if e.watcher != nil {
		events = e.watcher.Events()
		errs = e.watcher.Errors()
	}
	for {
		select {
		case <-ctx.Done():
			return wakeShutdown, nil
		case <-e.kick:
			return wakeRescan, nil
		case batch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if len(batch) == 0 {
				continue
			}
			return wakeEvents, batch
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.log.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// applyEvents turns one debounced watcher batch into queued work. Returns
// false when the batch needs a full rescan instead (ignore rules changed,
// or a directory moved and per-file events cannot be trusted).
func (e *Engine) applyEvents(ctx context.Context, batch []watcher.FileEvent) bool {
	for _, ev := range batch {
		if ev.Op == watcher.OpIgnoreChange || ev.IsDir {
			return false
		}
	}

	touched := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, ev := range batch {
		if _, ok := seen[ev.Path]; ok {
			continue
		}
		seen[ev.Path] = struct{}{}
		touched = append(touched, ev.Path)
	}

	cs, err := e.changesForPaths(ctx, touched)
	if err != nil {
		e.log.Warn("event diff failed, falling back to rescan",
			slog.String("error", err.Error()))
		return false
	}
	if cs.Empty() {
		return true
	}

	gen, err := e.Store().ScanGeneration(ctx)
	if err != nil {
		return false
	}
	if err := e.applyChanges(ctx, cs, gen); err != nil {
		return false
	}

	e.log.Info("watch changes applied",
		slog.Int("added", len(cs.Added)),
		slog.Int("modified", len(cs.Modified)),
		slog.Int("renamed", len(cs.Renamed)),
		slog.Int("deleted", len(cs.Deleted)))
	return true
}

// changesForPaths diffs only the touched paths against the recorded state,
// fingerprinting each survivor. The same rename pairing as a full scan
// applies: a delete and a create with one fingerprint collapse into a
// rename when both sides arrived in the batch.
func (e *Engine) changesForPaths(ctx context.Context, paths []string) (*scanner.ChangeSet, error) {
	st := e.Store()
	previous := make(map[string]string, len(paths))
	var current []*scanner.FileMeta

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev, err := st.GetFileState(ctx, rel)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			previous[rel] = prev.Fingerprint
		}

		abs := filepath.Join(e.cfg.FolderPath, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		fp, err := scanner.Fingerprint(abs, e.cfg.Scanner.HashBudget)
		if err != nil {
			e.log.Warn("fingerprint failed",
				slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		current = append(current, &scanner.FileMeta{
			Path:        rel,
			AbsPath:     abs,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Fingerprint: fp,
		})
	}
	return scanner.ComputeChanges(current, previous), nil
}

// startWatcher brings up live updates. Failure degrades to scan-only
// operation rather than failing the folder.
func (e *Engine) startWatcher(ctx context.Context) {
	if e.cfg.DisableWatcher {
		return
	}
	w, err := watcher.NewWatcher(e.cfg.Watch)
	if err != nil {
		e.log.Warn("watcher unavailable", slog.String("error", err.Error()))
		return
	}
	if err := w.Start(ctx, e.cfg.FolderPath); err != nil {
		e.log.Warn("watcher start failed", slog.String("error", err.Error()))
		return
	}
	e.watcher = w

	e.mu.Lock()
	e.watching = true
	e.mu.Unlock()
	e.log.Info("watching for changes", slog.String("mode", w.Mode()))
}

// refreshCounts updates the cached document and chunk totals.
func (e *Engine) refreshCounts(ctx context.Context) {
	st := e.Store()
	if st == nil {
		return
	}
	docs, err := st.CountDocuments(ctx)
	if err != nil {
		return
	}
	chunks, err := st.CountChunks(ctx)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.docs = docs
	e.chunks = chunks
	e.mu.Unlock()
}

// setState applies a transition and publishes it. Same-state calls are
// no-ops. An edge missing from the table is logged loudly and applied
// anyway; the table is a tripwire for bugs, not a gate that can wedge a
// running folder.
func (e *Engine) setState(next State) {
	e.mu.Lock()
	prev := e.state
	if prev == next {
		e.mu.Unlock()
		return
	}
	if !CanTransition(prev, next) {
		e.log.Error("illegal state transition",
			slog.String("from", string(prev)), slog.String("to", string(next)))
	}
	e.state = next
	if next != StateError {
		e.errCode = ""
		e.errMsg = ""
	}
	e.updatedAt = time.Now().UTC()
	e.mu.Unlock()

	e.log.Info("folder state changed",
		slog.String("from", string(prev)), slog.String("to", string(next)))
	e.pushStatus()
}

// fail parks the folder in ERROR with the cause attached. Index data stays
// open and keeps serving what it holds.
func (e *Engine) fail(err error) {
	code := errors.GetCode(err)
	e.log.Error("folder lifecycle failed",
		slog.String("code", code), slog.String("error", err.Error()))

	e.mu.Lock()
	e.state = StateError
	e.errCode = code
	e.errMsg = err.Error()
	e.updatedAt = time.Now().UTC()
	e.mu.Unlock()
	e.pushStatus()
}

// park waits in ERROR for a retry request or shutdown.
func (e *Engine) park(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-e.kick:
	}
}

// teardown closes the folder's resources when the run loop exits.
func (e *Engine) teardown() {
	if e.watcher != nil {
		_ = e.watcher.Stop()
		e.watcher = nil
	}

	e.mu.Lock()
	st := e.store
	e.store = nil
	e.watching = false
	e.mu.Unlock()

	if st != nil {
		if err := st.Close(); err != nil {
			e.log.Warn("store close failed", slog.String("error", err.Error()))
		}
	}
}

// pushStatus delivers the current status to the configured hook.
func (e *Engine) pushStatus() {
	if e.cfg.OnStatus == nil {
		return
	}
	e.cfg.OnStatus(e.Status())
}
