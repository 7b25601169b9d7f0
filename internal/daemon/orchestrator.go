// Package daemon runs the folder service: it owns every registered
// folder's lifecycle engine, the shared embedding pool and model runners,
// and the control surfaces that the CLI, the TUI, and MCP subprocesses
// talk to. One Orchestrator exists per daemon process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/embed"
	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/hardware"
	"github.com/foldermcp/foldermcp/internal/lifecycle"
	"github.com/foldermcp/foldermcp/internal/model"
	"github.com/foldermcp/foldermcp/internal/pool"
	"github.com/foldermcp/foldermcp/internal/search"
	"github.com/foldermcp/foldermcp/internal/store"
	"github.com/foldermcp/foldermcp/internal/telemetry"
	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// compactionSweep is how often the background compactor looks for idle
// folders with enough orphaned vectors to be worth evicting.
const compactionSweep = time.Minute

// telemetryFlushInterval is the term-batch flush cadence per folder.
const telemetryFlushInterval = time.Minute

// Options wires an Orchestrator.
type Options struct {
	// Config is the loaded daemon configuration. Required.
	Config *config.Config

	// ConfigPath is where folders.add/remove persist the folder list.
	// Empty disables persistence (tests).
	ConfigPath string

	// Version is the build version reported in snapshots and status.
	Version string

	// DisableWatchers turns off per-folder file watchers. Tests use this
	// for determinism.
	DisableWatchers bool

	Logger *slog.Logger
}

// folderEntry bundles everything the orchestrator holds per folder. The
// engine owns the store; search and telemetry attach to it lazily once the
// engine has opened it.
type folderEntry struct {
	cfg    config.FolderConfig
	engine *lifecycle.Engine

	mu        sync.Mutex
	boundTo   *store.Store
	searcher  *search.Engine
	recorder  *telemetry.Recorder
	lastQuery time.Time
	compacted time.Time
}

// Orchestrator owns the daemon's folder set and shared resources. Run
// starts everything and blocks until the context ends; Handle serves the
// control protocol for both the socket and websocket servers.
type Orchestrator struct {
	cfg        *config.Config
	configPath string
	version    string
	log        *slog.Logger
	startedAt  time.Time

	prober   *hardware.Prober
	registry *model.Registry
	mcpReg   *MCPRegistry
	pidfile  *Pidfile
	pool     *pool.Pool
	hub      *hub

	disableWatchers bool

	mu      sync.Mutex
	runners map[string]*embed.Runner // keyed by model id
	folders map[string]*folderEntry  // keyed by folder path
	closed  bool

	runCtx context.Context
	stop   context.CancelFunc
}

// NewOrchestrator validates wiring and builds an idle orchestrator. Nothing
// starts until Run.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "daemon configuration is required", nil)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	registry, err := model.Load()
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	return &Orchestrator{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		version:    opts.Version,
		log:        log,
		startedAt:  time.Now().UTC(),
		prober:     hardware.NewProber(log),
		registry:   registry,
		mcpReg:     NewMCPRegistry(config.MCPRegistryPath()),
		pidfile:    NewPidfile(cfg.Daemon.PidfilePath),
		pool: pool.New(pool.Options{
			Workers:    cfg.PoolWorkers(),
			QueueDepth: cfg.Pool.QueueDepth,
			Logger:     log,
		}),
		hub:             newHub(opts.Version, log),
		disableWatchers: opts.DisableWatchers,
		runners:         make(map[string]*embed.Runner),
		folders:         make(map[string]*folderEntry),
	}, nil
}

// Run brings the daemon up: pidfile, zombie MCP cleanup, worker pool,
// control servers, and one lifecycle engine per configured folder. It
// blocks until ctx is cancelled or a control server fails, then tears
// everything down in reverse order, closing stores before exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.pidfile.Acquire(); err != nil {
		return err
	}
	defer o.pidfile.Release()

	// Lingering MCP servers from a previous daemon keep stale native
	// modules mapped and can make a perfectly healthy store look
	// corrupted on open. Clear them before any store opens.
	if n, err := o.mcpReg.CleanupZombies(o.log); err != nil {
		o.log.Warn("MCP zombie cleanup failed", slog.String("error", err.Error()))
	} else if n > 0 {
		o.log.Info("terminated lingering MCP servers", slog.Int("count", n))
	}

	runCtx, stop := context.WithCancel(ctx)
	o.mu.Lock()
	o.runCtx = runCtx
	o.stop = stop
	o.mu.Unlock()
	defer stop()

	o.pool.Start(runCtx)

	// Folders come up before the control surfaces so a client connecting
	// right after start sees every configured folder in the first
	// snapshot, even if still INITIALIZING.
	for _, fc := range o.cfg.Folders {
		if err := o.startFolder(runCtx, fc); err != nil {
			o.log.Error("folder failed to start",
				slog.String("folder", fc.Path),
				slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(runCtx)

	socket := NewServer(o.cfg.Daemon.SocketPath, o, o.log)
	g.Go(func() error { return socket.ListenAndServe(gctx) })

	ws := NewWebsocketServer(o.cfg.Daemon.WebsocketPort, o, o.hub, o.log)
	g.Go(func() error { return ws.ListenAndServe(gctx) })

	g.Go(func() error {
		o.compactionLoop(gctx)
		return nil
	})

	o.log.Info("daemon running",
		slog.String("version", o.version),
		slog.Int("folders", len(o.cfg.Folders)))

	err := g.Wait()

	o.shutdown()

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// Stop ends Run from another goroutine, typically the daemon.stop handler
// or a signal handler.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	stop := o.stop
	o.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// shutdown stops every folder engine, closes runners, the pool, and the
// hub. Engines close their stores; that must complete before the process
// exits or the next start pays a recovery pass.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	entries := make([]*folderEntry, 0, len(o.folders))
	for _, e := range o.folders {
		entries = append(entries, e)
	}
	runners := make([]*embed.Runner, 0, len(o.runners))
	for _, r := range o.runners {
		runners = append(runners, r)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *folderEntry) {
			defer wg.Done()
			e.closeAttachments()
			e.engine.Stop()
		}(e)
	}
	wg.Wait()

	o.pool.Close()
	for _, r := range runners {
		if err := r.Close(); err != nil {
			o.log.Warn("runner close failed",
				slog.String("model", r.ModelName()),
				slog.String("error", err.Error()))
		}
	}
	o.hub.Close()
	o.log.Info("daemon stopped")
}

// runnerFor returns the shared runner for a model id, creating it on first
// use. One runner per model is shared by every folder using that model.
func (o *Orchestrator) runnerFor(modelID string) (*embed.Runner, error) {
	info, err := o.registry.Get(modelID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runners[modelID]; ok {
		return r, nil
	}

	profile := o.prober.Profile(context.Background())
	r := embed.NewRunner(info, profile, embed.RunnerOptions{
		Endpoints: embed.Endpoints{
			OllamaHost:  o.cfg.Embeddings.OllamaHost,
			MLXEndpoint: o.cfg.Embeddings.MLXEndpoint,
		},
		BatchSize:    o.cfg.Embeddings.BatchSize,
		CacheDir:     o.cfg.Embeddings.ModelCacheDir,
		CacheEntries: o.cfg.Embeddings.CacheEntries,
		Logger:       o.log,
	})
	o.runners[modelID] = r
	return r, nil
}

// resolveModel picks the folder's model: the explicit one when set, else
// the catalog default for the probed hardware.
func (o *Orchestrator) resolveModel(requested string) (string, error) {
	if requested != "" {
		if !o.registry.Has(requested) {
			return "", errors.New(errors.ErrCodeUnknownModel,
				fmt.Sprintf("unknown model %q; valid ids: %v", requested, o.registry.IDs()), nil)
		}
		return requested, nil
	}
	profile := o.prober.Profile(context.Background())
	return o.registry.DefaultFor(profile.GPUCapable()).ID, nil
}

// startFolder builds and starts one lifecycle engine. Callers hold no lock.
func (o *Orchestrator) startFolder(ctx context.Context, fc config.FolderConfig) error {
	modelID, err := o.resolveModel(fc.Model)
	if err != nil {
		return err
	}
	fc.Model = modelID

	runner, err := o.runnerFor(modelID)
	if err != nil {
		return err
	}

	engine, err := lifecycle.New(lifecycle.Config{
		FolderPath: fc.Path,
		Priority:   fc.Priority,
		Session:    runner,
		Pool:       o.pool,
		Store: store.Options{
			KeywordBackend: o.cfg.Search.KeywordBackend,
			Logger:         o.log,
		},
		Batch: pool.BatcherConfig{
			MaxChunks: o.cfg.Pool.MaxBatchChunks,
			MaxBytes:  o.cfg.Pool.MaxBatchBytes,
			Linger:    o.cfg.BatchLingerDuration(),
		},
		DisableWatcher: o.disableWatchers,
		OnStatus:       o.hub.Update,
		Logger:         o.log,
	})
	if err != nil {
		return err
	}

	entry := &folderEntry{cfg: fc, engine: engine}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New(errors.ErrCodeDaemonNotRunning, "daemon is shutting down", nil)
	}
	o.folders[fc.Path] = entry
	o.mu.Unlock()

	engine.Start(ctx)
	return nil
}

// entryFor looks up a registered folder by normalized path.
func (o *Orchestrator) entryFor(path string) (*folderEntry, bool) {
	clean := config.NormalizePath(path)
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.folders[clean]
	return e, ok
}

// attachments returns the folder's search engine and telemetry recorder,
// building them on first use and rebuilding whenever the engine swapped
// its store (reopen after recovery). Returns ErrCodeFolderNotReady-shaped
// errors while the store is not open.
func (e *folderEntry) attachments(runner *embed.Runner, opts search.Options, log *slog.Logger) (*search.Engine, *telemetry.Recorder, error) {
	st := e.engine.Store()
	if st == nil {
		return nil, nil, errors.New(errors.ErrCodeStoreUnavailable,
			fmt.Sprintf("index for %s is not open yet", e.engine.FolderPath()), nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.boundTo != st {
		if e.recorder != nil {
			_ = e.recorder.Close()
		}
		e.recorder = telemetry.NewRecorder(st, telemetryFlushInterval, log)

		var embedder search.Embedder
		if runner != nil && runner.Available(context.Background()) {
			embedder = runner
		}
		eng, err := search.New(st, embedder, opts,
			search.WithMetrics(e.recorder), search.WithLogger(log))
		if err != nil {
			e.recorder.Close()
			e.recorder = nil
			return nil, nil, err
		}
		e.searcher = eng
		e.boundTo = st
	}
	return e.searcher, e.recorder, nil
}

// closeAttachments flushes and drops the folder's telemetry recorder.
func (e *folderEntry) closeAttachments() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recorder != nil {
		_ = e.recorder.Close()
		e.recorder = nil
	}
	e.searcher = nil
	e.boundTo = nil
}

// markQueried notes query activity for the idle-compaction gate.
func (e *folderEntry) markQueried() {
	e.mu.Lock()
	e.lastQuery = time.Now()
	e.mu.Unlock()
}

// persistConfig rewrites the folders section on disk. Persistence failures
// are logged, not fatal: the in-memory daemon state is already correct and
// the user can fix the config file without losing the running folder.
func (o *Orchestrator) persistConfig() {
	if o.configPath == "" {
		return
	}
	if err := o.cfg.SaveTo(o.configPath); err != nil {
		o.log.Error("cannot persist configuration",
			slog.String("path", o.configPath),
			slog.String("error", err.Error()))
	}
}

// compactionLoop evicts lazily deleted vectors from idle folders. Runs on
// the configured sweep until the daemon stops.
func (o *Orchestrator) compactionLoop(ctx context.Context) {
	if o.cfg.Daemon.Compaction.Disabled {
		return
	}
	ticker := time.NewTicker(compactionSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.compactIdleFolders(ctx)
		}
	}
}

// compactIdleFolders runs one compaction sweep. A folder qualifies when it
// is ACTIVE, has not been queried within the idle window, exceeds both the
// orphan floor and ratio, and is past its cooldown.
func (o *Orchestrator) compactIdleFolders(ctx context.Context) {
	idleAfter := o.cfg.CompactionIdleAfter()
	cooldown := o.cfg.CompactionCooldown()
	minOrphans := o.cfg.Daemon.Compaction.MinOrphans
	ratio := o.cfg.Daemon.Compaction.OrphanRatio

	o.mu.Lock()
	entries := make([]*folderEntry, 0, len(o.folders))
	for _, e := range o.folders {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.engine.State() != lifecycle.StateActive {
			continue
		}
		st := e.engine.Store()
		if st == nil {
			continue
		}

		e.mu.Lock()
		idle := e.lastQuery.IsZero() || now.Sub(e.lastQuery) >= idleAfter
		cooled := e.compacted.IsZero() || now.Sub(e.compacted) >= cooldown
		e.mu.Unlock()
		if !idle || !cooled {
			continue
		}

		stats := st.VectorStats()
		total := stats.Live + stats.Orphans
		if stats.Orphans < minOrphans || total == 0 {
			continue
		}
		if float64(stats.Orphans)/float64(total) < ratio {
			continue
		}

		evicted, err := st.CompactVectors(ctx)
		if err != nil {
			o.log.Warn("vector compaction failed",
				slog.String("folder", e.engine.FolderPath()),
				slog.String("error", err.Error()))
			continue
		}
		e.mu.Lock()
		e.compacted = now
		e.mu.Unlock()
		o.log.Info("compacted vector graph",
			slog.String("folder", e.engine.FolderPath()),
			slog.Int("evicted", evicted))
	}
}

// Snapshot returns the current FMDM snapshot.
func (o *Orchestrator) Snapshot() fmdm.Snapshot {
	return o.hub.Snapshot()
}

// Subscribe registers an FMDM subscriber; the websocket server uses this
// for fmdm.subscribe and the in-process TUI can use it directly.
func (o *Orchestrator) Subscribe() (<-chan fmdm.Snapshot, func()) {
	return o.hub.Subscribe()
}
