package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/hardware"
	"github.com/foldermcp/foldermcp/internal/model"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Endpoints names the engine URLs for HTTP-backed providers.
	Endpoints Endpoints

	// BatchSize overrides the hardware-derived batch hint when non-zero.
	BatchSize int

	// CacheDir is the model artifact cache root, typically
	// ~/.foldermcp/models.
	CacheDir string

	// CacheEntries sizes the embedding LRU in front of the provider.
	CacheEntries int

	Logger *slog.Logger
}

// Runner binds one catalog model to an execution backend. It walks the
// selector's candidates in order, establishes a session against the first
// that works, and fails over to the next on session loss. One Runner per
// model id is shared across folders; all methods are safe for concurrent
// use.
type Runner struct {
	info      model.Info
	profile   hardware.Profile
	selector  *Selector
	fileCache *FileCache
	opts      RunnerOptions
	log       *slog.Logger

	mu         sync.RWMutex
	embedder   Embedder
	active     Candidate
	candidates []Candidate
	activeIdx  int
	generation uint64
	opened     bool
	closed     bool
}

// NewRunner creates a runner for info on the probed profile. No session is
// established until Open.
func NewRunner(info model.Info, profile hardware.Profile, opts RunnerOptions) *Runner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		info:      info,
		profile:   profile,
		selector:  NewSelector(opts.Endpoints, log),
		fileCache: NewFileCache(opts.CacheDir, log),
		opts:      opts,
		log:       log.With(slog.String("model", info.ID)),
	}
}

// Info returns the catalog entry this runner serves.
func (r *Runner) Info() model.Info {
	return r.info
}

// ModelReady reports whether the model's artifacts are already present, so
// the caller can decide whether opening implies a download. Engine errors
// read as not ready; Open will surface them properly.
func (r *Runner) ModelReady(ctx context.Context) bool {
	switch r.info.Engine {
	case model.EngineBuiltin:
		return true
	case model.EngineOllama:
		probe, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:            r.opts.Endpoints.OllamaHost,
			Tag:             r.info.Tag,
			SkipHealthCheck: true,
		}, r.log)
		if err != nil {
			return false
		}
		defer func() { _ = probe.Close() }()
		has, err := probe.HasModel(ctx)
		return err == nil && has
	case model.EngineMLX:
		if r.info.URL != "" {
			return r.fileCache.Has(r.info)
		}
		return true
	default:
		return false
	}
}

// Open establishes an inference session against the highest-priority viable
// backend, downloading or pulling model artifacts when missing. progressFn
// receives (done, total) bytes during downloads. Open replaces any existing
// session.
func (r *Runner) Open(ctx context.Context, progressFn func(done, total int64)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New(errors.ErrCodeEmbeddingFailed, "runner is closed", nil)
	}
	candidates := r.selector.Select(r.profile, r.info)
	r.candidates = candidates
	r.mu.Unlock()

	embedder, idx, err := r.openFrom(ctx, candidates, 0, progressFn)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.embedder != nil {
		_ = r.embedder.Close()
	}
	r.embedder = embedder
	r.active = candidates[idx]
	r.activeIdx = idx
	r.generation++
	r.opened = true
	r.mu.Unlock()

	r.log.Info("embedding session established",
		slog.String("backend", string(candidates[idx].Backend)),
		slog.String("engine", r.info.Engine))
	return nil
}

// openFrom tries candidates[start:] in order and returns a ready embedder
// with its candidate index, or AllBackendsFailed.
func (r *Runner) openFrom(ctx context.Context, candidates []Candidate, start int, progressFn func(done, total int64)) (Embedder, int, error) {
	var attempts []string

	for i := start; i < len(candidates); i++ {
		provider, err := r.openProvider(ctx, candidates[i], progressFn)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			attempts = append(attempts, fmt.Sprintf("%s: %v", candidates[i].Backend, err))
			r.log.Warn("backend session failed, trying next",
				slog.String("backend", string(candidates[i].Backend)),
				slog.String("error", err.Error()))
			continue
		}
		return NewCachedEmbedder(provider, r.opts.CacheEntries), i, nil
	}

	return nil, 0, errors.New(errors.ErrCodeAllBackendsFailed,
		fmt.Sprintf("no execution backend could serve %s", r.info.ID), nil).
		WithDetail("attempts", strings.Join(attempts, "; ")).
		WithSuggestion("run 'foldermcp doctor' to inspect engine and hardware state")
}

// openProvider constructs the engine-specific provider for one candidate
// and brings its model to readiness.
func (r *Runner) openProvider(ctx context.Context, cand Candidate, progressFn func(done, total int64)) (Embedder, error) {
	batch := r.opts.BatchSize
	if batch <= 0 {
		batch = BatchSizeHint(r.profile, cand.Backend)
	}

	switch r.info.Engine {
	case model.EngineBuiltin:
		return NewBuiltinEmbedder(r.info.Dimensions, r.info.ID), nil

	case model.EngineOllama:
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cand.Config.EngineURL,
			Tag:        r.info.Tag,
			Dimensions: r.info.Dimensions,
			BatchSize:  batch,
		}, r.log)
		if err != nil {
			return nil, err
		}
		if err := e.EnsureModel(ctx, progressFn); err != nil {
			_ = e.Close()
			return nil, err
		}
		return e, nil

	case model.EngineMLX:
		if r.info.URL != "" {
			if _, err := r.fileCache.Ensure(ctx, r.info, progressFn); err != nil {
				return nil, err
			}
		}
		return NewMLXEmbedder(ctx, MLXConfig{
			Endpoint:   cand.Config.EngineURL,
			Tag:        r.info.Tag,
			Dimensions: r.info.Dimensions,
			BatchSize:  batch,
		}, r.log)

	default:
		return nil, errors.New(errors.ErrCodeUnknownModel,
			fmt.Sprintf("model %s names unknown engine %q", r.info.ID, r.info.Engine), nil)
	}
}

// session returns the current embedder and generation.
func (r *Runner) session() (Embedder, uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, 0, errors.New(errors.ErrCodeEmbeddingFailed, "runner is closed", nil)
	}
	if !r.opened || r.embedder == nil {
		return nil, 0, errors.New(errors.ErrCodeEmbeddingFailed, "runner is not open", nil)
	}
	return r.embedder, r.generation, nil
}

// EmbedBatch embeds texts through the active session. A per-batch failure
// surfaces as InferenceFailed after the provider's internal retry. When the
// session itself is lost, the runner fails over to the next candidate and
// retries the batch once on the new session.
func (r *Runner) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, gen, err := r.session()
	if err != nil {
		return nil, err
	}

	vectors, embedErr := embedder.EmbedBatch(ctx, texts)
	if embedErr == nil {
		return vectors, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// A provider that still answers its health check had a batch-level
	// problem; the caller owns that failure. A dead session triggers
	// failover.
	if embedder.Available(ctx) {
		return nil, embedErr
	}

	if err := r.failover(ctx, gen); err != nil {
		return nil, err
	}

	embedder, _, err = r.session()
	if err != nil {
		return nil, err
	}
	return embedder.EmbedBatch(ctx, texts)
}

// Embed embeds a single text through the active session.
func (r *Runner) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New(errors.ErrCodeInferenceFailed, "no embedding returned", nil)
	}
	return vectors[0], nil
}

// failover advances to the next viable candidate. When another goroutine
// already failed over (generation moved), it returns immediately so the
// caller retries on the new session.
func (r *Runner) failover(ctx context.Context, seenGen uint64) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New(errors.ErrCodeEmbeddingFailed, "runner is closed", nil)
	}
	if r.generation != seenGen {
		r.mu.Unlock()
		return nil
	}
	candidates := r.candidates
	next := r.activeIdx + 1
	old := r.embedder
	lost := r.active.Backend
	r.mu.Unlock()

	r.log.Warn("embedding session lost, failing over",
		slog.String("backend", string(lost)))

	embedder, idx, err := r.openFrom(ctx, candidates, next, nil)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.generation != seenGen {
		// Lost a failover race; discard our session.
		r.mu.Unlock()
		_ = embedder.Close()
		return nil
	}
	r.embedder = embedder
	r.active = candidates[idx]
	r.activeIdx = idx
	r.generation++
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	r.log.Info("embedding session re-established",
		slog.String("backend", string(candidates[idx].Backend)))
	return nil
}

// ActiveBackend returns the candidate serving the current session. ok is
// false before Open succeeds.
func (r *Runner) ActiveBackend() (Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.opened
}

// BatchSize returns the effective batch size for the active backend, used
// by the worker pool to shape batches.
func (r *Runner) BatchSize() int {
	if r.opts.BatchSize > 0 {
		return r.opts.BatchSize
	}
	r.mu.RLock()
	backend := r.active.Backend
	opened := r.opened
	r.mu.RUnlock()
	if !opened {
		return DefaultBatchSize
	}
	return BatchSizeHint(r.profile, backend)
}

// Dimensions returns the model's declared vector width.
func (r *Runner) Dimensions() int {
	if r.info.Dimensions > 0 {
		return r.info.Dimensions
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.embedder != nil {
		return r.embedder.Dimensions()
	}
	return 0
}

// ModelName returns the catalog model id.
func (r *Runner) ModelName() string {
	return r.info.ID
}

// Available reports whether the active session can serve requests.
func (r *Runner) Available(ctx context.Context) bool {
	embedder, _, err := r.session()
	if err != nil {
		return false
	}
	return embedder.Available(ctx)
}

// Close tears down the active session.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.opened = false
	if r.embedder != nil {
		err := r.embedder.Close()
		r.embedder = nil
		return err
	}
	return nil
}
