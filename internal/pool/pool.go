// Package pool runs embedding batches for all folders through a bounded
// set of workers. Producers block cooperatively when the intake queue is
// full, higher-priority folders dispatch first, and no folder hogs the
// in-flight slots while others have pending work.
package pool

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// Item is one chunk of text awaiting a vector. ID is caller correlation
// state; the pool never interprets it.
type Item struct {
	ID   int64
	Text string
}

// EmbedFunc turns texts into vectors. Each batch carries the function bound
// to its folder's model runner.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// DoneFunc receives the batch outcome. Vectors align with the submitted
// items. It runs on a worker goroutine and must not block for long.
type DoneFunc func(vectors [][]float32, err error)

// Batch is one unit of embedding work for a single folder.
type Batch struct {
	// Folder identifies the owning folder for priority, fairness, and
	// cancellation.
	Folder string

	// Priority orders dispatch across folders; higher dispatches first.
	Priority int

	Items []Item

	// Embed performs the inference for this batch.
	Embed EmbedFunc

	// Done receives the outcome. Skipped entirely when the folder was
	// cancelled after submission.
	Done DoneFunc

	enqueuedAt time.Time
	epoch      uint64
}

// Options configures a Pool.
type Options struct {
	// Workers is the number of concurrent embedding slots.
	// Zero means min(4, NumCPU/2), at least 1.
	Workers int

	// QueueDepth bounds the intake queue; full queues block Submit.
	// Zero means 128.
	QueueDepth int

	// FolderInFlightCap bounds one folder's share of the workers while
	// other folders have pending work. Zero means ceil(Workers/2).
	FolderInFlightCap int

	Logger *slog.Logger
}

// DefaultWorkers is the worker count heuristic: half the cores, capped at
// four. Inference engines parallelize internally; more slots just queue.
func DefaultWorkers() int {
	w := runtime.NumCPU() / 2
	if w > 4 {
		w = 4
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Pool is the shared embedding dispatcher. Create with New, start with
// Start, stop with Close.
type Pool struct {
	workers    int
	queueDepth int
	folderCap  int
	log        *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Batch
	inflight map[string]int
	epochs   map[string]uint64
	closed   bool

	stopWake func() bool
	wg       sync.WaitGroup
}

// New creates a pool. No workers run until Start.
func New(opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 128
	}
	fcap := opts.FolderInFlightCap
	if fcap <= 0 {
		fcap = (workers + 1) / 2
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		workers:    workers,
		queueDepth: depth,
		folderCap:  fcap,
		log:        log,
		inflight:   make(map[string]int),
		epochs:     make(map[string]uint64),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Close lets in-flight batches finish before
// the workers exit; cancelling ctx also cancels the in-flight embeds.
func (p *Pool) Start(ctx context.Context) {
	// Wake blocked workers and producers when the context dies.
	p.stopWake = context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx)
		}()
	}
}

// Submit enqueues a batch, blocking while the queue is full. It returns
// ctx.Err when the caller's context dies first and an error when the pool
// is closed.
func (p *Pool) Submit(ctx context.Context, b *Batch) error {
	if b == nil || len(b.Items) == 0 {
		return nil
	}
	if b.Embed == nil {
		return errors.New(errors.ErrCodeInvalidInput, "batch has no embed function", nil)
	}

	// A cancelled ctx must wake us out of cond.Wait.
	stop := context.AfterFunc(ctx, func() { p.cond.Broadcast() })
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) >= p.queueDepth && !p.closed && ctx.Err() == nil {
		p.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return errors.New(errors.ErrCodeInternal, "pool is closed", nil)
	}

	b.enqueuedAt = time.Now()
	b.epoch = p.epochs[b.Folder]
	p.queue = append(p.queue, b)
	p.cond.Broadcast()
	return nil
}

// CancelFolder purges the folder's queued batches and suppresses the
// results of its in-flight ones. Queued batches get their Done called with
// a cancellation error so producers can unblock.
func (p *Pool) CancelFolder(folder string) {
	p.mu.Lock()
	p.epochs[folder]++

	var purged []*Batch
	kept := p.queue[:0]
	for _, b := range p.queue {
		if b.Folder == folder {
			purged = append(purged, b)
		} else {
			kept = append(kept, b)
		}
	}
	p.queue = kept
	p.mu.Unlock()
	p.cond.Broadcast()

	if len(purged) > 0 {
		p.log.Debug("purged queued batches for cancelled folder",
			slog.String("folder", folder),
			slog.Int("batches", len(purged)))
	}
	cancelErr := errors.New(errors.ErrCodeLifecycle, "folder cancelled", nil)
	for _, b := range purged {
		if b.Done != nil {
			b.Done(nil, cancelErr)
		}
	}
}

// Close stops intake, waits for workers to drain their current batches,
// and fails any still-queued batches. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	remaining := p.queue
	p.queue = nil
	p.mu.Unlock()
	p.cond.Broadcast()

	p.wg.Wait()
	if p.stopWake != nil {
		p.stopWake()
	}

	closeErr := errors.New(errors.ErrCodeInternal, "pool closed before dispatch", nil)
	for _, b := range remaining {
		if b.Done != nil {
			b.Done(nil, closeErr)
		}
	}
}

// work is one worker loop.
func (p *Pool) work(ctx context.Context) {
	for {
		b := p.next()
		if b == nil {
			return
		}

		vectors, err := b.Embed(ctx, texts(b.Items))

		p.mu.Lock()
		p.inflight[b.Folder]--
		if p.inflight[b.Folder] <= 0 {
			delete(p.inflight, b.Folder)
		}
		suppressed := b.epoch != p.epochs[b.Folder]
		p.mu.Unlock()
		p.cond.Broadcast()

		// A batch whose folder was cancelled mid-flight completes but its
		// result is discarded; the target store is already closing.
		if suppressed {
			continue
		}
		if b.Done != nil {
			b.Done(vectors, err)
		}
	}
}

// next blocks until a dispatchable batch exists, removes it from the
// queue, accounts it in-flight, and returns it. A nil return means the
// pool is shutting down.
func (p *Pool) next() *Batch {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if idx := p.pickLocked(); idx >= 0 {
			b := p.queue[idx]
			p.queue = append(p.queue[:idx], p.queue[idx+1:]...)
			p.inflight[b.Folder]++
			p.cond.Broadcast()
			return b
		}
		if p.closed {
			return nil
		}
		p.cond.Wait()
	}
}

// pickLocked selects the best dispatchable batch: highest priority first,
// oldest first within a priority. A folder at its in-flight cap is passed
// over while other folders have work; when only capped folders have work,
// the cap yields so workers never idle with a non-empty queue.
func (p *Pool) pickLocked() int {
	best := -1
	bestCapped := -1

	for i, b := range p.queue {
		capped := p.inflight[b.Folder] >= p.folderCap
		if capped {
			if bestCapped < 0 || better(b, p.queue[bestCapped]) {
				bestCapped = i
			}
			continue
		}
		if best < 0 || better(b, p.queue[best]) {
			best = i
		}
	}

	if best >= 0 {
		return best
	}
	return bestCapped
}

// better reports whether a should dispatch before b.
func better(a, b *Batch) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.enqueuedAt.Before(b.enqueuedAt)
}

// texts projects the items' text for the embed call.
func texts(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Text
	}
	return out
}

// Stats is a point-in-time pool snapshot for diagnostics.
type Stats struct {
	Queued   int            `json:"queued"`
	InFlight int            `json:"in_flight"`
	Workers  int            `json:"workers"`
	ByFolder map[string]int `json:"by_folder,omitempty"`
}

// Snapshot returns current queue and in-flight counts.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Queued:   len(p.queue),
		Workers:  p.workers,
		ByFolder: make(map[string]int),
	}
	for _, b := range p.queue {
		s.ByFolder[b.Folder]++
	}
	for folder, n := range p.inflight {
		s.InFlight += n
		s.ByFolder[folder] += n
	}
	return s
}
