package lifecycle

import (
	"context"
	"sync"

	"github.com/foldermcp/foldermcp/internal/pool"
	"github.com/foldermcp/foldermcp/internal/store"
)

// assembly is one file moving through the embedding stage. The result's
// chunk rows are complete; vectors fill in as pool batches land. When the
// last chunk resolves, the whole assembly is delivered for the single
// atomic store write.
type assembly struct {
	result    *store.FileResult
	remaining int
	err       error
}

// slot addresses one chunk inside one assembly.
type slot struct {
	job *assembly
	idx int
}

// assembler feeds chunk texts from many files into the shared pool through
// a size/time batcher and routes the vectors back to their files. Batches
// freely span file boundaries; files complete independently, so the store
// write stays per-file atomic no matter how chunks were grouped on the
// wire.
type assembler struct {
	ctx      context.Context
	folder   string
	priority int
	pool     *pool.Pool
	embed    pool.EmbedFunc
	batcher  *pool.Batcher

	mu     sync.Mutex
	slots  map[int64]slot
	nextID int64

	done chan *assembly
}

// newAssembler wires an assembler for one folder. capacity bounds how many
// files may be in flight at once; the caller must not exceed it, which
// keeps delivery on done from ever blocking a pool worker.
func newAssembler(ctx context.Context, folder string, priority, capacity int, p *pool.Pool, embed pool.EmbedFunc, cfg pool.BatcherConfig) *assembler {
	a := &assembler{
		ctx:      ctx,
		folder:   folder,
		priority: priority,
		pool:     p,
		embed:    embed,
		slots:    make(map[int64]slot),
		done:     make(chan *assembly, capacity),
	}
	a.batcher = pool.NewBatcher(cfg, a.ship)
	return a
}

// add registers one prepared file and queues its chunk texts. A file with
// no chunks completes immediately.
func (a *assembler) add(res *store.FileResult) {
	job := &assembly{
		result:    res,
		remaining: len(res.Chunks),
	}
	if job.remaining == 0 {
		a.done <- job
		return
	}
	res.Vectors = make([][]float32, len(res.Chunks))

	a.mu.Lock()
	items := make([]pool.Item, len(res.Chunks))
	for i, chunk := range res.Chunks {
		a.nextID++
		a.slots[a.nextID] = slot{job: job, idx: i}
		items[i] = pool.Item{ID: a.nextID, Text: chunk.Content}
	}
	a.mu.Unlock()

	for _, it := range items {
		a.batcher.Add(it)
	}
}

// flush pushes any partially filled batch to the pool.
func (a *assembler) flush() {
	a.batcher.Flush()
}

// completed delivers assemblies as their last vector lands. Delivery order
// follows batch completion, not submission. An assembly whose batch was
// cancelled out from under it never arrives; callers must also watch their
// context.
func (a *assembler) completed() <-chan *assembly {
	return a.done
}

// close flushes and stops the batcher. In-flight batches still resolve
// through the pool afterwards.
func (a *assembler) close() {
	a.batcher.Close()
}

// ship is the batcher's flush callback: it wraps one shaped batch for the
// pool. A submit failure fails every file in the batch on the spot.
func (a *assembler) ship(items []pool.Item) {
	batch := &pool.Batch{
		Folder:   a.folder,
		Priority: a.priority,
		Items:    items,
		Embed:    a.embed,
		Done: func(vectors [][]float32, err error) {
			a.resolve(items, vectors, err)
		},
	}
	if err := a.pool.Submit(a.ctx, batch); err != nil {
		a.resolve(items, nil, err)
	}
}

// resolve routes one batch outcome back to the affected files. On error
// every touched file is marked failed; its remaining chunks from other
// batches still drain normally before delivery.
func (a *assembler) resolve(items []pool.Item, vectors [][]float32, err error) {
	var ready []*assembly

	a.mu.Lock()
	for i, it := range items {
		ref, ok := a.slots[it.ID]
		if !ok {
			continue
		}
		delete(a.slots, it.ID)

		if err != nil {
			if ref.job.err == nil {
				ref.job.err = err
			}
		} else if i < len(vectors) {
			ref.job.result.Vectors[ref.idx] = vectors[i]
		}
		ref.job.remaining--
		if ref.job.remaining == 0 {
			ready = append(ready, ref.job)
		}
	}
	a.mu.Unlock()

	for _, job := range ready {
		a.done <- job
	}
}
