package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/foldermcp/foldermcp/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoEmbed returns one zero vector per text.
func echoEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

// gatedEmbed reports each dispatch on started and holds until release is
// closed, so tests can control what is in flight.
type gatedEmbed struct {
	started chan string
	release chan struct{}
}

func newGatedEmbed() *gatedEmbed {
	return &gatedEmbed{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedEmbed) fn(label string) EmbedFunc {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		g.started <- label
		<-g.release
		return make([][]float32, len(texts)), nil
	}
}

func (g *gatedEmbed) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case label := <-g.started:
		return label
	case <-time.After(5 * time.Second):
		t.Fatal("no batch dispatched in time")
		return ""
	}
}

func batch(folder string, priority int, n int, embed EmbedFunc, done DoneFunc) *Batch {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: int64(i), Text: "text"}
	}
	return &Batch{Folder: folder, Priority: priority, Items: items, Embed: embed, Done: done}
}

func TestPool_DispatchesAndCompletes(t *testing.T) {
	p := New(Options{Workers: 2, QueueDepth: 8})
	p.Start(context.Background())
	defer p.Close()

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		b := batch("docs", 0, 5, echoEmbed, func(vectors [][]float32, err error) {
			require.NoError(t, err)
			results <- len(vectors)
		})
		require.NoError(t, p.Submit(context.Background(), b))
	}

	for i := 0; i < 3; i++ {
		select {
		case n := <-results:
			assert.Equal(t, 5, n)
		case <-time.After(5 * time.Second):
			t.Fatal("batch never completed")
		}
	}
}

func TestPool_PriorityDispatchOrder(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 8})
	g := newGatedEmbed()

	// Queue before starting so the single worker sees all three at once.
	require.NoError(t, p.Submit(context.Background(), batch("low", 0, 1, g.fn("low"), nil)))
	require.NoError(t, p.Submit(context.Background(), batch("mid", 1, 1, g.fn("mid"), nil)))
	require.NoError(t, p.Submit(context.Background(), batch("high", 2, 1, g.fn("high"), nil)))

	p.Start(context.Background())
	defer p.Close()

	var order []string
	for i := 0; i < 3; i++ {
		order = append(order, g.waitStarted(t))
		if i == 0 {
			close(g.release)
		}
	}
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestPool_FIFOWithinPriority(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 8})
	g := newGatedEmbed()

	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, g.fn("first"), nil)))
	require.NoError(t, p.Submit(context.Background(), batch("b", 0, 1, g.fn("second"), nil)))
	require.NoError(t, p.Submit(context.Background(), batch("c", 0, 1, g.fn("third"), nil)))

	p.Start(context.Background())
	defer p.Close()

	var order []string
	for i := 0; i < 3; i++ {
		order = append(order, g.waitStarted(t))
		if i == 0 {
			close(g.release)
		}
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPool_FolderFairnessUnderLoad(t *testing.T) {
	// Two workers, default per-folder cap of one. Folder a has two batches
	// queued ahead of folder b's one; the cap forces the second worker to
	// take b's batch instead of a's second.
	p := New(Options{Workers: 2, QueueDepth: 8})
	g := newGatedEmbed()

	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, g.fn("a1"), nil)))
	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, g.fn("a2"), nil)))
	require.NoError(t, p.Submit(context.Background(), batch("b", 0, 1, g.fn("b1"), nil)))

	p.Start(context.Background())
	defer p.Close()

	first := g.waitStarted(t)
	second := g.waitStarted(t)
	assert.ElementsMatch(t, []string{"a1", "b1"}, []string{first, second})

	close(g.release)
	assert.Equal(t, "a2", g.waitStarted(t))
}

func TestPool_CapYieldsWhenOnlyOneFolderQueued(t *testing.T) {
	// With no other folder pending, a single folder may exceed its cap so
	// workers never idle beside a non-empty queue.
	p := New(Options{Workers: 2, QueueDepth: 8})
	g := newGatedEmbed()

	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, g.fn("a1"), nil)))
	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, g.fn("a2"), nil)))

	p.Start(context.Background())
	defer p.Close()

	first := g.waitStarted(t)
	second := g.waitStarted(t)
	assert.ElementsMatch(t, []string{"a1", "a2"}, []string{first, second})
	close(g.release)
}

func TestPool_SubmitBlocksWhenQueueFull(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 1})
	// No Start: the queue can only drain via Close.

	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, echoEmbed, nil)))

	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(context.Background(), batch("b", 0, 1, echoEmbed, nil))
	}()

	select {
	case err := <-submitted:
		t.Fatalf("submit should block on a full queue, returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	p.Close()

	select {
	case err := <-submitted:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("submit never unblocked after close")
	}
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 1})
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, echoEmbed, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, batch("b", 0, 1, echoEmbed, nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_SubmitValidation(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 1})
	defer p.Close()

	assert.NoError(t, p.Submit(context.Background(), nil))
	assert.NoError(t, p.Submit(context.Background(), &Batch{Folder: "a"}))

	err := p.Submit(context.Background(), &Batch{Folder: "a", Items: []Item{{Text: "x"}}})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
}

func TestPool_CancelFolderPurgesQueued(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 8})
	// No Start: everything stays queued.

	var mu sync.Mutex
	var failed []string
	done := func(folder string) DoneFunc {
		return func(vectors [][]float32, err error) {
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeLifecycle, apperrors.GetCode(err))
			mu.Lock()
			failed = append(failed, folder)
			mu.Unlock()
		}
	}

	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, echoEmbed, done("a1"))))
	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, echoEmbed, done("a2"))))
	require.NoError(t, p.Submit(context.Background(), batch("b", 0, 1, echoEmbed, done("b1"))))

	p.CancelFolder("a")

	mu.Lock()
	assert.ElementsMatch(t, []string{"a1", "a2"}, failed)
	mu.Unlock()

	snap := p.Snapshot()
	assert.Equal(t, 1, snap.Queued)
	assert.Equal(t, 1, snap.ByFolder["b"])

	p.Close()
}

func TestPool_CancelFolderSuppressesInFlight(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 8})
	g := newGatedEmbed()

	completed := make(chan string, 2)
	submit := func(folder, label string) {
		b := batch(folder, 0, 1, g.fn(label), func([][]float32, error) {
			completed <- label
		})
		require.NoError(t, p.Submit(context.Background(), b))
	}

	p.Start(context.Background())
	defer p.Close()

	submit("a", "a1")
	require.Equal(t, "a1", g.waitStarted(t))

	// Cancel while a1 is mid-embed, then let it finish.
	p.CancelFolder("a")
	close(g.release)

	// A batch submitted after the cancel completes normally.
	submit("a", "a2")
	require.Equal(t, "a2", g.waitStarted(t))

	select {
	case label := <-completed:
		assert.Equal(t, "a2", label, "suppressed batch must not report completion")
	case <-time.After(5 * time.Second):
		t.Fatal("post-cancel batch never completed")
	}
	select {
	case label := <-completed:
		t.Fatalf("unexpected extra completion %q", label)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPool_CloseFailsQueuedBatches(t *testing.T) {
	p := New(Options{Workers: 1, QueueDepth: 8})

	failed := make(chan error, 1)
	b := batch("a", 0, 1, echoEmbed, func(_ [][]float32, err error) { failed <- err })
	require.NoError(t, p.Submit(context.Background(), b))

	p.Close()

	select {
	case err := <-failed:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queued batch not failed on close")
	}

	err := p.Submit(context.Background(), batch("a", 0, 1, echoEmbed, nil))
	require.Error(t, err)
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	p := New(Options{Workers: 2, QueueDepth: 8})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	done := make(chan struct{}, 1)
	b := batch("a", 0, 1, echoEmbed, func([][]float32, error) { done <- struct{}{} })
	require.NoError(t, p.Submit(context.Background(), b))
	<-done

	cancel()
	p.Close()

	err := p.Submit(context.Background(), batch("a", 0, 1, echoEmbed, nil))
	require.Error(t, err)
}

func TestPool_SnapshotCounts(t *testing.T) {
	p := New(Options{Workers: 3, QueueDepth: 8})

	require.NoError(t, p.Submit(context.Background(), batch("a", 0, 1, echoEmbed, nil)))
	require.NoError(t, p.Submit(context.Background(), batch("b", 0, 1, echoEmbed, nil)))

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.Queued)
	assert.Equal(t, 0, snap.InFlight)
	assert.Equal(t, 3, snap.Workers)
	assert.Equal(t, 1, snap.ByFolder["a"])
	assert.Equal(t, 1, snap.ByFolder["b"])

	p.Close()
}

func TestDefaultWorkers(t *testing.T) {
	w := DefaultWorkers()
	assert.GreaterOrEqual(t, w, 1)
	assert.LessOrEqual(t, w, 4)
}
