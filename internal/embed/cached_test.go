package embed

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder is a test double that counts engine calls.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchTexts atomic.Int64
	dims       int
	name       string
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{dims: dims, name: "counting-model"}
}

func (m *countingEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, m.dims)
	for i := range vec {
		vec[i] = float32(len(text)+i) * 0.001
	}
	return vec
}

func (m *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vectorFor(text), nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchTexts.Add(int64(len(texts)))
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = m.vectorFor(t)
	}
	return result, nil
}

func (m *countingEmbedder) Dimensions() int                  { return m.dims }
func (m *countingEmbedder) ModelName() string                { return m.name }
func (m *countingEmbedder) Available(_ context.Context) bool { return true }
func (m *countingEmbedder) Close() error                     { return nil }

func TestCachedEmbedder_HitSkipsInner(t *testing.T) {
	inner := newCountingEmbedder(768)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	text := "func add(a, b int) int { return a + b }"

	first, err := cached.Embed(context.Background(), text)
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, first, second)
}

func TestCachedEmbedder_MissCallsInner(t *testing.T) {
	inner := newCountingEmbedder(768)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	_, err := cached.Embed(context.Background(), "text one")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "text two")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_BatchForwardsOnlyMisses(t *testing.T) {
	inner := newCountingEmbedder(384)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	_, err := cached.Embed(context.Background(), "warm")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(context.Background(), []string{"cold one", "warm", "cold two"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Only the two cold texts reach the engine.
	assert.Equal(t, int64(1), inner.batchCalls.Load())
	assert.Equal(t, int64(2), inner.batchTexts.Load())

	warm, err := cached.Embed(context.Background(), "warm")
	require.NoError(t, err)
	assert.Equal(t, warm, results[1])
}

func TestCachedEmbedder_AllCachedBatchSkipsEngine(t *testing.T) {
	inner := newCountingEmbedder(384)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	texts := []string{"a", "b", "c"}
	_, err := cached.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	calls := inner.batchCalls.Load()

	_, err = cached.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, calls, inner.batchCalls.Load())
}

func TestCachedEmbedder_EvictionRecomputes(t *testing.T) {
	inner := newCountingEmbedder(128)
	cached := NewCachedEmbedder(inner, 2)
	defer func() { _ = cached.Close() }()

	for i := range 3 {
		_, err := cached.Embed(context.Background(), fmt.Sprintf("text %d", i))
		require.NoError(t, err)
	}

	// "text 0" has been evicted by now.
	_, err := cached.Embed(context.Background(), "text 0")
	require.NoError(t, err)
	assert.Equal(t, int64(4), inner.embedCalls.Load())
}

func TestCachedEmbedder_Passthroughs(t *testing.T) {
	inner := newCountingEmbedder(512)
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	assert.Equal(t, 512, cached.Dimensions())
	assert.Equal(t, "counting-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, Embedder(inner), cached.Inner())
}
