package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama stands in for a local Ollama engine.
type fakeOllama struct {
	t          *testing.T
	mu         sync.Mutex
	models     []string
	dims       int
	embedCalls atomic.Int64
	failFirst  atomic.Int64 // embed requests to fail before succeeding
	pullCalls  atomic.Int64
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		models := make([]ollamaModelInfo, len(f.models))
		for i, name := range f.models {
			models[i] = ollamaModelInfo{Name: name}
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(ollamaTagsResponse{Models: models})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		if f.failFirst.Load() > 0 {
			f.failFirst.Add(-1)
			http.Error(w, "model is loading", http.StatusInternalServerError)
			return
		}
		var req ollamaEmbedRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

		var count int
		switch input := req.Input.(type) {
		case string:
			count = 1
		case []any:
			count = len(input)
		}
		embeddings := make([][]float64, count)
		for i := range embeddings {
			vec := make([]float64, f.dims)
			for j := range vec {
				vec[j] = float64(i+j) + 1
			}
			embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: req.Model, Embeddings: embeddings})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		f.pullCalls.Add(1)
		var req ollamaPullRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		enc := json.NewEncoder(w)
		_ = enc.Encode(ollamaPullEvent{Status: "pulling manifest"})
		_ = enc.Encode(ollamaPullEvent{Status: "downloading", Total: 100, Completed: 50})
		_ = enc.Encode(ollamaPullEvent{Status: "downloading", Total: 100, Completed: 100})
		_ = enc.Encode(ollamaPullEvent{Status: "success"})
		f.mu.Lock()
		f.models = append(f.models, req.Model)
		f.mu.Unlock()
	})
	return mux
}

func startFakeOllama(t *testing.T, f *fakeOllama) string {
	t.Helper()
	f.t = t
	if f.dims == 0 {
		f.dims = 8
	}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestOllamaEmbedder_EmbedNormalizes(t *testing.T) {
	host := startFakeOllama(t, &fakeOllama{models: []string{"test:latest"}})

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: host, Tag: "test:latest"}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 8)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
	assert.Equal(t, 8, e.Dimensions(), "dims fixed by first embedding")
}

func TestOllamaEmbedder_BatchSplitsAndPreservesOrder(t *testing.T) {
	fake := &fakeOllama{models: []string{"test:latest"}}
	host := startFakeOllama(t, fake)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:      host,
		Tag:       "test:latest",
		BatchSize: 2,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	texts := []string{"one", "two", "three", "four", "five"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	// 5 texts at batch size 2 → 3 engine requests.
	assert.Equal(t, int64(3), fake.embedCalls.Load())
	for i, v := range vectors {
		assert.Len(t, v, 8, "index %d", i)
	}
}

func TestOllamaEmbedder_EmptyTextsSkipEngine(t *testing.T) {
	fake := &fakeOllama{models: []string{"test:latest"}}
	host := startFakeOllama(t, fake)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: host, Tag: "test:latest", Dimensions: 8}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vectors, err := e.EmbedBatch(context.Background(), []string{"", "   ", "\n"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, int64(0), fake.embedCalls.Load())
	for _, v := range vectors {
		assert.Equal(t, make([]float32, 8), v)
	}
}

func TestOllamaEmbedder_OneRetryThenFail(t *testing.T) {
	fake := &fakeOllama{models: []string{"test:latest"}}
	fake.failFirst.Store(10) // fail every attempt in this test
	host := startFakeOllama(t, fake)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: host, Tag: "test:latest"}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.EmbedBatch(context.Background(), []string{"doomed"})
	require.Error(t, err)

	// Initial attempt plus exactly one retry.
	assert.Equal(t, int64(2), fake.embedCalls.Load())
}

func TestOllamaEmbedder_RetrySucceeds(t *testing.T) {
	fake := &fakeOllama{models: []string{"test:latest"}}
	fake.failFirst.Store(1)
	host := startFakeOllama(t, fake)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: host, Tag: "test:latest"}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vectors, err := e.EmbedBatch(context.Background(), []string{"recovers"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int64(2), fake.embedCalls.Load())
}

func TestOllamaEmbedder_UnreachableEngineFailsCreation(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: "http://127.0.0.1:1", // nothing listens here
		Tag:  "test:latest",
	}, nil)
	assert.Error(t, err)
}

func TestOllamaEmbedder_HasModel(t *testing.T) {
	host := startFakeOllama(t, &fakeOllama{models: []string{"qwen3-embedding:0.6b", "other:latest"}})

	tests := []struct {
		tag  string
		want bool
	}{
		{"qwen3-embedding:0.6b", true},
		{"qwen3-embedding", true}, // bare tag matches any variant
		{"missing:latest", false},
	}
	for _, tt := range tests {
		e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: host, Tag: tt.tag, SkipHealthCheck: true}, nil)
		require.NoError(t, err)
		has, err := e.HasModel(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, has, tt.tag)
		_ = e.Close()
	}
}

func TestOllamaEmbedder_EnsureModelPullsWhenMissing(t *testing.T) {
	fake := &fakeOllama{models: []string{"other:latest"}}
	host := startFakeOllama(t, fake)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: host, Tag: "wanted:latest"}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	var lastDone, lastTotal int64
	require.NoError(t, e.EnsureModel(context.Background(), func(done, total int64) {
		lastDone, lastTotal = done, total
	}))

	assert.Equal(t, int64(1), fake.pullCalls.Load())
	assert.Equal(t, int64(100), lastDone)
	assert.Equal(t, int64(100), lastTotal)

	// Now installed: a second ensure is a no-op.
	require.NoError(t, e.EnsureModel(context.Background(), nil))
	assert.Equal(t, int64(1), fake.pullCalls.Load())
}

func TestOllamaEmbedder_RequiresTag(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: "http://localhost:11434", SkipHealthCheck: true}, nil)
	assert.Error(t, err)
}
