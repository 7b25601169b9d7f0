package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/text"
)

// Builtin vector composition weights. Token hashing carries most of the
// signal; character n-grams add robustness to small spelling variation.
const (
	builtinTokenWeight = 0.7
	builtinNgramWeight = 0.3
	builtinNgramSize   = 3
)

// BuiltinEmbedder generates deterministic hash-based embeddings in process.
// It needs no engine, no network, and no model download, at the cost of
// semantic quality. It backs the compact catalog models and every test that
// needs real vectors.
type BuiltinEmbedder struct {
	dims      int
	modelName string

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*BuiltinEmbedder)(nil)

// NewBuiltinEmbedder creates a builtin embedder producing dims-wide vectors
// under the given model name.
func NewBuiltinEmbedder(dims int, modelName string) *BuiltinEmbedder {
	if dims <= 0 {
		dims = 384
	}
	if modelName == "" {
		modelName = "builtin"
	}
	return &BuiltinEmbedder{dims: dims, modelName: modelName}
}

// Embed generates the embedding for a single text.
func (e *BuiltinEmbedder) Embed(_ context.Context, input string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *BuiltinEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		emb, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		results[i] = emb
	}
	return results, nil
}

// generateVector hashes tokens and character n-grams into vector positions.
func (e *BuiltinEmbedder) generateVector(input string) []float32 {
	vector := make([]float32, e.dims)

	for _, token := range text.FilterStopWords(text.TokenizeCode(input)) {
		vector[hashToIndex(token, e.dims)] += builtinTokenWeight
	}

	normalized := stripNonAlnum(input)
	for i := 0; i+builtinNgramSize <= len(normalized); i++ {
		vector[hashToIndex(normalized[i:i+builtinNgramSize], e.dims)] += builtinNgramWeight
	}

	return vector
}

// stripNonAlnum lowercases and removes everything but letters and digits,
// preparing text for character n-gram extraction.
func stripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashToIndex maps a string to a vector position with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding vector width.
func (e *BuiltinEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *BuiltinEmbedder) ModelName() string {
	return e.modelName
}

// Available reports readiness; the builtin embedder is ready until closed.
func (e *BuiltinEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *BuiltinEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
