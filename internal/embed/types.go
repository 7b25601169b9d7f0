// Package embed turns chunk text into L2-normalized vectors. It selects an
// execution backend from the hardware profile, keeps model artifacts in a
// content-addressed cache, and exposes a thread-safe Embedder that the
// worker pool shares across folders.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch size bounds. The effective batch size comes from config or from the
// hardware-derived hint; these clamp whatever arrives.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 16
)

// Engine HTTP timeouts. Warm requests hit a loaded model; cold requests may
// wait for the engine to page the model in.
const (
	DefaultWarmTimeout = 60 * time.Second
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is how long an engine keeps a model resident
	// after the last request. Past it the next call gets the cold timeout.
	ModelUnloadThreshold = 5 * time.Minute
)

// Embedder generates vector embeddings for text. Implementations are safe
// for concurrent use; output vectors are L2-normalized and order-preserving.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, one vector per
	// input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder can serve requests right now.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors pass through
// unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
