package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// MLX engine constants. MLX serves Apple-Silicon-native inference over a
// small local HTTP API.
const (
	// DefaultMLXEndpoint is the default MLX server URL.
	DefaultMLXEndpoint = "http://localhost:9659"

	// mlxConnectTimeout bounds the initial reachability check.
	mlxConnectTimeout = 5 * time.Second

	// mlxBatchRetries is the attempt budget per batch: the initial request
	// plus one retry.
	mlxBatchRetries = 2
)

// MLXConfig configures the MLX embedder.
type MLXConfig struct {
	// Endpoint is the MLX server URL (default http://localhost:9659).
	Endpoint string

	// Tag is the server-side model name to embed with.
	Tag string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize splits large inputs into server requests.
	BatchSize int

	// SkipHealthCheck skips the reachability check during creation.
	SkipHealthCheck bool
}

// MLXEmbedder generates embeddings through an MLX server.
type MLXEmbedder struct {
	client *http.Client
	config MLXConfig
	log    *slog.Logger

	mu       sync.RWMutex
	closed   bool
	dims     int
	lastCall time.Time
}

var _ Embedder = (*MLXEmbedder)(nil)

// mlxEmbedRequest is the /embed_batch request body.
type mlxEmbedRequest struct {
	Model string   `json:"model,omitempty"`
	Texts []string `json:"texts"`
}

// mlxEmbedResponse is the /embed_batch response body.
type mlxEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model,omitempty"`
	Dimensions int         `json:"dimensions,omitempty"`
}

// NewMLXEmbedder creates an MLX embedder and, unless skipped, checks that
// the server is reachable.
func NewMLXEmbedder(ctx context.Context, cfg MLXConfig, log *slog.Logger) (*MLXEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMLXEndpoint
	}
	if cfg.BatchSize < MinBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if log == nil {
		log = slog.Default()
	}

	e := &MLXEmbedder{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        ollamaPoolSize,
			MaxIdleConnsPerHost: ollamaPoolSize,
			IdleConnTimeout:     10 * time.Second,
		}},
		config: cfg,
		log:    log,
		dims:   cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, mlxConnectTimeout)
		defer cancel()
		if !e.healthy(checkCtx) {
			return nil, errors.New(errors.ErrCodeEngineUnreachable,
				fmt.Sprintf("mlx server is not reachable at %s", cfg.Endpoint), nil).
				WithSuggestion("start the mlx embedding server or point embeddings.mlx_endpoint at a running instance")
		}
	}

	return e, nil
}

// healthy probes the server's /health endpoint.
func (e *MLXEmbedder) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Embed generates the embedding for a single text.
func (e *MLXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		e.mu.RLock()
		dims := e.dims
		e.mu.RUnlock()
		return make([]float32, dims), nil
	}

	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New(errors.ErrCodeInferenceFailed, "mlx returned no embedding", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting at the
// configured batch size.
func (e *MLXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}
	dims := e.dims
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := min(start+e.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// timeout returns the cold timeout when the model has likely been evicted,
// the warm timeout otherwise.
func (e *MLXEmbedder) timeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

// embedWithRetry performs one server batch with a single retry.
func (e *MLXEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < mlxBatchRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout())
		embeddings, err := e.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			e.mu.Lock()
			e.lastCall = time.Now()
			if e.dims == 0 && len(embeddings) > 0 {
				e.dims = len(embeddings[0])
			}
			e.mu.Unlock()
			return embeddings, nil
		}
		lastErr = err

		e.log.Debug("mlx embedding attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, errors.New(errors.ErrCodeInferenceFailed,
		fmt.Sprintf("batch of %d failed after retry", len(texts)), lastErr)
}

// doEmbed performs a single /embed_batch request.
func (e *MLXEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(mlxEmbedRequest{Model: e.config.Tag, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/embed_batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResult mlxEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResult.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResult.Embeddings))
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = normalizeVector(embedding)
	}
	return embeddings, nil
}

// Dimensions returns the embedding vector width. Zero until configured or
// the first embedding fixes it.
func (e *MLXEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the server-side model name.
func (e *MLXEmbedder) ModelName() string {
	return e.config.Tag
}

// Available reports whether the server answers its health endpoint.
func (e *MLXEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()
	return e.healthy(ctx)
}

// Close releases idle connections.
func (e *MLXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
