package embed

import (
	"bufio"
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

// Ollama engine constants.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// ollamaConnectTimeout bounds the initial reachability check.
	ollamaConnectTimeout = 5 * time.Second

	// ollamaPoolSize sizes the HTTP connection pool.
	ollamaPoolSize = 4

	// ollamaBatchRetries is the attempt budget per batch: the initial
	// request plus one retry, then the batch fails.
	ollamaBatchRetries = 2
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default http://localhost:11434).
	Host string

	// Tag is the engine-side model name to embed with.
	Tag string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize splits large inputs into engine requests.
	BatchSize int

	// SkipHealthCheck skips the reachability check during creation.
	SkipHealthCheck bool
}

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	log       *slog.Logger
	dims      int

	mu       sync.RWMutex
	closed   bool
	lastCall time.Time
}

var _ Embedder = (*OllamaEmbedder)(nil)

// ollamaEmbedRequest is the /api/embed request body.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the /api/tags response body.
type ollamaTagsResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

// ollamaModelInfo describes one installed model.
type ollamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// ollamaPullRequest is the /api/pull request body.
type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ollamaPullEvent is one line of the streamed /api/pull response.
type ollamaPullEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewOllamaEmbedder creates an Ollama embedder and, unless skipped, checks
// that the engine is reachable. Model readiness is a separate step
// (EnsureModel) so the caller can surface download progress.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig, log *slog.Logger) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Tag == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "ollama model tag is required", nil)
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

	// Client timeout stays unset: per-request context deadlines decide,
	// and a static client timeout would override them.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		log:       log,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
		defer cancel()
		if _, err := e.listModels(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, errors.New(errors.ErrCodeEngineUnreachable,
				fmt.Sprintf("ollama is not reachable at %s", cfg.Host), err).
				WithSuggestion("start ollama with 'ollama serve' or point embeddings.ollama_host at a running instance")
		}
	}

	return e, nil
}

// listModels fetches the engine's installed models.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Models, nil
}

// HasModel reports whether the engine already has the configured tag.
func (e *OllamaEmbedder) HasModel(ctx context.Context) (bool, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return false, err
	}
	want := strings.ToLower(e.config.Tag)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want {
			return true, nil
		}
		// A bare tag matches any installed variant of the same base name.
		if !strings.Contains(want, ":") && strings.SplitN(name, ":", 2)[0] == want {
			return true, nil
		}
	}
	return false, nil
}

// EnsureModel pulls the configured tag through the engine when it is not
// installed yet. progressFn receives (completed, total) bytes as the pull
// streams; total may be zero while the engine resolves the manifest.
func (e *OllamaEmbedder) EnsureModel(ctx context.Context, progressFn func(completed, total int64)) error {
	has, err := e.HasModel(ctx)
	if err != nil {
		return errors.New(errors.ErrCodeEngineUnreachable, "cannot list ollama models", err)
	}
	if has {
		return nil
	}

	e.log.Info("pulling model through ollama", slog.String("tag", e.config.Tag))

	body, err := json.Marshal(ollamaPullRequest{Model: e.config.Tag, Stream: true})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.New(errors.ErrCodeModelDownload,
			fmt.Sprintf("pull %s failed", e.config.Tag), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.New(errors.ErrCodeModelDownload,
			fmt.Sprintf("pull %s failed with status %d: %s", e.config.Tag, resp.StatusCode, string(respBody)), nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev ollamaPullEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Error != "" {
			return errors.New(errors.ErrCodeModelDownload,
				fmt.Sprintf("pull %s failed: %s", e.config.Tag, ev.Error), nil)
		}
		if progressFn != nil && ev.Total > 0 {
			progressFn(ev.Completed, ev.Total)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(errors.ErrCodeModelDownload,
			fmt.Sprintf("pull %s stream interrupted", e.config.Tag), err)
	}
	return nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}
	e.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New(errors.ErrCodeInferenceFailed, "ollama returned no embedding", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using the engine's
// batch API, splitting at the configured batch size. Empty inputs map to
// zero vectors without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}
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
			results[i] = make([]float32, e.dims)
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

// timeout returns the cold timeout when the model has likely been unloaded
// by the engine, the warm timeout otherwise.
func (e *OllamaEmbedder) timeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

// embedWithRetry performs one engine batch with a single retry. A second
// failure fails the batch.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < ollamaBatchRetries; attempt++ {
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
			e.mu.Unlock()
			return embeddings, nil
		}
		lastErr = err

		e.log.Debug("embedding attempt failed",
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

// doEmbed performs a single /api/embed request. The request runs in a
// goroutine so cancellation interrupts a stalled read instead of waiting
// out the HTTP timeout.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Tag, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		embeddings [][]float32
		err        error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			resultCh <- result{nil, err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		var apiResult ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, fmt.Errorf("decode response: %w", err)}
			return
		}

		embeddings := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			embedding := make([]float32, len(emb))
			for j, v := range emb {
				embedding[j] = float32(v)
			}
			embeddings[i] = normalizeVector(embedding)
		}
		resultCh <- result{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		e.forceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err == nil && e.dims == 0 && len(r.embeddings) > 0 {
			e.mu.Lock()
			e.dims = len(r.embeddings[0])
			e.mu.Unlock()
		}
		return r.embeddings, r.err
	}
}

// Dimensions returns the embedding vector width. Zero until configured or
// the first embedding fixes it.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the engine-side tag.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Tag
}

// Available reports whether the engine is reachable and holds the tag.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	has, err := e.HasModel(ctx)
	return err == nil && has
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// forceCloseConnections replaces the transport so in-flight reads error out
// instead of blocking shutdown.
func (e *OllamaEmbedder) forceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return
	}
	e.transport.CloseIdleConnections()
	e.transport = &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   true,
	}
	e.client.Transport = e.transport
}
