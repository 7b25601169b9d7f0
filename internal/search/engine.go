package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/store"
	"github.com/foldermcp/foldermcp/internal/telemetry"
)

// Queries at or under both limits embed poorly and the keyword index answers
// them better, so they skip the semantic path.
const (
	shortQueryMaxTerms = 2
	shortQueryMaxRunes = 12
)

// Embedder turns query text into vectors. The lifecycle engine's embed
// session satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine answers queries for one folder. It reads the folder's store and
// shares the folder's embed session; it owns neither and has no Close.
type Engine struct {
	store    *store.Store
	embedder Embedder
	opts     Options
	metrics  *telemetry.Recorder
	log      *slog.Logger
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithMetrics wires a telemetry recorder. Every query is recorded on it,
// including the ones that fell back or returned nothing.
func WithMetrics(rec *telemetry.Recorder) Option {
	return func(e *Engine) { e.metrics = rec }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New builds an engine over a folder's store. A nil embedder is allowed: the
// engine then serves only the keyword and substring paths, which keeps
// search available while the folder's model is down.
func New(st *store.Store, embedder Embedder, opts Options, extra ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "search engine requires a store", nil)
	}
	e := &Engine{
		store:    st,
		embedder: embedder,
		opts:     opts.withDefaults(),
		log:      slog.Default(),
	}
	for _, fn := range extra {
		fn(e)
	}
	return e, nil
}

// Search answers one query. It never returns an error for a degraded or
// empty answer; those come back as a Result with Fallback or Reason set.
// When the soft deadline expires mid-query the result carries whatever was
// ranked so far with Truncated set.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "search query is empty", nil)
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	res, err := e.run(ctx, query, req)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	e.record(query, res)
	return res, nil
}

func (e *Engine) run(ctx context.Context, query string, req Request) (*Result, error) {
	res := &Result{QueryType: telemetry.TypeSemantic}

	total, err := e.store.CountChunks(ctx)
	if err != nil {
		return partialOnExpiry(ctx, res, err)
	}
	if total == 0 {
		res.Reason = "nothing is indexed in this folder yet"
		return res, nil
	}

	var candidates []*Match
	if isShortQuery(query) {
		res.QueryType = telemetry.TypeKeyword
		res.Fallback = telemetry.TypeKeyword
		res.Reason = "short query answered by the keyword index"
		candidates, err = e.keywordCandidates(ctx, query, req)
	} else {
		candidates, err = e.semanticCandidates(ctx, query, req, res)
	}
	if err != nil {
		if ctx.Err() == nil {
			return nil, err
		}
		// Deadline hit mid-retrieval. Whatever ranked before it still goes
		// out, marked truncated.
		res.Truncated = true
		if res.Reason == "" {
			res.Reason = "search deadline expired"
		}
	}

	e.assemble(ctx, res, candidates, req)
	return res, nil
}

// semanticCandidates embeds the query and re-ranks the ANN hits. When the
// embedding fails it degrades to the substring scan and marks res
// accordingly; a failure caused by the deadline is not a degradation and
// surfaces as the error instead.
func (e *Engine) semanticCandidates(ctx context.Context, query string, req Request, res *Result) ([]*Match, error) {
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		e.log.Warn("query embedding failed, scanning recent documents",
			slog.String("folder", e.store.FolderPath()),
			slog.String("error", err.Error()))
		res.QueryType = telemetry.TypeSubstring
		res.Fallback = telemetry.TypeSubstring
		res.Reason = "query embedding failed; matched literally against recent documents"
		return e.substringCandidates(ctx, query, req)
	}

	hits, err := e.store.VectorSearch(ctx, vec, e.topK(req))
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "vector search failed", err)
	}
	if len(hits) == 0 {
		res.Reason = "no indexed chunk is close to the query"
		return nil, nil
	}

	rowids := make([]int64, len(hits))
	for i, hit := range hits {
		rowids[i] = hit.Rowid
	}
	records, err := e.store.GetChunksByRowids(ctx, rowids)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "candidate chunk fetch failed", err)
	}
	byRowid := make(map[int64]*store.ChunkRecord, len(records))
	for _, rec := range records {
		byRowid[rec.Rowid] = rec
	}

	var modTimes map[int64]time.Time
	if e.opts.RecencyWeight > 0 {
		modTimes = e.documentModTimes(ctx, records)
	}

	terms := telemetry.ExtractTerms(query)
	now := time.Now()

	// Walk hits in ANN order so equal composite scores keep the vector
	// ranking under the stable sort.
	candidates := make([]*Match, 0, len(hits))
	for _, hit := range hits {
		rec, ok := byRowid[hit.Rowid]
		if !ok {
			// Vector present but row gone; Reconcile heals this on open.
			continue
		}
		if !matchesFilters(rec, req) {
			continue
		}
		if e.opts.ReadabilityFloor > 0 && rec.Readability < e.opts.ReadabilityFloor {
			continue
		}
		m := &Match{Chunk: rec, Cosine: float64(hit.Score)}
		m.PhraseBonus, m.MatchedPhrases = e.phraseBonus(terms, rec.KeyPhrases)
		m.RecencyBonus = e.recencyBonus(now, modTimes[rec.DocumentID])
		m.Score = m.Cosine + m.PhraseBonus + m.RecencyBonus
		if e.opts.MinScore > 0 && m.Score < e.opts.MinScore {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) == 0 && res.Reason == "" {
		res.Reason = "no candidate survived the score and filter thresholds"
	}
	return candidates, nil
}

// keywordCandidates serves short queries from the keyword index, scored by
// whatever the backend reports (BM25 for both fts5 and bleve).
func (e *Engine) keywordCandidates(ctx context.Context, query string, req Request) ([]*Match, error) {
	hits, err := e.store.KeywordSearch(ctx, query, e.topK(req))
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "keyword search failed", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	rowids := make([]int64, len(hits))
	for i, hit := range hits {
		rowids[i] = hit.Rowid
	}
	records, err := e.store.GetChunksByRowids(ctx, rowids)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "candidate chunk fetch failed", err)
	}
	byRowid := make(map[int64]*store.ChunkRecord, len(records))
	for _, rec := range records {
		byRowid[rec.Rowid] = rec
	}

	candidates := make([]*Match, 0, len(hits))
	for _, hit := range hits {
		rec, ok := byRowid[hit.Rowid]
		if !ok {
			continue
		}
		if !matchesFilters(rec, req) {
			continue
		}
		if e.opts.ReadabilityFloor > 0 && rec.Readability < e.opts.ReadabilityFloor {
			continue
		}
		candidates = append(candidates, &Match{
			Chunk:          rec,
			Score:          hit.Score,
			MatchedPhrases: hit.MatchedTerms,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}

// substringCandidates scans the most recently modified documents for a
// literal, case-insensitive occurrence of the query. Hits keep document
// recency order and all score 1.
func (e *Engine) substringCandidates(ctx context.Context, query string, req Request) ([]*Match, error) {
	docs, err := e.store.RecentDocuments(ctx, e.topK(req))
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "recent document scan failed", err)
	}

	needle := strings.ToLower(query)
	limit := e.maxResults(req)

	var candidates []*Match
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}
		if req.Document != "" && !strings.HasPrefix(doc.Path, req.Document) {
			continue
		}
		chunks, err := e.store.GetDocumentChunks(ctx, doc.Path, 0, -1)
		if err != nil {
			return candidates, errors.New(errors.ErrCodeSearchFailed, "document chunk scan failed", err)
		}
		for _, rec := range chunks {
			if !matchesFilters(rec, req) {
				continue
			}
			if !strings.Contains(strings.ToLower(rec.Content), needle) {
				continue
			}
			candidates = append(candidates, &Match{
				Chunk:          rec,
				Score:          1,
				MatchedPhrases: []string{query},
			})
			if len(candidates) >= limit {
				return candidates, nil
			}
		}
	}
	return candidates, nil
}

// assemble turns ranked candidates into the final result: caps them to the
// requested count, attaches neighbor context, and enforces the response
// budgets. The first match always ships even when it alone exceeds a
// budget; an empty response would hide the best hit. After the deadline
// expires the remaining candidates are kept without neighbor context, since
// attaching it would need store reads the expired context forbids.
func (e *Engine) assemble(ctx context.Context, res *Result, candidates []*Match, req Request) {
	if limit := e.maxResults(req); len(candidates) > limit {
		candidates = candidates[:limit]
	}

	usedChunks, usedTokens := 0, 0
	out := make([]*Match, 0, len(candidates))
	for i, m := range candidates {
		expired := ctx.Err() != nil
		if expired {
			res.Truncated = true
		}

		cost := 1
		tokens := m.Chunk.TokenEstimate
		var before, after []*store.ChunkRecord
		if e.opts.ContextWindow > 0 && !expired {
			neighbors, err := e.store.GetChunkNeighbors(ctx, m.Chunk.Rowid, e.opts.ContextWindow)
			if err != nil {
				e.log.Debug("neighbor fetch failed",
					slog.Int64("rowid", m.Chunk.Rowid),
					slog.String("error", err.Error()))
			}
			for _, n := range neighbors {
				if n.Rowid == m.Chunk.Rowid {
					continue
				}
				if n.Seq < m.Chunk.Seq {
					before = append(before, n)
				} else {
					after = append(after, n)
				}
				cost++
				tokens += n.TokenEstimate
			}
		}

		if i > 0 {
			if e.opts.MaxResponseChunks > 0 && usedChunks+cost > e.opts.MaxResponseChunks {
				res.Truncated = true
				break
			}
			if e.opts.MaxResponseTokens > 0 && usedTokens+tokens > e.opts.MaxResponseTokens {
				res.Truncated = true
				break
			}
		}

		m.Before, m.After = before, after
		out = append(out, m)
		usedChunks += cost
		usedTokens += tokens
	}

	res.Matches = out
	if len(out) == 0 && res.Reason == "" {
		res.Reason = "no chunk matched the query"
	}
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.embedder == nil {
		return nil, errors.New(errors.ErrCodeModelLoad, "no embed session is available", nil)
	}
	vecs, err := e.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected one query vector, got %d", len(vecs)), nil)
	}
	return vecs[0], nil
}

// phraseBonus rewards chunks whose key phrases contain the query terms. Each
// matched term adds PhraseBoost once, bounded by PhraseBoostCap. Terms and
// key phrases are both lowercase already except for presentation casing on
// phrases, so the comparison lowers only the phrases.
func (e *Engine) phraseBonus(terms, phrases []string) (float64, []string) {
	if e.opts.PhraseBoost <= 0 || len(terms) == 0 || len(phrases) == 0 {
		return 0, nil
	}
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}

	bonus := 0.0
	var matched []string
	seen := make(map[string]struct{}, len(phrases))
	for _, term := range terms {
		for i, p := range lowered {
			if !strings.Contains(p, term) {
				continue
			}
			bonus += e.opts.PhraseBoost
			if _, ok := seen[phrases[i]]; !ok {
				seen[phrases[i]] = struct{}{}
				matched = append(matched, phrases[i])
			}
			break
		}
	}
	if e.opts.PhraseBoostCap > 0 && bonus > e.opts.PhraseBoostCap {
		bonus = e.opts.PhraseBoostCap
	}
	return bonus, matched
}

// recencyBonus decays exponentially with document age: a document exactly
// one half-life old earns half the weight.
func (e *Engine) recencyBonus(now, modTime time.Time) float64 {
	if e.opts.RecencyWeight <= 0 || modTime.IsZero() {
		return 0
	}
	age := now.Sub(modTime)
	if age < 0 {
		age = 0
	}
	return e.opts.RecencyWeight * math.Exp2(-age.Hours()/e.opts.RecencyHalfLife.Hours())
}

// documentModTimes resolves the modification time of every document the
// candidates belong to. A document that cannot be read simply earns no
// recency bonus.
func (e *Engine) documentModTimes(ctx context.Context, records []*store.ChunkRecord) map[int64]time.Time {
	times := make(map[int64]time.Time, 4)
	for _, rec := range records {
		if _, ok := times[rec.DocumentID]; ok {
			continue
		}
		doc, err := e.store.GetDocumentByID(ctx, rec.DocumentID)
		if err != nil || doc == nil {
			continue
		}
		times[rec.DocumentID] = doc.ModTime
	}
	return times
}

func (e *Engine) record(query string, res *Result) {
	if e.metrics == nil {
		return
	}
	// Record with a fresh context so an expired search deadline cannot drop
	// the metric.
	e.metrics.Record(context.Background(), telemetry.Event{
		Query:       query,
		Type:        res.QueryType,
		Fallback:    res.Fallback,
		ResultCount: len(res.Matches),
		Latency:     res.Elapsed,
	})
}

func (e *Engine) topK(req Request) int {
	if req.TopK > 0 {
		return req.TopK
	}
	return e.opts.TopK
}

func (e *Engine) maxResults(req Request) int {
	if req.MaxResults > 0 {
		return req.MaxResults
	}
	return e.opts.MaxResults
}

func isShortQuery(query string) bool {
	return len(strings.Fields(query)) <= shortQueryMaxTerms &&
		utf8.RuneCountInString(query) < shortQueryMaxRunes
}

// partialOnExpiry converts a deadline or cancellation failure into a partial
// result with the truncation flag set; any other error passes through.
func partialOnExpiry(ctx context.Context, res *Result, err error) (*Result, error) {
	if ctx.Err() == nil {
		return nil, err
	}
	res.Matches = nil
	res.Truncated = true
	if res.Reason == "" {
		res.Reason = "search deadline expired"
	}
	return res, nil
}

func matchesFilters(rec *store.ChunkRecord, req Request) bool {
	if req.Document != "" && !strings.HasPrefix(rec.DocumentPath, req.Document) {
		return false
	}
	if len(req.Extensions) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(rec.DocumentPath), "."))
		found := false
		for _, want := range req.Extensions {
			if strings.ToLower(strings.TrimPrefix(want, ".")) == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(req.Languages) > 0 {
		found := false
		for _, want := range req.Languages {
			if strings.EqualFold(want, rec.Language) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
