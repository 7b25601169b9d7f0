// Package telemetry records per-folder search telemetry for diagnostics.
// Every query leaves one raw row in the folder's store, and term
// frequencies are batched in memory and flushed periodically. Nothing
// leaves the machine.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/foldermcp/foldermcp/internal/store"
	"github.com/foldermcp/foldermcp/internal/text"
)

// Query type labels, stable across the wire.
const (
	TypeSemantic  = "semantic"
	TypeKeyword   = "keyword"
	TypeSubstring = "substring"
)

// DefaultFlushInterval is how often pending term counts reach the store.
const DefaultFlushInterval = 60 * time.Second

// termCapacity bounds the pending term set between flushes. Cold terms
// evicted before a flush lose that window's counts; bounded memory wins
// over exact totals here.
const termCapacity = 256

// minTermLength drops tokens too short to carry retrieval signal.
const minTermLength = 3

// Event is one observed query.
type Event struct {
	Query       string
	Type        string
	Fallback    string
	ResultCount int
	Latency     time.Duration
}

// Snapshot is the per-folder telemetry view served by diagnostics.
type Snapshot struct {
	TotalQueries int                     `json:"total_queries"`
	AvgLatencyMS float64                 `json:"avg_latency_ms"`
	ByType       map[string]int          `json:"by_type"`
	Daily        []store.DailyQueryCount `json:"daily"`
	TopTerms     []store.TermCount       `json:"top_terms"`
	Latency      map[string]int          `json:"latency_histogram"`
}

// Recorder persists query telemetry into one folder's store. Recording
// failures are logged and swallowed; telemetry must never fail a search.
// Safe for concurrent use.
type Recorder struct {
	store *store.Store
	log   *slog.Logger

	mu     sync.Mutex
	terms  *lru.Cache[string, int64]
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewRecorder starts a recorder that flushes term counts every interval.
// interval <= 0 takes DefaultFlushInterval.
func NewRecorder(st *store.Store, interval time.Duration, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	terms, _ := lru.New[string, int64](termCapacity)
	r := &Recorder{
		store: st,
		log:   log,
		terms: terms,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.flushLoop(interval)
	return r
}

func (r *Recorder) flushLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = r.Flush(context.Background())
		case <-r.stop:
			return
		}
	}
}

// Record captures one query observation. Non-blocking apart from the raw
// row insert, which shares the store's serialized connection.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for _, term := range ExtractTerms(ev.Query) {
		count, _ := r.terms.Get(term)
		r.terms.Add(term, count+1)
	}
	r.mu.Unlock()

	err := r.store.RecordSearchMetric(ctx, &store.SearchMetric{
		QueryType:   ev.Type,
		LatencyMS:   ev.Latency.Milliseconds(),
		ResultCount: ev.ResultCount,
		Fallback:    ev.Fallback,
	})
	if err != nil {
		r.log.Warn("query metric dropped", slog.String("error", err.Error()))
	}
}

// Flush writes the pending term counts to the store and clears them.
// Counts drained from memory are lost if the write fails; the next
// window starts clean either way.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil
	}
	return r.flushTerms(ctx)
}

func (r *Recorder) flushTerms(ctx context.Context) error {
	r.mu.Lock()
	pending := make(map[string]int64, r.terms.Len())
	for _, term := range r.terms.Keys() {
		if count, ok := r.terms.Get(term); ok {
			pending[term] = count
		}
	}
	r.terms.Purge()
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := r.store.UpsertQueryTerms(ctx, pending); err != nil {
		r.log.Warn("term flush failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Snapshot flushes pending terms and assembles the diagnostics view.
func (r *Recorder) Snapshot(ctx context.Context) (*Snapshot, error) {
	_ = r.Flush(ctx)

	summary, err := r.store.SearchMetricsStats(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := r.store.DailyQueryCounts(ctx, 30)
	if err != nil {
		return nil, err
	}
	terms, err := r.store.TopQueryTerms(ctx, 20)
	if err != nil {
		return nil, err
	}
	hist, err := r.store.QueryLatencyHistogram(ctx)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		TotalQueries: summary.TotalQueries,
		AvgLatencyMS: summary.AvgLatencyMS,
		ByType:       summary.ByType,
		Daily:        daily,
		TopTerms:     terms,
		Latency:      hist,
	}, nil
}

// Close stops the flush loop and writes out whatever is pending. The
// recorder ignores further events; the store stays open for its owner.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	<-r.done
	return r.flushTerms(context.Background())
}

// ExtractTerms returns the lowercased content-bearing terms of a query:
// tokenized, stop words removed, short tokens dropped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, tok := range text.FilterStopWords(text.Tokenize(query)) {
		if len([]rune(tok)) >= minTermLength {
			terms = append(terms, tok)
		}
	}
	return terms
}
