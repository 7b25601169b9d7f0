package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// RecordSearchMetric stores one query observation for diagnostics. Failures
// here must never fail a search, so callers log and continue.
func (s *Store) RecordSearchMetric(ctx context.Context, m *SearchMetric) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO search_metrics (query_type, latency_ms, result_count, fallback, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.QueryType, m.LatencyMS, m.ResultCount, m.Fallback, timeToDB(m.RecordedAt))
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "metric insert failed", err)
	}
	return nil
}

// RecentSearchMetrics returns the newest recorded queries, latest first.
func (s *Store) RecentSearchMetrics(ctx context.Context, limit int) ([]*SearchMetric, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, query_type, latency_ms, result_count, fallback, recorded_at
		FROM search_metrics ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "metric query failed", err)
	}
	defer rows.Close()

	var metrics []*SearchMetric
	for rows.Next() {
		var m SearchMetric
		var recordedAt string
		if err := rows.Scan(&m.ID, &m.QueryType, &m.LatencyMS, &m.ResultCount,
			&m.Fallback, &recordedAt); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "metric scan failed", err)
		}
		m.RecordedAt = timeFromDB(recordedAt)
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// SearchMetricsStats aggregates all recorded queries.
func (s *Store) SearchMetricsStats(ctx context.Context) (*SearchMetricsSummary, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	summary := &SearchMetricsSummary{ByType: make(map[string]int)}

	var avg sql.NullFloat64
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(latency_ms) FROM search_metrics").
		Scan(&summary.TotalQueries, &avg); err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "metric summary failed", err)
	}
	if avg.Valid {
		summary.AvgLatencyMS = avg.Float64
	}

	rows, err := db.QueryContext(ctx,
		"SELECT query_type, COUNT(*) FROM search_metrics GROUP BY query_type")
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "metric summary failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var queryType string
		var count int
		if err := rows.Scan(&queryType, &count); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "metric summary scan failed", err)
		}
		summary.ByType[queryType] = count
	}
	return summary, rows.Err()
}

// LatencyBuckets are the histogram labels, fastest first.
var LatencyBuckets = []string{"<10ms", "10-50ms", "50-100ms", "100-500ms", ">=500ms"}

// LatencyBucket maps a query latency to its histogram label.
func LatencyBucket(ms int64) string {
	switch {
	case ms < 10:
		return LatencyBuckets[0]
	case ms < 50:
		return LatencyBuckets[1]
	case ms < 100:
		return LatencyBuckets[2]
	case ms < 500:
		return LatencyBuckets[3]
	default:
		return LatencyBuckets[4]
	}
}

// UpsertQueryTerms folds term frequencies into the persistent counts. The
// telemetry recorder batches terms in memory and flushes here periodically.
func (s *Store) UpsertQueryTerms(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "cannot begin term flush", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = excluded.last_seen`)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "term flush prepare failed", err)
	}
	defer stmt.Close()

	now := timeToDB(time.Now().UTC())
	for term, count := range counts {
		if _, err := stmt.ExecContext(ctx, term, count, now); err != nil {
			return errors.New(errors.ErrCodeStoreUnavailable, "term flush failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "term flush commit failed", err)
	}
	return nil
}

// TopQueryTerms returns the most frequent query terms, highest count first.
func (s *Store) TopQueryTerms(ctx context.Context, limit int) ([]TermCount, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx,
		"SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?", limit)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "term query failed", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "term scan failed", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// DailyQueryCounts aggregates recorded queries by UTC day and query type
// over the last days days, newest day first.
func (s *Store) DailyQueryCounts(ctx context.Context, days int) ([]DailyQueryCount, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}
	cutoff := timeToDB(time.Now().UTC().AddDate(0, 0, -days))

	rows, err := db.QueryContext(ctx, `
		SELECT substr(recorded_at, 1, 10) AS day, query_type, COUNT(*)
		FROM search_metrics
		WHERE recorded_at >= ?
		GROUP BY day, query_type
		ORDER BY day DESC, query_type`, cutoff)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "daily count query failed", err)
	}
	defer rows.Close()

	var counts []DailyQueryCount
	for rows.Next() {
		var dc DailyQueryCount
		if err := rows.Scan(&dc.Date, &dc.QueryType, &dc.Count); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "daily count scan failed", err)
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

// QueryLatencyHistogram buckets all recorded query latencies. Every label
// from LatencyBuckets is present, zero when empty.
func (s *Store) QueryLatencyHistogram(ctx context.Context) (map[string]int, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	hist := make(map[string]int, len(LatencyBuckets))
	for _, label := range LatencyBuckets {
		hist[label] = 0
	}

	rows, err := db.QueryContext(ctx, `
		SELECT CASE
			WHEN latency_ms < 10 THEN '<10ms'
			WHEN latency_ms < 50 THEN '10-50ms'
			WHEN latency_ms < 100 THEN '50-100ms'
			WHEN latency_ms < 500 THEN '100-500ms'
			ELSE '>=500ms'
		END AS bucket, COUNT(*)
		FROM search_metrics GROUP BY bucket`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "latency histogram failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bucket string
		var count int
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "latency histogram scan failed", err)
		}
		hist[bucket] = count
	}
	return hist, rows.Err()
}
