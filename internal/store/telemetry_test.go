package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SearchMetricsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{
		QueryType: "semantic", LatencyMS: 12, ResultCount: 5,
	}))
	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{
		QueryType: "keyword", LatencyMS: 3, ResultCount: 2,
	}))
	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{
		QueryType: "semantic", LatencyMS: 18, ResultCount: 8, Fallback: "substring",
	}))

	recent, err := s.RecentSearchMetrics(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(18), recent[0].LatencyMS)
	assert.Equal(t, "substring", recent[0].Fallback)
	assert.Equal(t, "keyword", recent[1].QueryType)
	assert.False(t, recent[0].RecordedAt.IsZero())

	all, err := s.RecentSearchMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_SearchMetricsStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summary, err := s.SearchMetricsStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalQueries)
	assert.Zero(t, summary.AvgLatencyMS)

	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{QueryType: "semantic", LatencyMS: 10, ResultCount: 1}))
	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{QueryType: "semantic", LatencyMS: 20, ResultCount: 1}))
	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{QueryType: "keyword", LatencyMS: 6, ResultCount: 0}))

	summary, err = s.SearchMetricsStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalQueries)
	assert.InDelta(t, 12.0, summary.AvgLatencyMS, 1e-9)
	assert.Equal(t, map[string]int{"semantic": 2, "keyword": 1}, summary.ByType)
}

func TestStore_QueryTermsAccumulate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertQueryTerms(ctx, map[string]int64{"quarterly": 2, "report": 1}))
	require.NoError(t, s.UpsertQueryTerms(ctx, map[string]int64{"quarterly": 1}))
	require.NoError(t, s.UpsertQueryTerms(ctx, nil))

	terms, err := s.TopQueryTerms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, TermCount{Term: "quarterly", Count: 3}, terms[0])
	assert.Equal(t, TermCount{Term: "report", Count: 1}, terms[1])

	capped, err := s.TopQueryTerms(ctx, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "quarterly", capped[0].Term)
}

func TestStore_DailyQueryCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{QueryType: "semantic", LatencyMS: 10, ResultCount: 3}))
	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{QueryType: "semantic", LatencyMS: 20, ResultCount: 1}))
	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{QueryType: "keyword", LatencyMS: 2, ResultCount: 4}))

	counts, err := s.DailyQueryCounts(ctx, 7)
	require.NoError(t, err)
	require.Len(t, counts, 2)

	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, DailyQueryCount{Date: today, QueryType: "keyword", Count: 1}, counts[0])
	assert.Equal(t, DailyQueryCount{Date: today, QueryType: "semantic", Count: 2}, counts[1])
}

func TestStore_QueryLatencyHistogram(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hist, err := s.QueryLatencyHistogram(ctx)
	require.NoError(t, err)
	require.Len(t, hist, len(LatencyBuckets))
	for _, label := range LatencyBuckets {
		assert.Zero(t, hist[label])
	}

	for _, ms := range []int64{4, 30, 75, 200, 900} {
		require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{
			QueryType: "semantic", LatencyMS: ms, ResultCount: 1,
		}))
	}
	require.NoError(t, s.RecordSearchMetric(ctx, &SearchMetric{
		QueryType: "keyword", LatencyMS: 2, ResultCount: 1,
	}))

	hist, err = s.QueryLatencyHistogram(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, hist["<10ms"])
	assert.Equal(t, 1, hist["10-50ms"])
	assert.Equal(t, 1, hist["50-100ms"])
	assert.Equal(t, 1, hist["100-500ms"])
	assert.Equal(t, 1, hist[">=500ms"])
}

func TestLatencyBucket(t *testing.T) {
	assert.Equal(t, "<10ms", LatencyBucket(0))
	assert.Equal(t, "<10ms", LatencyBucket(9))
	assert.Equal(t, "10-50ms", LatencyBucket(10))
	assert.Equal(t, "50-100ms", LatencyBucket(99))
	assert.Equal(t, "100-500ms", LatencyBucket(100))
	assert.Equal(t, ">=500ms", LatencyBucket(500))
	assert.Equal(t, ">=500ms", LatencyBucket(12000))
}
