package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldermcp/foldermcp/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r := NewRecorder(st, time.Hour, nil)
	t.Cleanup(func() { _ = r.Close() })
	return r, st
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"quarterly", "revenue", "report"},
		ExtractTerms("The Quarterly revenue report"))
	assert.Equal(t, []string{"invoice"}, ExtractTerms("an invoice"))
	assert.Nil(t, ExtractTerms("the is a"))
	assert.Nil(t, ExtractTerms(""))
}

func TestRecorder_RecordWritesRawRows(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, Event{Query: "project roadmap", Type: TypeSemantic, ResultCount: 4, Latency: 12 * time.Millisecond})
	r.Record(ctx, Event{Query: "roadmap", Type: TypeKeyword, ResultCount: 0, Latency: 3 * time.Millisecond})

	summary, err := st.SearchMetricsStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalQueries)
	assert.Equal(t, map[string]int{TypeSemantic: 1, TypeKeyword: 1}, summary.ByType)
}

func TestRecorder_FlushAccumulatesTerms(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, Event{Query: "quarterly revenue", Type: TypeSemantic, ResultCount: 1})
	r.Record(ctx, Event{Query: "quarterly forecast", Type: TypeSemantic, ResultCount: 2})
	require.NoError(t, r.Flush(ctx))

	terms, err := st.TopQueryTerms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, terms, 3)
	assert.Equal(t, store.TermCount{Term: "quarterly", Count: 2}, terms[0])

	// A second flush with nothing pending is a no-op.
	require.NoError(t, r.Flush(ctx))
	again, err := st.TopQueryTerms(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, terms, again)
}

func TestRecorder_Snapshot(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, Event{Query: "meeting notes", Type: TypeSemantic, ResultCount: 3, Latency: 30 * time.Millisecond})
	r.Record(ctx, Event{Query: "notes", Type: TypeKeyword, Fallback: TypeSubstring, ResultCount: 1, Latency: 2 * time.Millisecond})

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.TotalQueries)
	assert.Equal(t, 2, snap.ByType[TypeSemantic]+snap.ByType[TypeKeyword])

	today := time.Now().UTC().Format("2006-01-02")
	require.NotEmpty(t, snap.Daily)
	assert.Equal(t, today, snap.Daily[0].Date)

	// Snapshot flushes pending terms before reading.
	var found bool
	for _, tc := range snap.TopTerms {
		if tc.Term == "meeting" {
			found = true
		}
	}
	assert.True(t, found)

	assert.Equal(t, 1, snap.Latency["<10ms"])
	assert.Equal(t, 1, snap.Latency["10-50ms"])
}

func TestRecorder_CloseFlushesAndStopsRecording(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, Event{Query: "budget spreadsheet", Type: TypeSemantic, ResultCount: 2})
	require.NoError(t, r.Close())

	terms, err := st.TopQueryTerms(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, terms, 2)

	// Events after Close are dropped entirely.
	r.Record(ctx, Event{Query: "budget", Type: TypeKeyword, ResultCount: 1})
	summary, err := st.SearchMetricsStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalQueries)

	require.NoError(t, r.Close())
}
