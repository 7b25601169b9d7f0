package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/text"
)

// ftsKeywordIndex reads the chunks_fts virtual table. The table itself is
// maintained by triggers on chunks, so this implementation never writes.
type ftsKeywordIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewFTSKeywordIndex returns the FTS5-backed keyword index over the shared
// metadata database.
func NewFTSKeywordIndex(db *sql.DB) KeywordIndex {
	return &ftsKeywordIndex{db: db}
}

// Index is a no-op: the insert trigger on chunks already indexed the rows.
func (f *ftsKeywordIndex) Index(ctx context.Context, entries []KeywordEntry) error {
	return nil
}

// Delete is a no-op: the delete trigger on chunks already removed the rows.
func (f *ftsKeywordIndex) Delete(ctx context.Context, rowids []int64) error {
	return nil
}

// Search tokenizes the query the same way chunk text was tokenized at write
// time and runs an FTS5 MATCH. bm25() scores are negative with better
// matches more negative; they come back negated so higher means better.
func (f *ftsKeywordIndex) Search(ctx context.Context, query string, limit int) ([]KeywordMatch, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, errors.New(errors.ErrCodeStoreClosed, "keyword index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	tokens := text.FilterStopWords(text.TokenizeCode(query))
	if len(tokens) == 0 {
		return nil, nil
	}
	match := strings.Join(tokens, " ")

	rows, err := f.db.QueryContext(ctx, `
		SELECT rowid, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		// FTS5 reports unparsable match expressions as errors; for a search
		// box that is "no results", not a failure.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, errors.New(errors.ErrCodeSearchFailed, "keyword search failed", err)
	}
	defer rows.Close()

	var matches []KeywordMatch
	for rows.Next() {
		var m KeywordMatch
		var score float64
		if err := rows.Scan(&m.Rowid, &score); err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "keyword result scan failed", err)
		}
		m.Score = -score
		m.MatchedTerms = tokens
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count returns the number of indexed chunks. The FTS table mirrors chunks
// row for row.
func (f *ftsKeywordIndex) Count() (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return 0, errors.New(errors.ErrCodeStoreClosed, "keyword index is closed", nil)
	}
	var n int
	if err := f.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "keyword count failed", err)
	}
	return n, nil
}

// Close marks the index closed. The database handle belongs to the store.
func (f *ftsKeywordIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ KeywordIndex = (*ftsKeywordIndex)(nil)

// FTSTokens prepares chunk content for the chunks.fts_tokens column: the
// code-aware tokenizer splits identifiers so camelCase and snake_case terms
// match word-level queries, and stop words are dropped on both sides.
func FTSTokens(content string) string {
	return strings.Join(text.FilterStopWords(text.TokenizeCode(content)), " ")
}
