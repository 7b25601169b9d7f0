// Package search answers queries against one folder's hybrid index.
//
// The primary path embeds the query and walks the folder's vector graph,
// then re-ranks candidates with a composite score that blends cosine
// similarity with key-phrase overlap and document recency. Two degraded
// paths keep search answering when the primary cannot run: very short
// queries route straight to the keyword index, and an embedding failure
// falls back to a literal substring scan over the most recent documents.
// Every degradation is marked on the result so callers can tell a semantic
// answer from a lexical one.
package search

import (
	"time"

	"github.com/foldermcp/foldermcp/internal/store"
)

// Request is one search call against a folder's index.
type Request struct {
	// Query is the natural-language or keyword query text.
	Query string `json:"query"`

	// Document restricts hits to documents under this folder-relative path
	// prefix when set.
	Document string `json:"document,omitempty"`

	// Extensions restricts hits to documents with these file extensions,
	// with or without the leading dot.
	Extensions []string `json:"extensions,omitempty"`

	// Languages restricts hits to chunks in these languages as detected at
	// indexing time (e.g. "go", "markdown").
	Languages []string `json:"languages,omitempty"`

	// TopK overrides the configured ANN candidate count when positive.
	TopK int `json:"top_k,omitempty"`

	// MaxResults overrides the configured result cap when positive.
	MaxResults int `json:"max_results,omitempty"`
}

// Match is one ranked hit with enough context to cite it.
type Match struct {
	// Chunk is the matched chunk with its document path joined in.
	Chunk *store.ChunkRecord `json:"chunk"`

	// Score is the composite relevance used for ranking. On the semantic
	// path it is Cosine plus the bonuses below; on the keyword path it is
	// the BM25 score; the substring path scores every hit 1.
	Score float64 `json:"score"`

	// Cosine is the raw vector similarity, semantic path only.
	Cosine float64 `json:"cosine,omitempty"`

	// PhraseBonus is the key-phrase overlap bonus applied to Score.
	PhraseBonus float64 `json:"phrase_bonus,omitempty"`

	// RecencyBonus is the document-recency bonus applied to Score.
	RecencyBonus float64 `json:"recency_bonus,omitempty"`

	// MatchedPhrases lists the chunk key phrases or index terms the query
	// matched.
	MatchedPhrases []string `json:"matched_phrases,omitempty"`

	// Before and After carry the neighboring chunks of the same document,
	// in sequence order, for context around the hit.
	Before []*store.ChunkRecord `json:"before,omitempty"`
	After  []*store.ChunkRecord `json:"after,omitempty"`
}

// Result is the answer to one Request.
type Result struct {
	// Matches are the ranked hits, best first.
	Matches []*Match `json:"matches"`

	// QueryType names the path that produced the matches: semantic,
	// keyword, or substring.
	QueryType string `json:"query_type"`

	// Fallback is set when the engine degraded from the semantic path and
	// repeats the path actually taken.
	Fallback string `json:"fallback,omitempty"`

	// Reason explains an empty result set or a fallback in one sentence.
	Reason string `json:"reason,omitempty"`

	// Truncated reports that a response budget or the search deadline cut
	// the result short.
	Truncated bool `json:"truncated"`

	// Elapsed is the wall time the query took.
	Elapsed time.Duration `json:"elapsed"`
}
