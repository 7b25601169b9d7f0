package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/text"
)

// Names registered with bleve's global registry.
const (
	codeTokenizerName = "code_tokenizer"
	codeStopName      = "code_stop"
	codeAnalyzerName  = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, newBleveCodeTokenizer)
	_ = registry.RegisterTokenFilter(codeStopName, newBleveStopFilter)
}

// bleveKeywordIndex is the directory-based keyword backend. Unlike FTS5 it
// is not transactional with the chunk rows; the store backfills it at open
// when it is empty while chunks exist.
type bleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

type bleveChunkDoc struct {
	Content string `json:"content"`
}

// NewBleveKeywordIndex opens or creates a bleve index at path. A structurally
// damaged index is cleared and recreated; bleve data is derived from the
// chunk rows and rebuilds from them.
func NewBleveKeywordIndex(path string) (KeywordIndex, error) {
	indexMapping, err := buildBleveMapping()
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreOpen, "bleve mapping failed", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStoreOpen, "cannot create keyword index directory", err)
	}

	if validErr := validateBleveIntegrity(path); validErr != nil {
		slog.Warn("keyword index corrupted, clearing",
			slog.String("path", path), slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, errors.New(errors.ErrCodeStoreCorrupted,
				"keyword index corrupted and cannot be cleared", removeErr).WithDetail("path", path)
		}
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, indexMapping)
	} else if err != nil && isBleveCorruptionError(err) {
		slog.Warn("keyword index open failed, clearing",
			slog.String("path", path), slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, errors.New(errors.ErrCodeStoreCorrupted,
				"keyword index corrupted and cannot be cleared", removeErr).WithDetail("path", path)
		}
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreOpen, "cannot open keyword index", err).
			WithDetail("path", path)
	}

	return &bleveKeywordIndex{index: idx, path: path}, nil
}

// validateBleveIntegrity checks the index directory before bleve touches it.
// A missing directory is fine; a directory without a parseable
// index_meta.json is damage.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		strings.Contains(msg, "no such file or directory")
}

func buildBleveMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(codeAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopName,
		},
	})
	if err != nil {
		return nil, err
	}
	indexMapping.DefaultAnalyzer = codeAnalyzerName
	return indexMapping, nil
}

// Index adds chunk contents keyed by their decimal rowid.
func (b *bleveKeywordIndex) Index(ctx context.Context, entries []KeywordEntry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.ErrCodeStoreClosed, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, entry := range entries {
		doc := bleveChunkDoc{Content: entry.Content}
		if err := batch.Index(strconv.FormatInt(entry.Rowid, 10), doc); err != nil {
			return errors.New(errors.ErrCodeStoreUnavailable,
				fmt.Sprintf("cannot index chunk %d", entry.Rowid), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "keyword batch failed", err)
	}
	return nil
}

// Delete removes chunks by rowid.
func (b *bleveKeywordIndex) Delete(ctx context.Context, rowids []int64) error {
	if len(rowids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.ErrCodeStoreClosed, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, rowid := range rowids {
		batch.Delete(strconv.FormatInt(rowid, 10))
	}
	if err := b.index.Batch(batch); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "keyword delete failed", err)
	}
	return nil
}

// Search runs a match query against chunk content.
func (b *bleveKeywordIndex) Search(ctx context.Context, query string, limit int) ([]KeywordMatch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.New(errors.ErrCodeStoreClosed, "keyword index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "keyword search failed", err)
	}

	matches := make([]KeywordMatch, 0, len(result.Hits))
	for _, hit := range result.Hits {
		rowid, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		matches = append(matches, KeywordMatch{
			Rowid:        rowid,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return matches, nil
}

// Count returns the number of indexed chunks.
func (b *bleveKeywordIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, errors.New(errors.ErrCodeStoreClosed, "keyword index is closed", nil)
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "keyword count failed", err)
	}
	return int(n), nil
}

// Close closes the underlying bleve index.
func (b *bleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

var _ KeywordIndex = (*bleveKeywordIndex)(nil)

func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	return terms
}

// newBleveCodeTokenizer adapts the code-aware tokenizer to bleve's analysis
// chain.
func newBleveCodeTokenizer(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	content := string(input)
	tokens := text.TokenizeCode(content)

	stream := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		// Best-effort span reconstruction; split identifiers do not appear
		// verbatim in the source, so fall back to the cursor.
		start := strings.Index(strings.ToLower(content[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(content) {
			offset = end
		}
	}
	return stream
}

func newBleveStopFilter(config map[string]any, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{}, nil
}

type bleveStopFilter struct{}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	kept := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if !text.IsStopWord(strings.ToLower(string(token.Term))) {
			kept = append(kept, token)
		}
	}
	return kept
}
