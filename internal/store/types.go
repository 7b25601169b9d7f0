// Package store implements the per-folder hybrid index: a SQLite metadata
// database, an HNSW vector index, and a keyword index, all living inside the
// folder's hidden .foldermcp directory.
//
// The three parts have different durability characteristics. SQLite writes are
// transactional and land on every file; the vector graph lives in memory and is
// flushed on checkpoints and close. Reconcile heals the gap after a crash.
package store

import (
	"path/filepath"
	"time"
)

// Names of the files the store keeps inside a folder's hidden directory.
const (
	HiddenDirName   = ".foldermcp"
	DBFileName      = "index.db"
	VectorsFileName = "vectors.hnsw"
	StateFileName   = "state.json"
	LockFileName    = "store.lock"
	KeywordDirName  = "keyword.bleve"
)

// HiddenDir returns the hidden data directory for a folder.
func HiddenDir(folderPath string) string {
	return filepath.Join(folderPath, HiddenDirName)
}

// DBPath returns the metadata database path for a folder.
func DBPath(folderPath string) string {
	return filepath.Join(folderPath, HiddenDirName, DBFileName)
}

// VectorsPath returns the vector index path for a folder.
func VectorsPath(folderPath string) string {
	return filepath.Join(folderPath, HiddenDirName, VectorsFileName)
}

// VectorsMetaPath returns the gob sidecar path next to the vector index.
func VectorsMetaPath(folderPath string) string {
	return VectorsPath(folderPath) + ".meta"
}

// StatePath returns the JSON state sidecar path for a folder.
func StatePath(folderPath string) string {
	return filepath.Join(folderPath, HiddenDirName, StateFileName)
}

// KeywordDirPath returns the bleve keyword index directory for a folder.
func KeywordDirPath(folderPath string) string {
	return filepath.Join(folderPath, HiddenDirName, KeywordDirName)
}

// DataFilePaths lists the data files that recovery renames aside when the
// index is structurally corrupted. The lock file and state sidecar are not
// data; they are recreated on the next open.
func DataFilePaths(folderPath string) []string {
	db := DBPath(folderPath)
	return []string{
		db,
		db + "-wal",
		db + "-shm",
		VectorsPath(folderPath),
		VectorsMetaPath(folderPath),
		KeywordDirPath(folderPath),
	}
}

// Document is one indexed file.
type Document struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"` // relative to the folder root
	Title       string    `json:"title,omitempty"`
	Class       string    `json:"class"` // text, markdown, or code
	Language    string    `json:"language,omitempty"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Fingerprint string    `json:"fingerprint"`
	PageCount   int       `json:"page_count,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	IndexedAt   time.Time `json:"indexed_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChunkRecord is one persisted chunk row. Rowid is the SQLite rowid and the
// key the vector and keyword indexes use; ChunkID is the content-addressed
// identifier the chunker derives, stable across re-indexing of unchanged
// content.
type ChunkRecord struct {
	Rowid         int64     `json:"rowid"`
	ChunkID       string    `json:"chunk_id"`
	DocumentID    int64     `json:"document_id"`
	DocumentPath  string    `json:"document_path,omitempty"` // filled by reads that join documents
	Seq           int       `json:"seq"`
	Content       string    `json:"content"`
	Context       string    `json:"context,omitempty"`
	ContentType   string    `json:"content_type"`
	Language      string    `json:"language,omitempty"`
	StartLine     int       `json:"start_line"`
	EndLine       int       `json:"end_line"`
	StartByte     int       `json:"start_byte"`
	HeadingTrail  []string  `json:"heading_trail,omitempty"`
	Page          *int      `json:"page,omitempty"`
	TokenEstimate int       `json:"token_estimate"`
	KeyPhrases    []string  `json:"key_phrases"`
	Topics        []string  `json:"topics,omitempty"`
	Readability   float64   `json:"readability"`
	Embedded      bool      `json:"embedded"`
	CreatedAt     time.Time `json:"created_at"`
}

// File states as the lifecycle engine tracks them. A file parked in
// "indexing" after a restart was interrupted mid-write and goes back to
// "pending".
const (
	FileStatusPending  = "pending"
	FileStatusIndexing = "indexing"
	FileStatusIndexed  = "indexed"
	FileStatusSkipped  = "skipped"
	FileStatusError    = "error"
)

// FileState is the per-file work record the scanner and lifecycle engine
// share. Path is relative to the folder root, matching Document.Path.
type FileState struct {
	Path           string    `json:"path"`
	Fingerprint    string    `json:"fingerprint"`
	Size           int64     `json:"size"`
	ModTime        time.Time `json:"mod_time"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	ChunkCount     int       `json:"chunk_count"`
	ScanGeneration int64     `json:"scan_generation"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FileResult carries everything produced for one file: the document row, its
// chunks, and their vectors. SaveFileResult writes the relational part in a
// single transaction so a crash never leaves a half-indexed file.
type FileResult struct {
	Document       Document
	Chunks         []*ChunkRecord
	Vectors        [][]float32
	ScanGeneration int64
}

// VectorMatch is one ANN search hit, keyed by chunk rowid.
type VectorMatch struct {
	Rowid    int64
	Score    float32
	Distance float32
}

// KeywordEntry is one chunk handed to the keyword index.
type KeywordEntry struct {
	Rowid   int64
	Content string
}

// KeywordMatch is one keyword search hit.
type KeywordMatch struct {
	Rowid        int64
	Score        float64
	MatchedTerms []string
}

// IndexInfo is the describe_index payload: what this folder's index holds and
// which model built it.
type IndexInfo struct {
	FolderPath     string    `json:"folder_path"`
	ModelID        string    `json:"model_id,omitempty"`
	Dimensions     int       `json:"dimensions"`
	SchemaVersion  int       `json:"schema_version"`
	ScanGeneration int64     `json:"scan_generation"`
	LastFullScan   time.Time `json:"last_full_scan,omitempty"`
	DocumentCount  int       `json:"document_count"`
	ChunkCount     int       `json:"chunk_count"`
	EmbeddingCount int       `json:"embedding_count"`
	VectorCount    int       `json:"vector_count"`
	KeywordBackend string    `json:"keyword_backend"`
	DBSizeBytes    int64     `json:"db_size_bytes"`
}

// IndexCheckpoint records indexing progress so an interrupted run resumes
// where it stopped instead of starting over.
type IndexCheckpoint struct {
	Stage      string    `json:"stage"`
	TotalFiles int       `json:"total_files"`
	DoneFiles  int       `json:"done_files"`
	ModelID    string    `json:"model_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReconcileReport summarizes what Reconcile repaired.
type ReconcileReport struct {
	OrphanVectors  int `json:"orphan_vectors"`
	MissingVectors int `json:"missing_vectors"`
	RequeuedFiles  int `json:"requeued_files"`
}

// ListDocumentsOptions filters and paginates ListDocuments. AfterID is the
// cursor: pass the last ID of the previous page, zero for the first page.
type ListDocumentsOptions struct {
	AfterID    int64
	Limit      int
	PathPrefix string
	Extension  string
}

// SearchMetric is one recorded query, kept for diagnostics.
type SearchMetric struct {
	ID          int64     `json:"id"`
	QueryType   string    `json:"query_type"` // semantic, keyword, or substring
	LatencyMS   int64     `json:"latency_ms"`
	ResultCount int       `json:"result_count"`
	Fallback    string    `json:"fallback,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// SearchMetricsSummary aggregates recorded queries for diagnostics.get.
type SearchMetricsSummary struct {
	TotalQueries int            `json:"total_queries"`
	AvgLatencyMS float64        `json:"avg_latency_ms"`
	ByType       map[string]int `json:"by_type"`
}

// TermCount is a query term with its cumulative frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// DailyQueryCount is one day's query volume for one query type.
type DailyQueryCount struct {
	Date      string `json:"date"` // YYYY-MM-DD, UTC
	QueryType string `json:"query_type"`
	Count     int    `json:"count"`
}
