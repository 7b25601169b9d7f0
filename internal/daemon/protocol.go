package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/foldermcp/foldermcp/internal/hardware"
	"github.com/foldermcp/foldermcp/internal/pool"
	"github.com/foldermcp/foldermcp/internal/search"
	"github.com/foldermcp/foldermcp/internal/store"
	"github.com/foldermcp/foldermcp/internal/telemetry"
	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// The control surface speaks JSON-RPC 2.0. The unix socket serves one
// request per connection; the websocket endpoint serves the same methods
// on a persistent connection and additionally pushes FMDM snapshots to
// fmdm.subscribe callers.

// Method names served by the control surface.
const (
	MethodFoldersAdd     = "folders.add"
	MethodFoldersRemove  = "folders.remove"
	MethodFoldersReindex = "folders.reindex"
	MethodFoldersList    = "folders.list"
	MethodFMDMGet        = "fmdm.get"
	MethodFMDMSubscribe  = "fmdm.subscribe"
	MethodDiagnostics    = "diagnostics.get"
	MethodSearchQuery    = "search.query"
	MethodDocumentsList  = "documents.list"
	MethodDocumentsGet   = "documents.get"
	MethodChunksGet      = "chunks.get"
	MethodIndexDescribe  = "index.describe"
	MethodDaemonStatus   = "daemon.status"
	MethodDaemonStop     = "daemon.stop"
)

// JSON-RPC error codes: the standard five plus daemon-specific codes in
// the implementation-defined range.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	// ErrCodeFolderUnknown means the path is not registered with the daemon.
	ErrCodeFolderUnknown = -32001

	// ErrCodeQueryFailed wraps a search engine failure.
	ErrCodeQueryFailed = -32002

	// ErrCodeFolderNotReady means the folder is registered but its store
	// has not opened yet.
	ErrCodeFolderNotReady = -32003

	// ErrCodeFolderExists rejects adding a path that is already registered
	// or nested inside a registered folder.
	ErrCodeFolderExists = -32004
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse builds a success response for the given request ID.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse builds an error response for the given request ID.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// AddFolderParams registers a folder with the daemon.
type AddFolderParams struct {
	// Path is the folder root. Clients resolve relative paths before
	// sending; the daemon requires absolute.
	Path string `json:"path"`

	// Model is a catalog model id. Empty picks the hardware default.
	Model string `json:"model,omitempty"`

	// Priority orders this folder's batches in the shared embedding pool.
	Priority int `json:"priority,omitempty"`
}

// Validate checks the parameters.
func (p AddFolderParams) Validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(p.Path) {
		return fmt.Errorf("path must be absolute: %s", p.Path)
	}
	return nil
}

// RemoveFolderParams unregisters a folder.
type RemoveFolderParams struct {
	Path string `json:"path"`

	// Purge also deletes the hidden index directory from disk.
	Purge bool `json:"purge,omitempty"`
}

// Validate checks the parameters.
func (p RemoveFolderParams) Validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// FolderParams addresses one registered folder.
type FolderParams struct {
	Path string `json:"path"`
}

// Validate checks the parameters.
func (p FolderParams) Validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// SearchParams is a search.query request against one folder's index.
type SearchParams struct {
	Folder string `json:"folder"`
	Query  string `json:"query"`

	// Document restricts matches to documents under this relative path.
	Document string `json:"document,omitempty"`

	// Extensions restricts matches to these file extensions.
	Extensions []string `json:"extensions,omitempty"`

	// Languages restricts matches to these source languages.
	Languages []string `json:"languages,omitempty"`

	// TopK overrides the ANN candidate count for this query.
	TopK int `json:"top_k,omitempty"`

	// MaxResults overrides the configured result count for this query.
	MaxResults int `json:"max_results,omitempty"`
}

// Validate checks the parameters.
func (p SearchParams) Validate() error {
	if strings.TrimSpace(p.Folder) == "" {
		return fmt.Errorf("folder is required")
	}
	if strings.TrimSpace(p.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if p.TopK < 0 {
		return fmt.Errorf("top_k must not be negative")
	}
	if p.MaxResults < 0 {
		return fmt.Errorf("max_results must not be negative")
	}
	return nil
}

// request maps the RPC parameters onto a search engine request.
func (p SearchParams) request() search.Request {
	return search.Request{
		Query:      p.Query,
		Document:   p.Document,
		Extensions: p.Extensions,
		Languages:  p.Languages,
		TopK:       p.TopK,
		MaxResults: p.MaxResults,
	}
}

// SearchResult is the search.query payload.
type SearchResult struct {
	Folder string         `json:"folder"`
	Result *search.Result `json:"result"`
}

// ListDocumentsParams pages through a folder's indexed documents.
type ListDocumentsParams struct {
	Folder string `json:"folder"`

	// Prefix filters documents whose relative path starts with it.
	Prefix string `json:"prefix,omitempty"`

	// Extension filters documents by file extension, with or without dot.
	Extension string `json:"extension,omitempty"`

	// Cursor is the last document id of the previous page, zero for the
	// first page.
	Cursor int64 `json:"cursor,omitempty"`

	// Limit caps the page size. Zero takes the server default.
	Limit int `json:"limit,omitempty"`
}

// Validate checks the parameters.
func (p ListDocumentsParams) Validate() error {
	if strings.TrimSpace(p.Folder) == "" {
		return fmt.Errorf("folder is required")
	}
	if p.Cursor < 0 {
		return fmt.Errorf("cursor must not be negative")
	}
	if p.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

// ListDocumentsResult is one page of documents.
type ListDocumentsResult struct {
	Folder    string            `json:"folder"`
	Documents []*store.Document `json:"documents"`

	// NextCursor is the cursor for the following page, zero when this
	// page is the last.
	NextCursor int64 `json:"next_cursor,omitempty"`
}

// GetDocumentParams fetches one document's extracted text and metadata.
type GetDocumentParams struct {
	Folder string `json:"folder"`

	// Path is the document path relative to the folder root.
	Path string `json:"path"`

	// FromPage and ToPage bound the returned text to a page range,
	// inclusive. Zero values return the whole document.
	FromPage int `json:"from_page,omitempty"`
	ToPage   int `json:"to_page,omitempty"`

	// MaxBytes caps the returned text. Zero takes the server default.
	MaxBytes int `json:"max_bytes,omitempty"`
}

// Validate checks the parameters.
func (p GetDocumentParams) Validate() error {
	if strings.TrimSpace(p.Folder) == "" {
		return fmt.Errorf("folder is required")
	}
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if p.FromPage < 0 || p.ToPage < 0 {
		return fmt.Errorf("page range must not be negative")
	}
	if p.ToPage != 0 && p.ToPage < p.FromPage {
		return fmt.Errorf("to_page must not precede from_page")
	}
	if p.MaxBytes < 0 {
		return fmt.Errorf("max_bytes must not be negative")
	}
	return nil
}

// DocumentDataResult is one document with its re-assembled text.
type DocumentDataResult struct {
	Folder   string          `json:"folder"`
	Document *store.Document `json:"document"`

	// Text is the extracted content, re-assembled from the stored chunks
	// in sequence order.
	Text string `json:"text"`

	// Truncated reports that MaxBytes cut the text short.
	Truncated bool `json:"truncated,omitempty"`
}

// GetChunksParams fetches a contiguous chunk range of one document.
type GetChunksParams struct {
	Folder string `json:"folder"`

	// Document is the document path relative to the folder root.
	Document string `json:"document"`

	// FromSeq and ToSeq bound the range inclusively. A zero ToSeq with a
	// nonzero FromSeq means to the end; both zero means every chunk.
	FromSeq int `json:"from_seq,omitempty"`
	ToSeq   int `json:"to_seq,omitempty"`
}

// Validate checks the parameters.
func (p GetChunksParams) Validate() error {
	if strings.TrimSpace(p.Folder) == "" {
		return fmt.Errorf("folder is required")
	}
	if strings.TrimSpace(p.Document) == "" {
		return fmt.Errorf("document is required")
	}
	if p.FromSeq < 0 || p.ToSeq < 0 {
		return fmt.Errorf("sequence range must not be negative")
	}
	if p.ToSeq != 0 && p.ToSeq < p.FromSeq {
		return fmt.Errorf("to_seq must not precede from_seq")
	}
	return nil
}

// ChunksResult is a chunk range of one document.
type ChunksResult struct {
	Folder   string               `json:"folder"`
	Document string               `json:"document"`
	Chunks   []*store.ChunkRecord `json:"chunks"`
}

// DescribeIndexResult couples a folder's persisted index description with
// its live lifecycle state.
type DescribeIndexResult struct {
	Folder string           `json:"folder"`
	State  string           `json:"state"`
	Info   *store.IndexInfo `json:"info"`
}

// FoldersResult is the folders.list payload: the registered folders in
// their current FMDM form.
type FoldersResult struct {
	Folders []fmdm.Folder `json:"folders"`
}

// AckResult acknowledges a mutation that carries no payload.
type AckResult struct {
	OK bool `json:"ok"`
}

// StatusResult is the daemon.status payload.
type StatusResult struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	Folders       int    `json:"folders"`
	SocketPath    string `json:"socket_path"`
	WebsocketPort int    `json:"websocket_port"`
}

// ModelDiagnostics describes one live model runner.
type ModelDiagnostics struct {
	ModelID    string `json:"model_id"`
	Backend    string `json:"backend,omitempty"`
	Ready      bool   `json:"ready"`
	Dimensions int    `json:"dimensions"`
	BatchSize  int    `json:"batch_size"`
}

// FolderDiagnostics couples one folder's index description with its query
// telemetry and vector graph occupancy.
type FolderDiagnostics struct {
	Path      string                 `json:"path"`
	State     string                 `json:"state"`
	Info      *store.IndexInfo       `json:"info,omitempty"`
	Vectors   store.VectorIndexStats `json:"vectors"`
	Telemetry *telemetry.Snapshot    `json:"telemetry,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// DiagnosticsResult is the diagnostics.get payload.
type DiagnosticsResult struct {
	Hardware hardware.Profile    `json:"hardware"`
	Models   []ModelDiagnostics  `json:"models"`
	Pool     pool.Stats          `json:"pool"`
	Folders  []FolderDiagnostics `json:"folders"`
	Uptime   string              `json:"uptime"`
}

// SubscribeResult acknowledges an fmdm.subscribe request; snapshots follow
// as notifications on the same websocket connection.
type SubscribeResult struct {
	Subscribed bool   `json:"subscribed"`
	Seq        uint64 `json:"seq"`
}

// SnapshotNotification frames an FMDM push on a websocket connection.
// Notifications carry no ID; clients tell them apart from responses by
// the method field.
type SnapshotNotification struct {
	JSONRPC  string        `json:"jsonrpc"`
	Method   string        `json:"method"`
	Snapshot fmdm.Snapshot `json:"params"`
}

// MethodFMDMSnapshot is the notification method used for FMDM pushes.
const MethodFMDMSnapshot = "fmdm.snapshot"

// NewSnapshotNotification frames one snapshot for push delivery.
func NewSnapshotNotification(snap fmdm.Snapshot) SnapshotNotification {
	return SnapshotNotification{
		JSONRPC:  "2.0",
		Method:   MethodFMDMSnapshot,
		Snapshot: snap,
	}
}

// uptime formats a duration the way status surfaces display it.
func uptime(since time.Time) string {
	return time.Since(since).Round(time.Second).String()
}
