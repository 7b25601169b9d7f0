// Package mcp bridges MCP clients to a running daemon. The bridge is a
// thin subprocess: every tool call becomes one RPC to the daemon's control
// socket, so the index and the model stay in one process no matter how
// many editors spawn a bridge.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/pkg/fmdm"
)

// serverName identifies the bridge to MCP clients.
const serverName = "foldermcp"

// daemonAPI is the slice of the daemon client the tools use. pkg/client
// satisfies it; tests substitute a fake.
type daemonAPI interface {
	Search(ctx context.Context, p daemon.SearchParams) (daemon.SearchResult, error)
	ListDocuments(ctx context.Context, p daemon.ListDocumentsParams) (daemon.ListDocumentsResult, error)
	GetDocument(ctx context.Context, p daemon.GetDocumentParams) (daemon.DocumentDataResult, error)
	GetChunks(ctx context.Context, p daemon.GetChunksParams) (daemon.ChunksResult, error)
	DescribeIndex(ctx context.Context, path string) (daemon.DescribeIndexResult, error)
	ListFolders(ctx context.Context) ([]fmdm.Folder, error)
}

// Server is the MCP bridge process.
type Server struct {
	mcp    *mcp.Server
	daemon daemonAPI

	// defaultFolder scopes tool calls that omit the folder argument.
	// Empty means the bridge serves all registered folders and requires
	// the argument whenever more than one exists.
	defaultFolder string

	log *slog.Logger
}

// NewServer builds the bridge against an already-dialed daemon client.
func NewServer(api daemonAPI, defaultFolder, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		daemon:        api,
		defaultFolder: defaultFolder,
		log:           log,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search_content",
		Description: "Search a folder's documents by meaning. Returns ranked chunks with " +
			"source path, page, score, and the phrases that matched. Works on any indexed " +
			"folder; short queries fall back to keyword matching automatically.",
	}, s.mcpSearchContentHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "list_documents",
		Description: "List a folder's indexed documents with size, chunk count, and " +
			"last-indexed time. Paginated; pass the returned cursor to continue. " +
			"Filter by path prefix or file extension.",
	}, s.mcpListDocumentsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_document_data",
		Description: "Fetch one document's extracted text and metadata. Supports a page " +
			"range for paged formats and a byte cap; the response flags truncation " +
			"explicitly.",
	}, s.mcpGetDocumentDataHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_chunks",
		Description: "Fetch a contiguous chunk range of one document, with offsets, text, " +
			"key phrases, and topics. Use after search_content to pull surrounding context.",
	}, s.mcpGetChunksHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "describe_index",
		Description: "Describe a folder's index: model id, vector dimensions, document and " +
			"chunk totals, schema version, and live lifecycle state. Use to verify the " +
			"index is ready before searching.",
	}, s.mcpDescribeIndexHandler)
}

// Run serves MCP over stdio until the context ends. Nothing else in the
// process may write to stdout while this runs.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp bridge started", slog.String("default_folder", s.defaultFolder))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.log.Error("mcp bridge stopped", slog.String("error", err.Error()))
		return err
	}
	s.log.Info("mcp bridge stopped")
	return nil
}

// resolveFolder picks the folder a tool call targets. An explicit argument
// wins, then the bridge's default, then the single registered folder. With
// several folders and no hint the error names them so the client can retry
// with one.
func (s *Server) resolveFolder(ctx context.Context, arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if s.defaultFolder != "" {
		return s.defaultFolder, nil
	}

	folders, err := s.daemon.ListFolders(ctx)
	if err != nil {
		return "", MapError(err)
	}
	switch len(folders) {
	case 0:
		return "", NewInvalidParamsError(
			"no folders are indexed; add one with `foldermcp add <path>`")
	case 1:
		return folders[0].Path, nil
	default:
		paths := make([]string, len(folders))
		for i, f := range folders {
			paths[i] = f.Path
		}
		sort.Strings(paths)
		return "", NewInvalidParamsError(fmt.Sprintf(
			"multiple folders are indexed; pass folder explicitly (registered: %s)",
			strings.Join(paths, ", ")))
	}
}

func (s *Server) mcpSearchContentHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchContentInput) (
	*mcp.CallToolResult,
	SearchContentOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchContentOutput{}, NewInvalidParamsError(
			"query is required and must not be blank")
	}
	folder, err := s.resolveFolder(ctx, input.Folder)
	if err != nil {
		return nil, SearchContentOutput{}, err
	}

	start := time.Now()
	requestID := generateRequestID()
	s.log.Info("search_content started",
		slog.String("request_id", requestID),
		slog.String("folder", folder),
		slog.Int("top_k", input.TopK))

	res, err := s.daemon.Search(ctx, daemon.SearchParams{
		Folder:     folder,
		Query:      input.Query,
		Document:   input.Document,
		Extensions: input.Extensions,
		TopK:       input.TopK,
		MaxResults: input.MaxResults,
	})
	if err != nil {
		s.log.Error("search_content failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, SearchContentOutput{}, MapError(err)
	}
	s.log.Info("search_content completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("matches", len(res.Result.Matches)))

	output := ToSearchContentOutput(res)
	return textResult(FormatSearchResult(input.Query, res)), output, nil
}

func (s *Server) mcpListDocumentsHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListDocumentsInput) (
	*mcp.CallToolResult,
	ListDocumentsOutput,
	error,
) {
	folder, err := s.resolveFolder(ctx, input.Folder)
	if err != nil {
		return nil, ListDocumentsOutput{}, err
	}

	res, err := s.daemon.ListDocuments(ctx, daemon.ListDocumentsParams{
		Folder:    folder,
		Prefix:    input.Prefix,
		Extension: input.Extension,
		Limit:     input.Limit,
		Cursor:    input.Cursor,
	})
	if err != nil {
		return nil, ListDocumentsOutput{}, MapError(err)
	}

	output := ToListDocumentsOutput(res)
	return textResult(FormatDocumentList(res)), output, nil
}

func (s *Server) mcpGetDocumentDataHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetDocumentDataInput) (
	*mcp.CallToolResult,
	GetDocumentDataOutput,
	error,
) {
	if input.Path == "" {
		return nil, GetDocumentDataOutput{}, NewInvalidParamsError("path is required")
	}
	folder, err := s.resolveFolder(ctx, input.Folder)
	if err != nil {
		return nil, GetDocumentDataOutput{}, err
	}

	res, err := s.daemon.GetDocument(ctx, daemon.GetDocumentParams{
		Folder:   folder,
		Path:     input.Path,
		FromPage: input.FromPage,
		ToPage:   input.ToPage,
		MaxBytes: input.MaxBytes,
	})
	if err != nil {
		return nil, GetDocumentDataOutput{}, MapError(err)
	}

	output := ToGetDocumentDataOutput(res)
	return textResult(res.Text), output, nil
}

func (s *Server) mcpGetChunksHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetChunksInput) (
	*mcp.CallToolResult,
	GetChunksOutput,
	error,
) {
	if input.Document == "" {
		return nil, GetChunksOutput{}, NewInvalidParamsError("document is required")
	}
	folder, err := s.resolveFolder(ctx, input.Folder)
	if err != nil {
		return nil, GetChunksOutput{}, err
	}

	res, err := s.daemon.GetChunks(ctx, daemon.GetChunksParams{
		Folder:   folder,
		Document: input.Document,
		FromSeq:  input.FromSeq,
		ToSeq:    input.ToSeq,
	})
	if err != nil {
		return nil, GetChunksOutput{}, MapError(err)
	}

	output := ToGetChunksOutput(res)
	return textResult(FormatChunks(res)), output, nil
}

func (s *Server) mcpDescribeIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input DescribeIndexInput) (
	*mcp.CallToolResult,
	DescribeIndexOutput,
	error,
) {
	folder, err := s.resolveFolder(ctx, input.Folder)
	if err != nil {
		return nil, DescribeIndexOutput{}, err
	}

	res, err := s.daemon.DescribeIndex(ctx, folder)
	if err != nil {
		return nil, DescribeIndexOutput{}, MapError(err)
	}

	output := ToDescribeIndexOutput(res)
	return textResult(FormatIndexDescription(res)), output, nil
}

// textResult wraps markdown for clients that render content instead of the
// structured output.
func textResult(markdown string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: markdown}},
	}
}

// generateRequestID creates a short unique id for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
