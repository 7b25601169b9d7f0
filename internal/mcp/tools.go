package mcp

import (
	"time"

	"github.com/foldermcp/foldermcp/internal/daemon"
)

// SearchContentInput is the input schema for the search_content tool.
type SearchContentInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	Folder     string   `json:"folder,omitempty" jsonschema:"absolute path of the indexed folder; optional when only one folder is indexed"`
	Document   string   `json:"document,omitempty" jsonschema:"restrict matches to documents under this relative path"`
	Extensions []string `json:"extensions,omitempty" jsonschema:"restrict matches to these file extensions, e.g. md, pdf"`
	TopK       int      `json:"top_k,omitempty" jsonschema:"candidate pool size for the vector search, default from config"`
	MaxResults int      `json:"max_results,omitempty" jsonschema:"maximum number of results, default from config"`
}

// SearchContentOutput is the output schema for the search_content tool.
type SearchContentOutput struct {
	Folder string `json:"folder" jsonschema:"the folder the search ran against"`

	// QueryType names the path that produced the matches: semantic,
	// keyword, or substring. Fallback repeats the path actually taken
	// when the engine degraded.
	QueryType string `json:"query_type"`
	Fallback  string `json:"fallback,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Matches   []SearchMatchOutput `json:"matches"`
	Truncated bool                `json:"truncated" jsonschema:"true when a response budget cut the result short"`
}

// SearchMatchOutput is one ranked hit.
type SearchMatchOutput struct {
	DocumentPath   string   `json:"document_path"`
	Page           *int     `json:"page,omitempty"`
	Seq            int      `json:"seq" jsonschema:"chunk ordinal within the document, for get_chunks"`
	Content        string   `json:"content"`
	Score          float64  `json:"score"`
	MatchedPhrases []string `json:"matched_phrases,omitempty" jsonschema:"query terms or key phrases this chunk matched"`
	StartLine      int      `json:"start_line,omitempty"`
	EndLine        int      `json:"end_line,omitempty"`
}

// ListDocumentsInput is the input schema for the list_documents tool.
type ListDocumentsInput struct {
	Folder    string `json:"folder,omitempty" jsonschema:"absolute path of the indexed folder; optional when only one folder is indexed"`
	Prefix    string `json:"prefix,omitempty" jsonschema:"only documents whose relative path starts with this prefix"`
	Extension string `json:"extension,omitempty" jsonschema:"only documents with this file extension"`
	Limit     int    `json:"limit,omitempty" jsonschema:"page size, default 50"`
	Cursor    int64  `json:"cursor,omitempty" jsonschema:"cursor from a previous call to fetch the next page"`
}

// ListDocumentsOutput is the output schema for the list_documents tool.
type ListDocumentsOutput struct {
	Folder     string           `json:"folder"`
	Documents  []DocumentOutput `json:"documents"`
	NextCursor int64            `json:"next_cursor,omitempty" jsonschema:"pass back as cursor to continue; zero on the last page"`
}

// DocumentOutput is one indexed document.
type DocumentOutput struct {
	Path       string    `json:"path"`
	Title      string    `json:"title,omitempty"`
	Class      string    `json:"class" jsonschema:"text, markdown, or code"`
	Size       int64     `json:"size"`
	PageCount  int       `json:"page_count,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// GetDocumentDataInput is the input schema for the get_document_data tool.
type GetDocumentDataInput struct {
	Folder   string `json:"folder,omitempty" jsonschema:"absolute path of the indexed folder; optional when only one folder is indexed"`
	Path     string `json:"path" jsonschema:"document path relative to the folder root"`
	FromPage int    `json:"from_page,omitempty" jsonschema:"first page to include, 1-based, paged formats only"`
	ToPage   int    `json:"to_page,omitempty" jsonschema:"last page to include, inclusive"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"byte cap on the returned text, default 262144"`
}

// GetDocumentDataOutput is the output schema for the get_document_data tool.
type GetDocumentDataOutput struct {
	Folder    string         `json:"folder"`
	Document  DocumentOutput `json:"document"`
	Text      string         `json:"text"`
	Truncated bool           `json:"truncated" jsonschema:"true when max_bytes cut the text short"`
}

// GetChunksInput is the input schema for the get_chunks tool.
type GetChunksInput struct {
	Folder   string `json:"folder,omitempty" jsonschema:"absolute path of the indexed folder; optional when only one folder is indexed"`
	Document string `json:"document" jsonschema:"document path relative to the folder root"`
	FromSeq  int    `json:"from_seq,omitempty" jsonschema:"first chunk ordinal to include, 0-based"`
	ToSeq    int    `json:"to_seq,omitempty" jsonschema:"last chunk ordinal to include, inclusive; zero means to the end"`
}

// GetChunksOutput is the output schema for the get_chunks tool.
type GetChunksOutput struct {
	Folder   string        `json:"folder"`
	Document string        `json:"document"`
	Chunks   []ChunkOutput `json:"chunks"`
}

// ChunkOutput is one chunk with its semantic metadata.
type ChunkOutput struct {
	Seq         int      `json:"seq"`
	Content     string   `json:"content"`
	StartLine   int      `json:"start_line"`
	EndLine     int      `json:"end_line"`
	StartByte   int      `json:"start_byte"`
	Page        *int     `json:"page,omitempty"`
	KeyPhrases  []string `json:"key_phrases"`
	Topics      []string `json:"topics,omitempty"`
	Readability float64  `json:"readability"`
}

// DescribeIndexInput is the input schema for the describe_index tool.
type DescribeIndexInput struct {
	Folder string `json:"folder,omitempty" jsonschema:"absolute path of the indexed folder; optional when only one folder is indexed"`
}

// DescribeIndexOutput is the output schema for the describe_index tool.
type DescribeIndexOutput struct {
	Folder         string `json:"folder"`
	State          string `json:"state" jsonschema:"lifecycle state, e.g. ACTIVE or INDEXING"`
	ModelID        string `json:"model_id"`
	Dimensions     int    `json:"dimensions"`
	SchemaVersion  int    `json:"schema_version"`
	DocumentCount  int    `json:"document_count"`
	ChunkCount     int    `json:"chunk_count"`
	EmbeddingCount int    `json:"embedding_count"`
	KeywordBackend string `json:"keyword_backend"`
	DBSizeBytes    int64  `json:"db_size_bytes"`
}

// ToSearchContentOutput converts a daemon search result to tool output.
func ToSearchContentOutput(res daemon.SearchResult) SearchContentOutput {
	out := SearchContentOutput{Folder: res.Folder}
	if res.Result == nil {
		return out
	}
	out.QueryType = res.Result.QueryType
	out.Fallback = res.Result.Fallback
	out.Reason = res.Result.Reason
	out.Truncated = res.Result.Truncated
	out.Matches = make([]SearchMatchOutput, 0, len(res.Result.Matches))
	for _, m := range res.Result.Matches {
		if m == nil || m.Chunk == nil {
			continue
		}
		out.Matches = append(out.Matches, SearchMatchOutput{
			DocumentPath:   m.Chunk.DocumentPath,
			Page:           m.Chunk.Page,
			Seq:            m.Chunk.Seq,
			Content:        m.Chunk.Content,
			Score:          m.Score,
			MatchedPhrases: m.MatchedPhrases,
			StartLine:      m.Chunk.StartLine,
			EndLine:        m.Chunk.EndLine,
		})
	}
	return out
}

// ToListDocumentsOutput converts a daemon document page to tool output.
func ToListDocumentsOutput(res daemon.ListDocumentsResult) ListDocumentsOutput {
	out := ListDocumentsOutput{
		Folder:     res.Folder,
		NextCursor: res.NextCursor,
		Documents:  make([]DocumentOutput, 0, len(res.Documents)),
	}
	for _, d := range res.Documents {
		if d == nil {
			continue
		}
		out.Documents = append(out.Documents, DocumentOutput{
			Path:       d.Path,
			Title:      d.Title,
			Class:      d.Class,
			Size:       d.Size,
			PageCount:  d.PageCount,
			ChunkCount: d.ChunkCount,
			IndexedAt:  d.IndexedAt,
		})
	}
	return out
}

// ToGetDocumentDataOutput converts a daemon document payload to tool output.
func ToGetDocumentDataOutput(res daemon.DocumentDataResult) GetDocumentDataOutput {
	out := GetDocumentDataOutput{
		Folder:    res.Folder,
		Text:      res.Text,
		Truncated: res.Truncated,
	}
	if d := res.Document; d != nil {
		out.Document = DocumentOutput{
			Path:       d.Path,
			Title:      d.Title,
			Class:      d.Class,
			Size:       d.Size,
			PageCount:  d.PageCount,
			ChunkCount: d.ChunkCount,
			IndexedAt:  d.IndexedAt,
		}
	}
	return out
}

// ToGetChunksOutput converts a daemon chunk range to tool output.
func ToGetChunksOutput(res daemon.ChunksResult) GetChunksOutput {
	out := GetChunksOutput{
		Folder:   res.Folder,
		Document: res.Document,
		Chunks:   make([]ChunkOutput, 0, len(res.Chunks)),
	}
	for _, c := range res.Chunks {
		if c == nil {
			continue
		}
		out.Chunks = append(out.Chunks, ChunkOutput{
			Seq:         c.Seq,
			Content:     c.Content,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			StartByte:   c.StartByte,
			Page:        c.Page,
			KeyPhrases:  c.KeyPhrases,
			Topics:      c.Topics,
			Readability: c.Readability,
		})
	}
	return out
}

// ToDescribeIndexOutput converts a daemon index description to tool output.
func ToDescribeIndexOutput(res daemon.DescribeIndexResult) DescribeIndexOutput {
	out := DescribeIndexOutput{
		Folder: res.Folder,
		State:  res.State,
	}
	if info := res.Info; info != nil {
		out.ModelID = info.ModelID
		out.Dimensions = info.Dimensions
		out.SchemaVersion = info.SchemaVersion
		out.DocumentCount = info.DocumentCount
		out.ChunkCount = info.ChunkCount
		out.EmbeddingCount = info.EmbeddingCount
		out.KeywordBackend = info.KeywordBackend
		out.DBSizeBytes = info.DBSizeBytes
	}
	return out
}
