package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/foldermcp/foldermcp/internal/daemon"
)

// snippetLimit caps per-match content in the markdown rendering; the full
// chunk text is always in the structured output.
const snippetLimit = 600

// FormatSearchResult renders a search result as markdown.
func FormatSearchResult(query string, res daemon.SearchResult) string {
	if res.Result == nil || len(res.Result.Matches) == 0 {
		msg := fmt.Sprintf("No results found for %q", query)
		if res.Result != nil && res.Result.Reason != "" {
			msg += "\n\n" + res.Result.Reason
		}
		return msg
	}
	r := res.Result

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q\n\n", query)
	fmt.Fprintf(&sb, "%d match", len(r.Matches))
	if len(r.Matches) != 1 {
		sb.WriteString("es")
	}
	fmt.Fprintf(&sb, " (%s search", r.QueryType)
	if r.Fallback != "" {
		fmt.Fprintf(&sb, ", fell back to %s", r.Fallback)
	}
	sb.WriteString(")")
	if r.Truncated {
		sb.WriteString(", truncated by the response budget")
	}
	sb.WriteString("\n\n")

	for i, m := range r.Matches {
		if m == nil || m.Chunk == nil {
			continue
		}
		fmt.Fprintf(&sb, "### %d. %s", i+1, m.Chunk.DocumentPath)
		if m.Chunk.Page != nil {
			fmt.Fprintf(&sb, " (page %d)", *m.Chunk.Page)
		} else if m.Chunk.StartLine > 0 {
			fmt.Fprintf(&sb, " (lines %d-%d)", m.Chunk.StartLine, m.Chunk.EndLine)
		}
		fmt.Fprintf(&sb, "\nScore: %.3f", m.Score)
		if len(m.MatchedPhrases) > 0 {
			fmt.Fprintf(&sb, " · matched: %s", strings.Join(m.MatchedPhrases, ", "))
		}
		sb.WriteString("\n\n")
		sb.WriteString(snippet(m.Chunk.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatDocumentList renders a document page as a markdown table.
func FormatDocumentList(res daemon.ListDocumentsResult) string {
	if len(res.Documents) == 0 {
		return fmt.Sprintf("No indexed documents in %s", res.Folder)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Documents in %s\n\n", res.Folder)
	sb.WriteString("| Path | Class | Size | Chunks | Indexed |\n")
	sb.WriteString("|------|-------|------|--------|---------|\n")
	for _, d := range res.Documents {
		if d == nil {
			continue
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %d | %s |\n",
			d.Path, d.Class, humanize.Bytes(uint64(d.Size)),
			d.ChunkCount, humanize.Time(d.IndexedAt))
	}
	if res.NextCursor > 0 {
		fmt.Fprintf(&sb, "\nMore documents available; pass cursor=%d to continue.\n",
			res.NextCursor)
	}
	return sb.String()
}

// FormatChunks renders a chunk range as markdown.
func FormatChunks(res daemon.ChunksResult) string {
	if len(res.Chunks) == 0 {
		return fmt.Sprintf("No chunks for %s in %s", res.Document, res.Folder)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Chunks of %s\n\n", res.Document)
	for _, c := range res.Chunks {
		if c == nil {
			continue
		}
		fmt.Fprintf(&sb, "### Chunk %d", c.Seq)
		if c.Page != nil {
			fmt.Fprintf(&sb, " (page %d)", *c.Page)
		} else if c.StartLine > 0 {
			fmt.Fprintf(&sb, " (lines %d-%d)", c.StartLine, c.EndLine)
		}
		sb.WriteString("\n")
		if len(c.KeyPhrases) > 0 {
			fmt.Fprintf(&sb, "Key phrases: %s\n", strings.Join(c.KeyPhrases, ", "))
		}
		sb.WriteString("\n")
		sb.WriteString(snippet(c.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatIndexDescription renders an index description as markdown.
func FormatIndexDescription(res daemon.DescribeIndexResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Index of %s\n\n", res.Folder)
	fmt.Fprintf(&sb, "- State: %s\n", res.State)
	if res.Info == nil {
		sb.WriteString("- Index details are not available yet\n")
		return sb.String()
	}
	info := res.Info
	fmt.Fprintf(&sb, "- Model: %s (%d dimensions)\n", info.ModelID, info.Dimensions)
	fmt.Fprintf(&sb, "- Documents: %d\n", info.DocumentCount)
	fmt.Fprintf(&sb, "- Chunks: %d (%d embedded)\n", info.ChunkCount, info.EmbeddingCount)
	fmt.Fprintf(&sb, "- Keyword backend: %s\n", info.KeywordBackend)
	fmt.Fprintf(&sb, "- Schema version: %d\n", info.SchemaVersion)
	fmt.Fprintf(&sb, "- Database size: %s\n", humanize.Bytes(uint64(info.DBSizeBytes)))
	return sb.String()
}

func snippet(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= snippetLimit {
		return content
	}
	cut := content[:snippetLimit]
	// Break on a word boundary when one is near.
	if i := strings.LastIndexByte(cut, ' '); i > snippetLimit/2 {
		cut = cut[:i]
	}
	return cut + " …"
}
