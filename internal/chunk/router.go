package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/foldermcp/foldermcp/internal/text"
)

// Options applies one token budget across all strategies.
type Options struct {
	TargetTokens  int
	OverlapTokens int
}

// Router picks the chunking strategy for a file from its content type and
// stamps the uniform per-chunk fields (sequence, token estimate).
type Router struct {
	code     *CodeChunker
	markdown *MarkdownChunker
	prose    *ProseChunker
	registry *LanguageRegistry
}

// NewRouter builds a router with all strategies sharing one budget.
func NewRouter(opts Options) *Router {
	if opts.TargetTokens == 0 {
		opts.TargetTokens = DefaultTargetTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	return &Router{
		code: NewCodeChunkerWithOptions(CodeChunkerOptions{
			TargetTokens:  opts.TargetTokens,
			OverlapTokens: opts.OverlapTokens,
		}),
		markdown: NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{
			TargetTokens:  opts.TargetTokens,
			OverlapTokens: opts.OverlapTokens,
		}),
		prose: NewProseChunkerWithOptions(ProseChunkerOptions{
			TargetTokens:  opts.TargetTokens,
			OverlapTokens: opts.OverlapTokens,
		}),
		registry: DefaultRegistry(),
	}
}

// Close releases parser resources.
func (r *Router) Close() {
	if r.code != nil {
		r.code.Close()
	}
}

// Chunk routes the file to its strategy and finalizes the chunks.
func (r *Router) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if file.Language == "" {
		file.Language = r.registry.LanguageForExtension(filepath.Ext(file.Path))
	}

	var (
		chunks []*Chunk
		err    error
	)
	switch file.ContentType {
	case ContentTypeCode:
		chunks, err = r.code.Chunk(ctx, file)
	case ContentTypeMarkdown:
		chunks, err = r.markdown.Chunk(ctx, file)
	default:
		chunks, err = r.prose.Chunk(ctx, file)
	}
	if err != nil {
		return nil, err
	}

	for _, c := range chunks {
		c.TokenEstimate = text.EstimateTokens(c.Content)
	}
	return chunks, nil
}

// assignSequence numbers chunks by their order within the document.
func assignSequence(chunks []*Chunk) {
	for i, c := range chunks {
		c.Seq = i
	}
}

// generateChunkID derives a stable ID from file path and content. Identical
// content at the same path keeps its ID across line shifts, so unchanged
// chunks are recognized on re-index and keep their embeddings; any content
// change produces a new ID and triggers re-embedding.
func generateChunkID(filePath string, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]

	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// combineContextAndContent joins leading context with chunk content.
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}
