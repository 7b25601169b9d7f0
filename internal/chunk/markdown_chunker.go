package chunk

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/foldermcp/foldermcp/internal/text"
)

// MarkdownChunkerOptions configures the markdown chunker.
type MarkdownChunkerOptions struct {
	TargetTokens  int
	OverlapTokens int
}

// MarkdownChunker splits Markdown on heading sections. Each chunk carries
// its heading trail (outermost heading first) so search results can show
// where in the document a hit lives. Front matter is expected to be
// stripped by extraction before the content reaches the chunker.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// NewMarkdownChunker creates a markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.TargetTokens == 0 {
		opts.TargetTokens = DefaultTargetTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// SupportedExtensions returns the markdown extensions.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdown", ".mkd"}
}

// Chunk splits a markdown document into heading-scoped chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	now := time.Now().UTC()
	sections := c.parseSections(content)

	var chunks []*Chunk
	if len(sections) == 0 {
		chunks = c.chunkParagraphs(file, content, nil, 1, 0, now)
	} else {
		for _, sec := range sections {
			chunks = append(chunks, c.sectionChunks(file, sec, now)...)
		}
	}

	assignSequence(chunks)
	return chunks, nil
}

// section is one heading-delimited span of the document.
type section struct {
	level     int
	title     string
	trail     []string // outermost heading first, includes title
	content   string
	startLine int // 0-indexed within the document
	startByte int
}

// parseSections walks the document line by line, maintaining a heading
// stack so each section knows its full trail.
func (c *MarkdownChunker) parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headingStack := make([]string, 6)

	var current *section
	var builder strings.Builder
	byteOffset := 0

	flush := func() {
		if current != nil {
			current.content = builder.String()
			sections = append(sections, current)
			builder.Reset()
		}
	}

	for lineNum, line := range lines {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			flush()

			level := len(match[1])
			title := strings.TrimSpace(match[2])

			headingStack[level-1] = title
			for i := level; i < 6; i++ {
				headingStack[i] = ""
			}

			var trail []string
			for i := 0; i < level; i++ {
				if headingStack[i] != "" {
					trail = append(trail, headingStack[i])
				}
			}

			current = &section{
				level:     level,
				title:     title,
				trail:     trail,
				startLine: lineNum,
				startByte: byteOffset,
			}
		}

		if current != nil {
			builder.WriteString(line)
			builder.WriteString("\n")
		}
		byteOffset += len(line) + 1
	}
	flush()

	return sections
}

// sectionChunks emits one chunk per section, splitting oversized sections
// on paragraph boundaries.
func (c *MarkdownChunker) sectionChunks(file *FileInput, sec *section, now time.Time) []*Chunk {
	content := strings.TrimRight(sec.content, "\n")

	// A bare heading with no body is not worth a chunk.
	trimmed := strings.TrimSpace(content)
	if len(strings.Split(trimmed, "\n")) <= 1 && headerPattern.MatchString(trimmed) {
		return nil
	}

	startLine := sec.startLine + 1

	if text.EstimateTokens(content) <= c.options.TargetTokens {
		return []*Chunk{{
			ID:           generateChunkID(file.Path, content),
			FilePath:     file.Path,
			Content:      content,
			RawContent:   content,
			ContentType:  ContentTypeMarkdown,
			Language:     "markdown",
			StartLine:    startLine,
			EndLine:      startLine + strings.Count(content, "\n"),
			StartByte:    sec.startByte,
			HeadingTrail: sec.trail,
			Metadata:     make(map[string]string),
			CreatedAt:    now,
			UpdatedAt:    now,
		}}
	}

	return c.chunkParagraphs(file, content, sec.trail, startLine, sec.startByte, now)
}

// chunkParagraphs accumulates paragraphs up to the token target. Fenced
// code blocks and tables stay whole even when they cross a blank line.
func (c *MarkdownChunker) chunkParagraphs(file *FileInput, content string, trail []string, startLine, startByte int, now time.Time) []*Chunk {
	paragraphs := mergeAtomicBlocks(splitParagraphs(content))
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []*Chunk
	var builder strings.Builder
	currentStartLine := startLine
	currentStartByte := startByte
	lineCount := 0
	byteCount := 0

	emit := func() {
		body := strings.TrimRight(builder.String(), "\n ")
		if body == "" {
			return
		}
		chunks = append(chunks, &Chunk{
			ID:           generateChunkID(file.Path, body),
			FilePath:     file.Path,
			Content:      body,
			RawContent:   body,
			ContentType:  ContentTypeMarkdown,
			Language:     "markdown",
			StartLine:    currentStartLine,
			EndLine:      currentStartLine + strings.Count(body, "\n"),
			StartByte:    currentStartByte,
			HeadingTrail: trail,
			Metadata:     make(map[string]string),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	for _, para := range paragraphs {
		paraTokens := text.EstimateTokens(para)
		currentTokens := text.EstimateTokens(builder.String())

		if builder.Len() > 0 && currentTokens+paraTokens > c.options.TargetTokens {
			emit()
			builder.Reset()
			currentStartLine = startLine + lineCount
			currentStartByte = startByte + byteCount
		}

		builder.WriteString(para)
		builder.WriteString("\n\n")
		lineCount += strings.Count(para, "\n") + 2
		byteCount += len(para) + 2
	}
	emit()

	return chunks
}

// splitParagraphs splits on blank lines, dropping empty spans.
func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")
	paragraphs := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// mergeAtomicBlocks rejoins fenced code blocks that a blank-line split cut
// apart. A paragraph with an odd number of fences opens a block; following
// paragraphs fold in until the closing fence appears.
func mergeAtomicBlocks(paragraphs []string) []string {
	var result []string
	var inFence bool
	var fenceBuilder strings.Builder

	for _, para := range paragraphs {
		if inFence {
			fenceBuilder.WriteString("\n\n")
			fenceBuilder.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, fenceBuilder.String())
				fenceBuilder.Reset()
				inFence = false
			}
			continue
		}

		if fences := strings.Count(para, "```"); fences%2 == 1 {
			inFence = true
			fenceBuilder.WriteString(para)
			continue
		}

		result = append(result, para)
	}

	if inFence {
		result = append(result, fenceBuilder.String())
	}

	return result
}
