package chunk

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/foldermcp/foldermcp/internal/text"
)

// ProseChunkerOptions configures the prose chunker.
type ProseChunkerOptions struct {
	TargetTokens  int
	OverlapTokens int
}

// ProseChunker splits plain text on paragraph boundaries. Paragraphs
// accumulate toward the token target; a sentence tail from each emitted
// chunk carries into the next as context so boundary sentences stay
// findable from both sides. A paragraph that alone exceeds the target
// splits on sentences.
//
// When the source format has pages, each chunk records the page it starts
// on. Paragraph boundaries always win over page boundaries: a paragraph
// spanning a page break stays whole and is attributed to the page where it
// begins.
type ProseChunker struct {
	options ProseChunkerOptions
}

// NewProseChunker creates a prose chunker with default options.
func NewProseChunker() *ProseChunker {
	return NewProseChunkerWithOptions(ProseChunkerOptions{})
}

// NewProseChunkerWithOptions creates a prose chunker with custom options.
func NewProseChunkerWithOptions(opts ProseChunkerOptions) *ProseChunker {
	if opts.TargetTokens == 0 {
		opts.TargetTokens = DefaultTargetTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &ProseChunker{options: opts}
}

// SupportedExtensions returns the plain text extensions.
func (c *ProseChunker) SupportedExtensions() []string {
	return []string{".txt", ".text", ".log", ".rst", ".adoc"}
}

// paragraphSpan is a paragraph with its position in the document.
type paragraphSpan struct {
	text      string
	offset    int // byte offset of the first non-space rune
	startLine int // 1-indexed
}

// Chunk splits plain text into paragraph-aligned chunks.
func (c *ProseChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	spans := paragraphSpans(content)
	now := time.Now().UTC()

	var chunks []*Chunk
	var current []paragraphSpan
	var overlapTail string
	currentTokens := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, c.newChunk(file, current, overlapTail, now))
		overlapTail = c.tailOf(current)
		current = nil
		currentTokens = 0
	}

	for _, span := range spans {
		spanTokens := text.EstimateTokens(span.text)

		if spanTokens > c.options.TargetTokens {
			// Oversized paragraph: flush what we have, then split it on
			// sentences.
			emit()
			chunks = append(chunks, c.splitParagraph(file, span, overlapTail, now)...)
			if n := len(chunks); n > 0 {
				overlapTail = c.tailOfContent(chunks[n-1].RawContent)
			}
			continue
		}

		if len(current) > 0 && currentTokens+spanTokens > c.options.TargetTokens {
			emit()
		}

		current = append(current, span)
		currentTokens += spanTokens
	}
	emit()

	c.assignPages(chunks, file.PageBreaks)
	assignSequence(chunks)
	return chunks, nil
}

// newChunk builds a chunk from accumulated paragraphs. The overlap tail
// from the previous chunk rides in Context; offsets and lines describe the
// new paragraphs only.
func (c *ProseChunker) newChunk(file *FileInput, spans []paragraphSpan, overlapTail string, now time.Time) *Chunk {
	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = s.text
	}
	raw := strings.Join(parts, "\n\n")

	first := spans[0]
	last := spans[len(spans)-1]
	endLine := last.startLine + strings.Count(last.text, "\n")

	return &Chunk{
		ID:          generateChunkID(file.Path, raw),
		FilePath:    file.Path,
		Content:     combineContextAndContent(overlapTail, raw),
		RawContent:  raw,
		Context:     overlapTail,
		ContentType: ContentTypeText,
		Language:    file.Language,
		StartLine:   first.startLine,
		EndLine:     endLine,
		StartByte:   first.offset,
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// splitParagraph windows an oversized paragraph on sentence boundaries.
func (c *ProseChunker) splitParagraph(file *FileInput, span paragraphSpan, overlapTail string, now time.Time) []*Chunk {
	sentences := text.Sentences(span.text)
	if len(sentences) == 0 {
		sentences = []string{span.text}
	}

	// Locate each sentence's offset within the paragraph.
	offsets := make([]int, len(sentences))
	searchFrom := 0
	for i, s := range sentences {
		idx := strings.Index(span.text[searchFrom:], s)
		if idx < 0 {
			offsets[i] = searchFrom
			continue
		}
		offsets[i] = searchFrom + idx
		searchFrom = offsets[i] + len(s)
	}

	var chunks []*Chunk
	var window []string
	windowStart := 0
	windowTokens := 0
	tail := overlapTail

	emit := func(endIdx int) {
		if len(window) == 0 {
			return
		}
		raw := strings.Join(window, " ")
		startOffset := span.offset + offsets[windowStart]
		startLine := span.startLine + strings.Count(span.text[:offsets[windowStart]], "\n")

		chunks = append(chunks, &Chunk{
			ID:          generateChunkID(file.Path, raw),
			FilePath:    file.Path,
			Content:     combineContextAndContent(tail, raw),
			RawContent:  raw,
			Context:     tail,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   startLine,
			EndLine:     startLine + strings.Count(raw, "\n"),
			StartByte:   startOffset,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		tail = c.tailOfContent(raw)
		window = nil
		windowTokens = 0
		windowStart = endIdx
	}

	for i, sentence := range sentences {
		sTokens := text.EstimateTokens(sentence)
		if len(window) > 0 && windowTokens+sTokens > c.options.TargetTokens {
			emit(i)
		}
		window = append(window, sentence)
		windowTokens += sTokens
	}
	emit(len(sentences))

	return chunks
}

// tailOf returns the trailing sentences of a paragraph run, bounded by the
// overlap budget.
func (c *ProseChunker) tailOf(spans []paragraphSpan) string {
	return c.tailOfContent(spans[len(spans)-1].text)
}

func (c *ProseChunker) tailOfContent(content string) string {
	sentences := text.Sentences(content)
	if len(sentences) == 0 {
		return ""
	}

	budget := c.options.OverlapTokens
	var tail []string
	for i := len(sentences) - 1; i >= 0; i-- {
		t := text.EstimateTokens(sentences[i])
		if len(tail) > 0 && t > budget {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		budget -= t
		if budget <= 0 {
			break
		}
	}
	return strings.Join(tail, " ")
}

// assignPages stamps each chunk with the page its start offset falls on.
func (c *ProseChunker) assignPages(chunks []*Chunk, breaks []PageBreak) {
	if len(breaks) == 0 {
		return
	}

	sorted := make([]PageBreak, len(breaks))
	copy(sorted, breaks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	for _, chunk := range chunks {
		page := sorted[0].Page
		for _, b := range sorted {
			if b.Offset > chunk.StartByte {
				break
			}
			page = b.Page
		}
		p := page
		chunk.Page = &p
	}
}

// paragraphSpans splits text into paragraphs on blank lines, keeping byte
// offsets and line numbers.
func paragraphSpans(content string) []paragraphSpan {
	var spans []paragraphSpan
	offset := 0
	line := 1

	for _, part := range strings.Split(content, "\n\n") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			lead := strings.IndexFunc(part, func(r rune) bool { return !unicode.IsSpace(r) })
			leadLines := strings.Count(part[:lead], "\n")
			spans = append(spans, paragraphSpan{
				text:      trimmed,
				offset:    offset + lead,
				startLine: line + leadLines,
			})
		}
		line += strings.Count(part, "\n") + 2
		offset += len(part) + 2
	}

	return spans
}
