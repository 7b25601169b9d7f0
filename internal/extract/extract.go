// Package extract turns files on disk into indexable text. It owns format
// classification: plain text and Markdown extract natively, source code is
// plain text with a code classification for the chunker, and binary office
// formats are recorded as unsupported so the lifecycle can mark the file
// skipped instead of failing the folder.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/text"
)

// Class drives the chunking strategy downstream.
type Class string

const (
	// ClassText is running prose without structural markup.
	ClassText Class = "text"
	// ClassMarkdown is Markdown with headings and optional front matter.
	ClassMarkdown Class = "markdown"
	// ClassCode is source code; the chunker uses syntax boundaries.
	ClassCode Class = "code"
)

// MaxFileSize bounds extraction input. The scanner already skips most large
// binaries; this is the second line against a pathological text file.
const MaxFileSize = 32 * 1024 * 1024

// PageOffset maps a page number to its byte offset in the extracted text.
// Formats without a page concept leave the slice nil.
type PageOffset struct {
	Page   int `json:"page"`
	Offset int `json:"offset"`
}

// Result is the extraction output for one file.
type Result struct {
	// Text is the full extracted text.
	Text string

	// Class is the document classification for the chunker.
	Class Class

	// Title is the best available document title (front matter, first
	// heading, or empty).
	Title string

	// Pages carries page offsets when the source format has pages.
	Pages []PageOffset

	// Language is an ISO 639-1 hint, empty when undetermined.
	Language string

	// FrontMatter holds flattened Markdown front-matter values.
	FrontMatter map[string]string

	// ExtractedAt timestamps the extraction.
	ExtractedAt time.Time
}

// Extractor converts one file format into a Result.
type Extractor interface {
	// Extract reads and converts the file at path.
	Extract(ctx context.Context, path string) (*Result, error)

	// Supports reports whether this extractor handles the path.
	Supports(path string) bool
}

// codeExtensions classify source files. The chunker has grammars for a
// subset; the rest chunk as fixed windows but still carry the code class.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".hpp": true, ".cs": true, ".rb": true, ".rs": true, ".php": true,
	".swift": true, ".kt": true, ".scala": true, ".sh": true, ".bash": true,
	".sql": true, ".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".xml": true, ".html": true, ".css": true, ".proto": true,
}

// unsupportedExtensions are formats we deliberately do not parse. Their
// files are recorded as skipped, never as errors.
var unsupportedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".odt": true, ".ods": true, ".odp": true,
	".epub": true, ".rtf": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".text": true, ".log": true, ".rst": true, ".adoc": true,
	".csv": true, ".tsv": true, ".ini": true, ".conf": true, ".cfg": true,
	"": true, // extensionless files sniff as text or binary
}

var markdownExtensions = map[string]bool{
	".md": true, ".markdown": true, ".mdown": true, ".mkd": true,
}

// Dispatcher routes files to the right extractor.
type Dispatcher struct {
	markdown *MarkdownExtractor
	plain    *TextExtractor
}

// NewDispatcher wires the format extractors.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		markdown: NewMarkdownExtractor(),
		plain:    NewTextExtractor(),
	}
}

// Extract classifies and extracts one file.
// Unsupported formats return an UnsupportedFormat error; callers record the
// file as skipped. Binary content in a text-looking extension does the same.
func (d *Dispatcher) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))

	if unsupportedExtensions[ext] {
		return nil, errors.New(errors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("no extractor for %s files", ext), nil).
			WithDetail("path", path)
	}

	switch {
	case markdownExtensions[ext]:
		return d.markdown.Extract(ctx, path)
	case codeExtensions[ext] || textExtensions[ext]:
		return d.plain.Extract(ctx, path)
	default:
		// Unknown extension: sniff. Valid text indexes as plain text;
		// binary is skipped like any other unsupported format.
		return d.plain.Extract(ctx, path)
	}
}

// Supports reports whether Extract would produce text for this path,
// judging by extension alone (no I/O).
func (d *Dispatcher) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return !unsupportedExtensions[ext]
}

// readBounded loads a file enforcing MaxFileSize.
func readBounded(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err)
	}
	if info.Size() > MaxFileSize {
		return nil, errors.New(errors.ErrCodeFileTooLarge,
			fmt.Sprintf("file exceeds extraction limit: %d bytes", info.Size()), nil).
			WithDetail("path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractionFailed, err)
	}
	return data, nil
}

// looksBinary sniffs the first 8KB for NUL bytes, the classic text/binary
// discriminator.
func looksBinary(data []byte) bool {
	window := data
	if len(window) > 8*1024 {
		window = window[:8*1024]
	}
	return bytes.IndexByte(window, 0) != -1
}

// detectLanguage produces a cheap ISO hint. Only English is detected; the
// model catalog uses the hint for default selection, and "unknown" is a
// safe answer there.
func detectLanguage(content string) string {
	tokens := text.Tokenize(content)
	if len(tokens) > 200 {
		tokens = tokens[:200]
	}
	hits := 0
	for _, tok := range tokens {
		if text.IsStopWord(tok) {
			hits++
		}
	}
	if len(tokens) >= 10 && hits*5 >= len(tokens) {
		return "en"
	}
	return ""
}
