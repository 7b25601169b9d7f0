// Package chunk splits extracted documents into retrievable units. Prose
// splits on paragraph boundaries, Markdown on heading sections, and source
// code on symbol boundaries via tree-sitter. Every strategy aims for the
// same token target so embedding inputs stay uniform.
package chunk

import (
	"context"
	"time"
)

// Token sizing. Token counts are estimated at four characters per token;
// exact tokenizer counts differ per model and are not worth a dependency.
const (
	// DefaultTargetTokens is the per-chunk budget all strategies aim for.
	DefaultTargetTokens = 500
	// DefaultOverlapTokens is carried between adjacent chunks so sentences
	// cut at a boundary remain findable from either side.
	DefaultOverlapTokens = 50
	// TokensPerChar is the chars-per-token estimate.
	TokensPerChar = 4
)

// ContentType tags what kind of content a chunk holds.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is one retrievable unit of a document.
type Chunk struct {
	// ID is content-addressed: same path and content produce the same ID.
	ID string

	// FilePath is relative to the folder root.
	FilePath string

	// Seq is the chunk's position within its document, starting at 0.
	Seq int

	// Content is what gets embedded: raw content plus any leading context.
	Content string

	// RawContent is the chunk body without injected context.
	RawContent string

	// Context is prepended material (package clause, imports) for code.
	Context string

	ContentType ContentType
	Language    string

	// StartLine and EndLine are 1-indexed and inclusive.
	StartLine int
	EndLine   int

	// StartByte is the chunk's offset in the extracted text. Used for page
	// attribution; -1 when the strategy does not track offsets.
	StartByte int

	// HeadingTrail is the enclosing heading path, outermost first. For code
	// it holds the symbol name.
	HeadingTrail []string

	// Page is the page the chunk starts on, nil for unpaged formats.
	Page *int

	// TokenEstimate is the estimated token count of Content.
	TokenEstimate int

	// Symbols are the code symbols the chunk covers, nil for prose.
	Symbols []*Symbol

	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PageBreak marks where a page starts in the extracted text.
type PageBreak struct {
	Page   int
	Offset int
}

// FileInput is one extracted file handed to a chunker.
type FileInput struct {
	// Path is relative to the folder root.
	Path string

	// Content is the extracted text.
	Content []byte

	// Language is the source language for code, empty otherwise.
	Language string

	// ContentType selects the chunking strategy.
	ContentType ContentType

	// PageBreaks carries page offsets for paged source formats, nil
	// otherwise.
	PageBreaks []PageBreak
}

// Chunker is one splitting strategy.
type Chunker interface {
	// Chunk splits a file into chunks. Empty input yields no chunks and no
	// error.
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions lists extensions this strategy handles.
	SupportedExtensions() []string
}

// SymbolType classifies code symbols.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is a named declaration found by parsing.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	DocComment string
}

// Tree is a parsed syntax tree detached from tree-sitter's C memory.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is one syntax tree node.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a zero-indexed source position.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig maps one grammar's node types onto symbol kinds.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string
}
