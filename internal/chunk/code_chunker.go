package chunk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foldermcp/foldermcp/internal/text"
)

// CodeChunkerOptions configures the code chunker.
type CodeChunkerOptions struct {
	TargetTokens  int
	OverlapTokens int
}

// CodeChunker splits source files on symbol boundaries using tree-sitter.
// Files in languages without a grammar fall back to fixed line windows.
type CodeChunker struct {
	parser   *Parser
	registry *LanguageRegistry
	options  CodeChunkerOptions
}

// NewCodeChunker creates a code chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a code chunker with custom options.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.TargetTokens == 0 {
		opts.TargetTokens = DefaultTargetTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		options:  opts,
	}
}

// Close releases the tree-sitter parser.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns extensions with a registered grammar.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a source file into symbol chunks. Each top-level symbol
// becomes one chunk carrying the file's package clause and imports as
// context; oversized symbols split into overlapping line windows.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	if _, supported := c.registry.GetByName(file.Language); !supported {
		return c.chunkByWindows(file)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		// Unparseable source still indexes, just without symbols.
		return c.chunkByWindows(file)
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	fileContext = c.prependPathMarker(file.Path, file.Language, fileContext)

	symbolNodes := c.findSymbolNodes(tree, file.Language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	chunks := make([]*Chunk, 0, len(symbolNodes))
	now := time.Now().UTC()
	for _, node := range symbolNodes {
		chunks = append(chunks, c.chunksFromNode(node, tree, file, fileContext, now)...)
	}

	assignSequence(chunks)
	return chunks, nil
}

type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

// findSymbolNodes collects symbol-defining nodes in source order.
func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return nil
	}

	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		symbolTypes[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeVariable
	}

	var symbolNodes []*symbolNodeInfo

	tree.Root.Walk(func(n *Node) bool {
		// JS/TS const declarations holding arrow functions classify as
		// functions, not constants.
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := arrowFunctionSymbol(n, tree.Source, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
				return true
			}
		}

		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			if sym := c.extractSymbol(n, tree, symType, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
			}
		}
		return true
	})

	return symbolNodes
}

func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	name := symbolName(n, tree.Source, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: c.extractDocComment(n, tree.Source, language),
	}
}

// extractDocComment collects the contiguous comment block directly above a
// node, walking lines backwards until a non-comment line.
func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var commentLines []string
	pos := lineStart - 1

	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "//")}, commentLines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "#")}, commentLines...)
				continue
			}
		}

		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

func (c *CodeChunker) chunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	startByte := int(node.StartByte)
	rawContent := string(tree.Source[node.StartByte:node.EndByte])

	if info.symbol.DocComment != "" {
		rawContent, startByte = c.rawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	if text.EstimateTokens(rawContent) <= c.options.TargetTokens {
		return []*Chunk{c.newChunk(file, rawContent, fileContext, info.symbol, startByte, now)}
	}

	return c.splitLargeSymbol(info, tree, file, fileContext, now)
}

// rawContentWithDocComment widens the node span to include its doc comment.
func (c *CodeChunker) rawContentWithDocComment(n *Node, source []byte, docComment string) (string, int) {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte]), lineStart
}

// splitLargeSymbol breaks an oversized symbol into overlapping line windows.
// The first window also carries the parent symbol so a search for the symbol
// name finds the split parts.
func (c *CodeChunker) splitLargeSymbol(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	content := string(tree.Source[node.StartByte:node.EndByte])
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	// Line math assumes ~80 chars per line.
	maxLinesPerChunk := (c.options.TargetTokens * TokensPerChar) / 80
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}
	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	symbol := info.symbol
	startLine := int(node.StartPoint.Row) + 1
	byteOffset := int(node.StartByte)

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStartLine := startLine + i

		subSymbol := &Symbol{
			Name:      fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:      symbol.Type,
			StartLine: chunkStartLine,
			EndLine:   startLine + end - 1,
		}
		symbols := []*Symbol{subSymbol}
		if len(chunks) == 0 {
			symbols = append(symbols, &Symbol{
				Name:      symbol.Name,
				Type:      symbol.Type,
				StartLine: symbol.StartLine,
				EndLine:   symbol.EndLine,
			})
		}

		chunkStartByte := byteOffset
		if i > 0 {
			chunkStartByte = byteOffset + len(strings.Join(lines[:i], "\n")) + 1
		}

		chunks = append(chunks, &Chunk{
			ID:           generateChunkID(file.Path, chunkContent),
			FilePath:     file.Path,
			Content:      combineContextAndContent(fileContext, chunkContent),
			RawContent:   chunkContent,
			Context:      fileContext,
			ContentType:  ContentTypeCode,
			Language:     file.Language,
			StartLine:    chunkStartLine,
			EndLine:      startLine + end - 1,
			StartByte:    chunkStartByte,
			HeadingTrail: []string{symbol.Name},
			Symbols:      symbols,
			Metadata:     make(map[string]string),
			CreatedAt:    now,
			UpdatedAt:    now,
		})

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

func (c *CodeChunker) newChunk(file *FileInput, rawContent, fileContext string, symbol *Symbol, startByte int, now time.Time) *Chunk {
	return &Chunk{
		ID:           generateChunkID(file.Path, rawContent),
		FilePath:     file.Path,
		Content:      combineContextAndContent(fileContext, rawContent),
		RawContent:   rawContent,
		Context:      fileContext,
		ContentType:  ContentTypeCode,
		Language:     file.Language,
		StartLine:    symbol.StartLine,
		EndLine:      symbol.EndLine,
		StartByte:    startByte,
		HeadingTrail: []string{symbol.Name},
		Symbols:      []*Symbol{symbol},
		Metadata:     make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// extractFileContext pulls the package clause and imports so each symbol
// chunk embeds with its file's surroundings.
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		for _, node := range tree.Root.Children {
			if node.Type == "package_clause" {
				parts = append(parts, node.GetContent(source))
				break
			}
		}
		for _, node := range tree.Root.Children {
			if node.Type == "import_declaration" {
				parts = append(parts, node.GetContent(source))
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" {
				parts = append(parts, node.GetContent(source))
			}
		}
	case "python":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" || node.Type == "import_from_statement" {
				parts = append(parts, node.GetContent(source))
			}
		}
	}

	return strings.Join(parts, "\n\n")
}

// chunkByWindows is the fallback for languages without a grammar: fixed
// line windows with overlap, no symbols.
func (c *CodeChunker) chunkByWindows(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := (c.options.TargetTokens * TokensPerChar) / 80
	if linesPerChunk < 20 {
		linesPerChunk = 20
	}
	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = ContentTypeCode
	}

	var chunks []*Chunk
	now := time.Now().UTC()
	byteOffset := 0

	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &Chunk{
			ID:          generateChunkID(file.Path, chunkContent),
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			ContentType: contentType,
			Language:    file.Language,
			StartLine:   i + 1,
			EndLine:     end,
			StartByte:   byteOffset,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		next := end - overlapLines
		if next <= i || end >= len(lines) {
			break
		}
		byteOffset += len(strings.Join(lines[i:next], "\n")) + 1
		i = next
	}

	assignSequence(chunks)
	return chunks, nil
}

// prependPathMarker adds a file path comment to the context, in the
// language's comment syntax, so embeddings carry the file location.
func (c *CodeChunker) prependPathMarker(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
