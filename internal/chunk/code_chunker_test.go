package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeChunker_ChunkGoFile_ReturnsFunctionChunks(t *testing.T) {
	source := `package main

import "fmt"

func Hello() {
	fmt.Println("Hello")
}

func Goodbye() {
	fmt.Println("Goodbye")
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	assert.Len(t, chunks, 2, "two functions, two chunks")

	assert.Contains(t, chunks[0].RawContent, "Hello")
	assert.Equal(t, SymbolTypeFunction, chunks[0].Symbols[0].Type)
	assert.Equal(t, "Hello", chunks[0].Symbols[0].Name)

	assert.Contains(t, chunks[1].RawContent, "Goodbye")
	assert.Equal(t, "Goodbye", chunks[1].Symbols[0].Name)

	// Both chunks carry the file context for embedding.
	for _, chunk := range chunks {
		assert.Contains(t, chunk.Context, `import "fmt"`)
		assert.Contains(t, chunk.Context, "package main")
		assert.Contains(t, chunk.Context, "// File: main.go")
		assert.Equal(t, ContentTypeCode, chunk.ContentType)
	}
}

func TestCodeChunker_ChunkGoFile_IncludesDocComments(t *testing.T) {
	source := `package main

import "fmt"

// Greet returns a greeting message for the given name.
func Greet(name string) string {
	return fmt.Sprintf("Hello, %s!", name)
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Contains(t, chunks[0].RawContent, "// Greet returns a greeting message")
	assert.Contains(t, chunks[0].Symbols[0].DocComment, "Greet returns a greeting message")
}

func TestCodeChunker_ChunkGoFile_MethodsAndTypes(t *testing.T) {
	source := `package store

// Index maps chunk IDs to vectors.
type Index struct {
	dims int
}

// Add inserts a vector.
func (ix *Index) Add(id string) error {
	return nil
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "index.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, SymbolTypeType, chunks[0].Symbols[0].Type)
	assert.Equal(t, "Index", chunks[0].Symbols[0].Name)
	assert.Equal(t, SymbolTypeMethod, chunks[1].Symbols[0].Type)
	assert.Equal(t, "Add", chunks[1].Symbols[0].Name)

	// Heading trail carries the symbol name for display.
	assert.Equal(t, []string{"Index"}, chunks[0].HeadingTrail)
	assert.Equal(t, []string{"Add"}, chunks[1].HeadingTrail)
}

func TestCodeChunker_ChunkPythonFile(t *testing.T) {
	source := `import os

def read_config(path):
    return os.path.exists(path)

class Loader:
    def load(self):
        pass
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "loader.py",
		Content:  []byte(source),
		Language: "python",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	names := make([]string, 0, len(chunks))
	for _, c := range chunks {
		for _, s := range c.Symbols {
			names = append(names, s.Name)
		}
		assert.Contains(t, c.Context, "# File: loader.py")
	}
	assert.Contains(t, names, "read_config")
	assert.Contains(t, names, "Loader")
}

func TestCodeChunker_TypeScriptArrowFunction(t *testing.T) {
	source := `import { db } from "./db";

const fetchUser = async (id: string) => {
	return db.get(id);
};
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "user.ts",
		Content:  []byte(source),
		Language: "typescript",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// Arrow functions classify as functions, not constants.
	assert.Equal(t, "fetchUser", chunks[0].Symbols[0].Name)
	assert.Equal(t, SymbolTypeFunction, chunks[0].Symbols[0].Type)
}

func TestCodeChunker_LargeSymbolSplitsWithParentName(t *testing.T) {
	// Build a function big enough to exceed the target.
	var body strings.Builder
	body.WriteString("package main\n\nfunc Enormous() {\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&body, "\tprintln(\"line %d of a fairly long statement to pad things out\")\n", i)
	}
	body.WriteString("}\n")

	chunker := NewCodeChunkerWithOptions(CodeChunkerOptions{TargetTokens: 200, OverlapTokens: 20})
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "big.go",
		Content:  []byte(body.String()),
		Language: "go",
	})

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "oversized symbol must split")

	// First part also registers the parent symbol so name lookups work.
	first := chunks[0]
	names := make([]string, 0, len(first.Symbols))
	for _, s := range first.Symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "Enormous")
	assert.Contains(t, names, "Enormous_part1")

	// Sequence numbers follow document order.
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
	}
}

func TestCodeChunker_UnsupportedLanguageFallsBackToWindows(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&body, "line %d of a ruby file we have no grammar for\n", i)
	}

	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "script.rb",
		Content:  []byte(body.String()),
		Language: "ruby",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Nil(t, chunks[0].Symbols)
	assert.Equal(t, 1, chunks[0].StartLine)
}

func TestCodeChunker_EmptyFile(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "empty.go",
		Content:  nil,
		Language: "go",
	})

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestGenerateChunkID_Properties(t *testing.T) {
	// Same path and content: stable ID.
	assert.Equal(t, generateChunkID("a.go", "body"), generateChunkID("a.go", "body"))

	// Different content: different ID.
	assert.NotEqual(t, generateChunkID("a.go", "body"), generateChunkID("a.go", "other"))

	// Same content in a different file: different ID.
	assert.NotEqual(t, generateChunkID("a.go", "body"), generateChunkID("b.go", "body"))

	assert.Len(t, generateChunkID("a.go", "body"), 16)
}
