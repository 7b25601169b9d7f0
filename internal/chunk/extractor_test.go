package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSource(t *testing.T, source, language string) *Tree {
	t.Helper()
	parser := NewParser()
	t.Cleanup(parser.Close)

	tree, err := parser.Parse(context.Background(), []byte(source), language)
	require.NoError(t, err)
	return tree
}

func TestSymbolName(t *testing.T) {
	tests := []struct {
		name     string
		language string
		source   string
		nodeType string
		want     string
	}{
		{
			name:     "go function",
			language: "go",
			source:   "package a\n\nfunc Greet() string { return \"hi\" }\n",
			nodeType: "function_declaration",
			want:     "Greet",
		},
		{
			name:     "go method uses field identifier",
			language: "go",
			source:   "package a\n\ntype T struct{}\n\nfunc (t *T) Run() {}\n",
			nodeType: "method_declaration",
			want:     "Run",
		},
		{
			name:     "go type nested in spec",
			language: "go",
			source:   "package a\n\ntype Config struct{ N int }\n",
			nodeType: "type_declaration",
			want:     "Config",
		},
		{
			name:     "go grouped const",
			language: "go",
			source:   "package a\n\nconst (\n\tLimit = 10\n\tCap   = 20\n)\n",
			nodeType: "const_declaration",
			want:     "Limit",
		},
		{
			name:     "typescript interface",
			language: "typescript",
			source:   "interface Shape {\n  area(): number;\n}\n",
			nodeType: "interface_declaration",
			want:     "Shape",
		},
		{
			name:     "typescript const declarator",
			language: "typescript",
			source:   "const limit = 10;\n",
			nodeType: "lexical_declaration",
			want:     "limit",
		},
		{
			name:     "python class",
			language: "python",
			source:   "class Loader:\n    pass\n",
			nodeType: "class_definition",
			want:     "Loader",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := parseSource(t, tt.source, tt.language)

			node := tree.Root.FindChildByType(tt.nodeType)
			require.NotNil(t, node, "no %s node in parsed source", tt.nodeType)
			assert.Equal(t, tt.want, symbolName(node, tree.Source, tt.language))
		})
	}
}

func TestArrowFunctionSymbol(t *testing.T) {
	tree := parseSource(t, "const handler = (req) => {\n  return req;\n};\n", "typescript")

	node := tree.Root.FindChildByType("lexical_declaration")
	require.NotNil(t, node)

	sym := arrowFunctionSymbol(node, tree.Source, "typescript")
	require.NotNil(t, sym)
	assert.Equal(t, "handler", sym.Name)
	assert.Equal(t, SymbolTypeFunction, sym.Type)
	assert.Equal(t, 1, sym.StartLine)
	assert.Equal(t, 3, sym.EndLine)
}

func TestArrowFunctionSymbol_PlainConstIsNot(t *testing.T) {
	tree := parseSource(t, "const limit = 10;\n", "typescript")

	node := tree.Root.FindChildByType("lexical_declaration")
	require.NotNil(t, node)

	assert.Nil(t, arrowFunctionSymbol(node, tree.Source, "typescript"))
}

func TestArrowFunctionSymbol_OtherLanguages(t *testing.T) {
	tree := parseSource(t, "package a\n\nvar x = 1\n", "go")

	node := tree.Root.FindChildByType("var_declaration")
	require.NotNil(t, node)

	assert.Nil(t, arrowFunctionSymbol(node, tree.Source, "go"))
}
