package chunk

// Symbol name resolution for parsed source. Grammars disagree on where a
// declaration keeps its name (Go methods use field_identifier, TS consts
// nest it inside a declarator), so each language gets its own lookup.

// symbolName returns the declared name of a symbol-defining node, or ""
// when the node carries nothing worth indexing.
func symbolName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return goSymbolName(n, source)
	case "typescript", "tsx":
		return scriptSymbolName(n, source, true)
	case "javascript", "jsx":
		return scriptSymbolName(n, source, false)
	default:
		return namedChild(n, source, "identifier")
	}
}

func goSymbolName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return namedChild(n, source, "identifier")
	case "method_declaration":
		// The method name is a field_identifier; the plain identifier is
		// the receiver.
		return namedChild(n, source, "field_identifier")
	case "type_declaration":
		return nestedName(n, source, "type_spec", "type_identifier")
	case "const_declaration":
		// Grouped and single forms both nest the name inside const_spec.
		return nestedName(n, source, "const_spec", "identifier")
	case "var_declaration":
		return nestedName(n, source, "var_spec", "identifier")
	}
	return ""
}

// scriptSymbolName handles the JS/TS grammars. withTypes additionally
// accepts type_identifier for interfaces and type aliases.
func scriptSymbolName(n *Node, source []byte, withTypes bool) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		return nestedName(n, source, "variable_declarator", "identifier")
	}
	if name := namedChild(n, source, "identifier"); name != "" {
		return name
	}
	if withTypes {
		return namedChild(n, source, "type_identifier")
	}
	return ""
}

// arrowFunctionSymbol classifies a JS/TS const or var declaration whose
// initializer is a function as a function symbol, so `const handler = ()
// => {}` indexes under its name like a declaration would.
func arrowFunctionSymbol(n *Node, source []byte, language string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
	default:
		return nil
	}
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return nil
	}

	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}
		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				name = grandchild.GetContent(source)
			case "arrow_function", "function", "function_expression":
				hasFunction = true
			}
		}
		if name != "" && hasFunction {
			return &Symbol{
				Name:      name,
				Type:      SymbolTypeFunction,
				StartLine: int(n.StartPoint.Row) + 1,
				EndLine:   int(n.EndPoint.Row) + 1,
			}
		}
	}
	return nil
}

// namedChild returns the content of the first direct child of the given
// node type.
func namedChild(n *Node, source []byte, childType string) string {
	for _, child := range n.Children {
		if child.Type == childType {
			return child.GetContent(source)
		}
	}
	return ""
}

// nestedName returns the content of the first grandchild of wantType
// under a child of specType.
func nestedName(n *Node, source []byte, specType, wantType string) string {
	for _, child := range n.Children {
		if child.Type != specType {
			continue
		}
		if name := namedChild(child, source, wantType); name != "" {
			return name
		}
	}
	return ""
}
