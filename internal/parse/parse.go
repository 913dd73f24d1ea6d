// Package parse extracts Closure dependency declarations from source files
// using tree-sitter.
package parse

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/G33kDude/pxt-blockly/internal/lang"
	"github.com/G33kDude/pxt-blockly/internal/model"
)

var kindMap = map[string]model.DeclKind{
	"provide":     model.Provide,
	"module":      model.GoogModule,
	"require":     model.Require,
	"requireType": model.RequireType,
}

// ParseError reports a file whose declaration syntax could not be read.
// It is recoverable: the file is skipped with a warning.
type ParseError struct {
	Path string
	Line int // 0 when the error is not tied to a line
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractDeclarations parses a source file and returns its provide/require
// declarations in source order. Only program-level statements count:
// `goog.require('x');` or `const x = goog.require('x');`. Calls nested in
// functions or other expressions are ignored. The parser must be created for JavaScript.
// filePath is used only for error reporting.
func ExtractDeclarations(parser *sitter.Parser, query *sitter.Query, source []byte, filePath string) ([]model.Declaration, error) {
	if len(source) == 0 {
		return nil, nil
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, &ParseError{Path: filePath, Err: err}
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	var decls []model.Declaration

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var kindNode, argsNode, declNode *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "kind":
				kindNode = c.Node
			case "arguments":
				argsNode = c.Node
			case "declaration":
				declNode = c.Node
			}
		}
		if kindNode == nil || argsNode == nil || declNode == nil {
			continue
		}
		if !topLevel(declNode) {
			continue
		}

		kind := kindMap[lang.NodeText(kindNode, source)]
		line := int(declNode.StartPoint().Row) + 1

		name, err := declaredName(argsNode, source)
		if err == nil && declNode.HasError() {
			err = errors.New("syntax error in declaration")
		}
		if err != nil {
			return nil, &ParseError{
				Path: filePath,
				Line: line,
				Err:  fmt.Errorf("goog.%s: %w", kind, err),
			}
		}

		decls = append(decls, model.Declaration{Name: name, Kind: kind, Line: line})
	}

	return decls, nil
}

// topLevel reports whether a declaration call is a statement of its own at
// program level, or the initializer of a program-level variable.
func topLevel(call *sitter.Node) bool {
	n := call.Parent()
	if n != nil && n.Type() == "variable_declarator" {
		n = n.Parent()
		if n == nil || (n.Type() != "lexical_declaration" && n.Type() != "variable_declaration") {
			return false
		}
	} else if n == nil || (n.Type() != "expression_statement" && n.Type() != "ERROR") {
		return false
	}
	for n.Type() == "ERROR" || n.Type() == "expression_statement" ||
		n.Type() == "lexical_declaration" || n.Type() == "variable_declaration" {
		n = n.Parent()
		if n == nil {
			return false
		}
	}
	return n.Type() == "program"
}

// declaredName returns the string literal passed as the first argument.
func declaredName(args *sitter.Node, source []byte) (string, error) {
	if args.NamedChildCount() == 0 {
		return "", errors.New("missing name argument")
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return "", fmt.Errorf("name must be a string literal, got %s", first.Type())
	}
	text := lang.NodeText(first, source)
	if len(text) < 2 {
		return "", errors.New("malformed string literal")
	}
	name := text[1 : len(text)-1]
	if name == "" {
		return "", errors.New("empty name")
	}
	return name, nil
}
