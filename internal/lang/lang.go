// Package lang registers the tree-sitter grammars used to read dependency
// declarations, keyed by name and by file extension.
package lang

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed queries/*.scm
var queryFS embed.FS

// Language pairs a grammar with the query that captures its declaration
// calls. The query lives in queries/<Name>.scm.
type Language struct {
	Name       string
	Extensions []string

	grammar *sitter.Language

	once  sync.Once
	query *sitter.Query
	err   error
}

// Grammar returns the tree-sitter grammar.
func (l *Language) Grammar() *sitter.Language {
	return l.grammar
}

// NewParser creates a parser for this language. Parsers are not safe for
// concurrent use; queries are.
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.grammar)
	return p
}

// DeclarationQuery compiles the embedded declaration query on first use.
func (l *Language) DeclarationQuery() (*sitter.Query, error) {
	l.once.Do(func() {
		src, err := queryFS.ReadFile("queries/" + l.Name + ".scm")
		if err != nil {
			l.err = fmt.Errorf("reading %s query: %w", l.Name, err)
			return
		}
		l.query, l.err = sitter.NewQuery(src, l.grammar)
		if l.err != nil {
			l.err = fmt.Errorf("compiling %s query: %w", l.Name, l.err)
		}
	})
	return l.query, l.err
}

// Languages maps language names to their registration.
var Languages = map[string]*Language{}

var byExtension = map[string]string{}

func register(l *Language) {
	Languages[l.Name] = l
	for _, ext := range l.Extensions {
		byExtension[ext] = l.Name
	}
}

// ForExtension returns the language registered for a file extension
// (including the dot, any case), or "".
func ForExtension(ext string) string {
	return byExtension[strings.ToLower(ext)]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}
