package lang

import (
	"github.com/smacker/go-tree-sitter/javascript"
)

// JavaScript is the name under which Closure-style sources are parsed.
const JavaScript = "javascript"

func init() {
	register(&Language{
		Name:       JavaScript,
		Extensions: []string{".js"},
		grammar:    javascript.GetLanguage(),
	})
}
