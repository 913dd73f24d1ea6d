// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/G33kDude/pxt-blockly/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a ModuleGraph into TOON format. Name lists are joined
// with single spaces.
func Encode(g *model.ModuleGraph) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(g.Root)))

	var moduleRows [][]string
	for i := range g.Modules {
		m := &g.Modules[i]
		kind := "provide"
		if m.GoogModule {
			kind = "module"
		}
		moduleRows = append(moduleRows, []string{
			m.Path,
			kind,
			strings.Join(m.Provides, " "),
			strings.Join(m.Requires, " "),
		})
	}
	parts = append(parts, formatTabular("modules", []string{"path", "kind", "provides", "requires"}, moduleRows))

	var depRows [][]string
	for i := range g.Dependencies {
		d := &g.Dependencies[i]
		depRows = append(depRows, []string{
			d.Source,
			d.Target,
			strings.Join(d.Symbols, " "),
		})
	}
	parts = append(parts, formatTabular("dependencies", []string{"source", "target", "symbols"}, depRows))

	if len(g.Skipped) > 0 {
		var skipRows [][]string
		for i := range g.Skipped {
			s := &g.Skipped[i]
			skipRows = append(skipRows, []string{
				s.Path,
				fmt.Sprintf("%d", s.Line),
				s.Reason,
			})
		}
		parts = append(parts, formatTabular("skipped", []string{"path", "line", "reason"}, skipRows))
	}

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
