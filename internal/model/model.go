// Package model defines core data structures for blocklybuild.
package model

import "slices"

// DeclKind identifies the dependency declaration a source file makes.
type DeclKind string

const (
	Provide     DeclKind = "provide"
	GoogModule  DeclKind = "module"
	Require     DeclKind = "require"
	RequireType DeclKind = "requireType"
)

// Provides reports whether the declaration defines a name.
func (k DeclKind) Provides() bool {
	return k == Provide || k == GoogModule
}

// Declaration is a single goog.provide/module/require/requireType call
// found in a file's declaration region.
type Declaration struct {
	Name string
	Kind DeclKind
	Line int
}

// Module is a source file with its declared identity and dependency edges.
type Module struct {
	Path         string // slash-separated, relative to the project base
	Provides     []string
	Requires     []string
	TypeRequires []string
	GoogModule   bool
}

// NewModule builds a Module from its declarations. Name lists are
// deduplicated and sorted so that equal inputs produce equal modules.
func NewModule(path string, decls []Declaration) Module {
	m := Module{Path: path}
	for _, d := range decls {
		switch d.Kind {
		case Provide:
			m.Provides = append(m.Provides, d.Name)
		case GoogModule:
			m.Provides = append(m.Provides, d.Name)
			m.GoogModule = true
		case Require:
			m.Requires = append(m.Requires, d.Name)
		case RequireType:
			m.TypeRequires = append(m.TypeRequires, d.Name)
		}
	}
	m.Provides = sortedUnique(m.Provides)
	m.Requires = sortedUnique(m.Requires)
	m.TypeRequires = sortedUnique(m.TypeRequires)
	return m
}

// Dependency represents an edge in the dependency graph:
// Source requires symbols provided by Target.
type Dependency struct {
	Source  string
	Target  string
	Symbols []string
}

// SkippedFile is a module left out of the graph because its declarations
// could not be read.
type SkippedFile struct {
	Path   string
	Line   int
	Reason string
}

// ModuleGraph is the resolved module graph of a project.
type ModuleGraph struct {
	Root         string
	Modules      []Module // in resolved order
	Dependencies []Dependency
	Skipped      []SkippedFile
}

func sortedUnique(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return slices.Compact(names)
}
