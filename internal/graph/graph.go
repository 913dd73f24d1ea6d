// Package graph builds the module dependency graph and resolves
// deterministic, dependency-respecting build orders.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	dag "github.com/dominikbraun/graph"

	"github.com/G33kDude/pxt-blockly/internal/model"
)

// RootModule is the requester named in errors for root requirements.
const RootModule = "<root>"

// CyclicDependencyError reports modules that depend on each other.
type CyclicDependencyError struct {
	Modules []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency among " + strings.Join(e.Modules, ", ")
}

// UnresolvedDependencyError reports a required name that no module provides.
type UnresolvedDependencyError struct {
	Module string
	Name   string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("%s requires %q, which no module provides", e.Module, e.Name)
}

// DuplicateProvideError reports a name provided by more than one module.
type DuplicateProvideError struct {
	Name    string
	Modules []string
}

func (e *DuplicateProvideError) Error() string {
	return fmt.Sprintf("%q is provided by more than one module: %s", e.Name, strings.Join(e.Modules, ", "))
}

// Graph indexes a set of modules by path and by provided name. It is built
// fresh for every resolution and never mutated afterwards.
type Graph struct {
	modules  map[string]model.Module
	paths    []string
	provider map[string]string
}

// New indexes modules. Every provided name must belong to exactly one module.
func New(modules []model.Module) (*Graph, error) {
	g := &Graph{
		modules:  make(map[string]model.Module, len(modules)),
		provider: make(map[string]string),
	}

	// Build definition index: symbol name → files that define it
	defines := make(map[string][]string)
	for _, m := range modules {
		g.modules[m.Path] = m
		for _, name := range m.Provides {
			defines[name] = append(defines[name], m.Path)
		}
	}
	for path := range g.modules {
		g.paths = append(g.paths, path)
	}
	sort.Strings(g.paths)

	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		files := defines[name]
		if len(files) > 1 {
			sort.Strings(files)
			return nil, &DuplicateProvideError{Name: name, Modules: files}
		}
		g.provider[name] = files[0]
	}

	return g, nil
}

// Module returns the module stored under path.
func (g *Graph) Module(path string) (model.Module, bool) {
	m, ok := g.modules[path]
	return m, ok
}

// Len returns the number of modules in the graph.
func (g *Graph) Len() int { return len(g.paths) }

// Provider returns the path of the module providing name.
func (g *Graph) Provider(name string) (string, bool) {
	p, ok := g.provider[name]
	return p, ok
}

// Options tunes a resolution.
type Options struct {
	// Inputs are module paths seeded into the closure alongside the
	// providers of the root requirements.
	Inputs []string
	// External lists namespaces whose providers may be missing from the
	// search set. A name matches when it equals an entry or starts with the
	// entry followed by a dot.
	External []string
}

// Resolve computes the transitive closure of modules reachable from the
// root requirements (and Options.Inputs) and returns it topologically
// sorted: every module appears after all modules it depends on. Modules
// with no ordering constraint between them are ordered by path.
func (g *Graph) Resolve(roots []string, opts Options) ([]string, error) {
	closure, err := g.closure(roots, opts)
	if err != nil {
		return nil, err
	}
	return g.order(closure, opts)
}

// Order resolves every module in the graph.
func (g *Graph) Order(opts Options) ([]string, error) {
	opts.Inputs = append(slices.Clone(opts.Inputs), g.paths...)
	return g.Resolve(nil, opts)
}

func (g *Graph) closure(roots []string, opts Options) ([]string, error) {
	seen := make(map[string]struct{})
	var queue []string

	push := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		queue = append(queue, path)
	}

	sortedRoots := slices.Clone(roots)
	sort.Strings(sortedRoots)
	for _, name := range sortedRoots {
		p, ok := g.provider[name]
		if !ok {
			if isExternal(name, opts.External) {
				continue
			}
			return nil, &UnresolvedDependencyError{Module: RootModule, Name: name}
		}
		push(p)
	}

	inputs := slices.Clone(opts.Inputs)
	sort.Strings(inputs)
	for _, path := range inputs {
		if _, ok := g.modules[path]; !ok {
			return nil, fmt.Errorf("input %s is not a scanned module", path)
		}
		push(path)
	}

	for i := 0; i < len(queue); i++ {
		m := g.modules[queue[i]]
		for _, name := range m.Requires {
			p, ok := g.provider[name]
			if !ok {
				if isExternal(name, opts.External) {
					continue
				}
				return nil, &UnresolvedDependencyError{Module: m.Path, Name: name}
			}
			push(p)
		}
	}

	sort.Strings(queue)
	return queue, nil
}

// order sorts the closure with Kahn's algorithm, always emitting the
// lexicographically smallest ready module next.
func (g *Graph) order(closure []string, opts Options) ([]string, error) {
	d := dag.New(dag.StringHash, dag.Directed())
	for _, path := range closure {
		if err := d.AddVertex(path); err != nil {
			return nil, err
		}
	}
	for _, path := range closure {
		for _, name := range g.modules[path].Requires {
			dep, ok := g.provider[name]
			if !ok || dep == path {
				continue // external, or no self-edges
			}
			// Edge dep → path: dep must be emitted first.
			if err := d.AddEdge(dep, path); err != nil && !errors.Is(err, dag.ErrEdgeAlreadyExists) {
				return nil, err
			}
		}
	}

	if err := detectCycles(d); err != nil {
		return nil, err
	}

	preds, err := d.PredecessorMap()
	if err != nil {
		return nil, err
	}
	adj, err := d.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(preds))
	var ready []string
	for _, path := range closure {
		indegree[path] = len(preds[path])
		if indegree[path] == 0 {
			ready = append(ready, path)
		}
	}

	order := make([]string, 0, len(closure))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for dependent := range adj[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				i, _ := slices.BinarySearch(ready, dependent)
				ready = slices.Insert(ready, i, dependent)
			}
		}
	}

	if len(order) != len(closure) {
		// detectCycles should have caught this.
		return nil, errors.New("dependency order could not be computed")
	}
	return order, nil
}

func detectCycles(d dag.Graph[string, string]) error {
	components, err := dag.StronglyConnectedComponents(d)
	if err != nil {
		return err
	}
	var cyclic []string
	for _, c := range components {
		if len(c) > 1 {
			cyclic = append(cyclic, c...)
		}
	}
	if len(cyclic) == 0 {
		return nil
	}
	sort.Strings(cyclic)
	return &CyclicDependencyError{Modules: cyclic}
}

// Dependencies returns one edge per (requiring module, providing module)
// pair across the whole graph, listing the names that link them.
// Requirements without a provider are omitted.
func (g *Graph) Dependencies() []model.Dependency {
	// Build edges: source → target → list of symbols
	type edgeKey struct{ src, tgt string }
	edgeSymbols := make(map[edgeKey][]string)

	for _, path := range g.paths {
		m := g.modules[path]
		for _, name := range m.Requires {
			target, ok := g.provider[name]
			if !ok || target == path {
				continue
			}
			key := edgeKey{path, target}
			edgeSymbols[key] = append(edgeSymbols[key], name)
		}
	}

	var deps []model.Dependency
	for key, syms := range edgeSymbols {
		deps = append(deps, model.Dependency{
			Source:  key.src,
			Target:  key.tgt,
			Symbols: syms,
		})
	}

	// Sort for deterministic output
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Source != deps[j].Source {
			return deps[i].Source < deps[j].Source
		}
		return deps[i].Target < deps[j].Target
	})

	return deps
}

func isExternal(name string, external []string) bool {
	for _, ns := range external {
		if name == ns || strings.HasPrefix(name, ns+".") {
			return true
		}
	}
	return false
}
