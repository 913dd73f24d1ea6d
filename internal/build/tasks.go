package build

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/G33kDude/pxt-blockly/internal/assemble"
	"github.com/G33kDude/pxt-blockly/internal/compiler"
	"github.com/G33kDude/pxt-blockly/internal/discover"
	"github.com/G33kDude/pxt-blockly/internal/graph"
	"github.com/G33kDude/pxt-blockly/internal/i18n"
	"github.com/G33kDude/pxt-blockly/internal/model"
	"github.com/G33kDude/pxt-blockly/internal/postprocess"
	"github.com/G33kDude/pxt-blockly/internal/scan"
)

// LoaderTask writes the uncompressed loader script: every module under the
// search paths, registered in dependency order.
type LoaderTask struct {
	Output string
}

func (t *LoaderTask) Name() string { return t.Output }

func (t *LoaderTask) Run(ctx context.Context, env *Env, r *Report) error {
	err := t.run(ctx, env, r)
	if err != nil {
		writeError(r, t.Output, err, nil)
	}
	return err
}

func (t *LoaderTask) run(ctx context.Context, env *Env, r *Report) error {
	cfg := env.Config

	modules, err := scanModules(ctx, env)
	if err != nil {
		return err
	}
	g, err := graph.New(modules)
	if err != nil {
		return err
	}
	order, err := g.Order(graph.Options{})
	if err != nil {
		return err
	}

	baseDir, ok := assemble.FindClosureBase(order)
	if !ok {
		return fmt.Errorf("no %s found under %v", assemble.ClosureBaseFile, cfg.SearchPaths)
	}

	ordered := make([]model.Module, len(order))
	for i, p := range order {
		ordered[i], _ = g.Module(p)
	}

	content := postprocess.Header + assemble.Loader(ordered, assemble.LoaderOptions{
		BaseDir: baseDir,
		Entry:   cfg.CoreEntry,
	})
	if err := writeArtifact(cfg.OutputPath(t.Output), content); err != nil {
		return err
	}

	r.Printf("SUCCESS: %s\n", t.Output)
	return nil
}

// FileSource lists the files of a compressed target in submission order.
type FileSource interface {
	Files(ctx context.Context, env *Env) ([]string, error)
}

// ResolvedFiles is the dependency closure of Inputs (module paths), in
// resolver order.
type ResolvedFiles struct {
	Inputs []string
}

func (s ResolvedFiles) Files(ctx context.Context, env *Env) ([]string, error) {
	modules, err := scanModules(ctx, env)
	if err != nil {
		return nil, err
	}
	g, err := graph.New(modules)
	if err != nil {
		return nil, err
	}
	return g.Resolve(nil, graph.Options{Inputs: s.Inputs})
}

// GlobFiles collects files without consulting the dependency graph: Lead
// files first, then the sorted matches of Patterns.
type GlobFiles struct {
	Lead     []string
	Patterns []string
}

func (s GlobFiles) Files(_ context.Context, env *Env) ([]string, error) {
	var lead []string
	if len(s.Lead) > 0 {
		var err error
		if lead, err = discover.Glob(env.Config.BaseDir, s.Lead...); err != nil {
			return nil, err
		}
	}
	matches, err := discover.Glob(env.Config.BaseDir, s.Patterns...)
	if err != nil {
		return nil, err
	}
	files := slices.Clone(lead)
	for _, m := range matches {
		if !slices.Contains(lead, m) {
			files = append(files, m)
		}
	}
	return files, nil
}

// CompileTask builds one compressed artifact through the compilation
// service.
type CompileTask struct {
	Output string
	Source FileSource

	Shims             []string
	Remove            *regexp.Regexp
	Exclude           []string
	UseClosureLibrary bool
	InjectVersion     bool
	StripTypeRequires bool
}

func (t *CompileTask) Name() string { return t.Output }

func (t *CompileTask) Run(ctx context.Context, env *Env, r *Report) error {
	var names []string
	err := t.run(ctx, env, r, &names)
	if err != nil {
		writeError(r, t.Output, err, names)
	}
	return err
}

func (t *CompileTask) run(ctx context.Context, env *Env, r *Report, names *[]string) error {
	cfg := env.Config
	log := env.logger().With("target", t.Output)

	files, err := t.Source.Files(ctx, env)
	if err != nil {
		return err
	}

	opts := assemble.Options{
		Shims:             t.Shims,
		Exclude:           t.Exclude,
		StripTypeRequires: t.StripTypeRequires,
	}
	if t.InjectVersion {
		opts.Version = env.Version
		opts.VersionFile = cfg.VersionFile
		opts.VersionSymbol = cfg.VersionSymbol
	}
	payload, err := assemble.Build(cfg.BaseDir, files, opts)
	if err != nil {
		return err
	}
	*names = payload.Names()
	log.Info("submitting payload", "files", len(files), "fragments", len(payload.Fragments))

	resp, err := env.Client.Compile(ctx, payload, compiler.Options{UseClosureLibrary: t.UseClosureLibrary})
	if resp != nil && resp.Succeeded() && len(resp.Warnings) > 0 {
		for _, w := range resp.Warnings {
			compiler.WriteDiagnostic(r, "WARNING", w, *names)
		}
		r.Println()
	}
	if err != nil {
		return err
	}

	content := postprocess.Finalize(resp.Code(), t.Remove)
	if err := writeArtifact(cfg.OutputPath(t.Output), content); err != nil {
		return err
	}

	r.Printf("SUCCESS: %s\n", t.Output)
	r.Println(resp.Statistics.Report())
	return nil
}

// LangfilesTask runs the localization pipeline.
type LangfilesTask struct{}

func (t *LangfilesTask) Name() string { return "langfiles" }

func (t *LangfilesTask) Run(ctx context.Context, env *Env, r *Report) error {
	p := &i18n.Pipeline{
		Base:   env.Config.BaseDir,
		Config: env.Config.I18n,
		Logger: env.logger(),
	}
	res, err := p.Run(ctx)
	if err != nil {
		writeError(r, t.Name(), err, nil)
		return err
	}

	for _, f := range res.Created {
		r.Printf("SUCCESS: %s\n", f)
	}
	for _, f := range res.Missing {
		r.Printf("FAILED to create %s\n", f)
	}
	if len(res.Missing) > 0 {
		return &MissingOutputError{Files: res.Missing}
	}
	return nil
}

func scanModules(ctx context.Context, env *Env) ([]model.Module, error) {
	s := &scan.Scanner{
		Base:      env.Config.BaseDir,
		Roots:     env.Config.SearchPaths,
		SkipTests: env.Config.SkipTests,
		Logger:    env.logger(),
	}
	res, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return res.Modules, nil
}
