package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/G33kDude/pxt-blockly/internal/config"
	"github.com/G33kDude/pxt-blockly/internal/graph"
	"github.com/G33kDude/pxt-blockly/internal/model"
	"github.com/G33kDude/pxt-blockly/internal/scan"
	"github.com/G33kDude/pxt-blockly/internal/toon"
)

func newDepsCmd(opts *globalOptions, stdout, stderr io.Writer) *cobra.Command {
	var requires []string

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Print the resolved module graph",
		Long: `Scan the search paths and print the module graph in TOON format.

Modules are listed in dependency order. With --require only the dependency
closure of the named namespaces is printed. Files whose declarations could
not be read are listed under skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(stderr)
			if err != nil {
				return err
			}
			g, err := moduleGraph(cmd.Context(), cfg, logger, requires)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, toon.Encode(g))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&requires, "require", "r", nil, "print only the closure of these namespaces")
	return cmd
}

// moduleGraph scans the configured search paths and resolves either the
// whole module set or the closure of requires.
func moduleGraph(ctx context.Context, cfg *config.Config, logger *slog.Logger, requires []string) (*model.ModuleGraph, error) {
	s := &scan.Scanner{
		Base:      cfg.BaseDir,
		Roots:     cfg.SearchPaths,
		SkipTests: cfg.SkipTests,
		Logger:    logger,
	}
	res, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	g, err := graph.New(res.Modules)
	if err != nil {
		return nil, err
	}
	var order []string
	if len(requires) > 0 {
		order, err = g.Resolve(requires, graph.Options{})
	} else {
		order, err = g.Order(graph.Options{})
	}
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}
	mg := &model.ModuleGraph{Root: filepath.Base(root)}

	included := make(map[string]bool, len(order))
	for _, p := range order {
		m, _ := g.Module(p)
		mg.Modules = append(mg.Modules, m)
		included[p] = true
	}
	for _, d := range g.Dependencies() {
		if included[d.Source] && included[d.Target] {
			mg.Dependencies = append(mg.Dependencies, d)
		}
	}
	for _, pe := range res.Skipped {
		mg.Skipped = append(mg.Skipped, model.SkippedFile{
			Path:   pe.Path,
			Line:   pe.Line,
			Reason: pe.Err.Error(),
		})
	}

	logger.Debug("resolved module graph",
		"scanned", g.Len(),
		"modules", len(mg.Modules),
		"dependencies", len(mg.Dependencies),
		"skipped", len(mg.Skipped),
	)
	return mg, nil
}
