// Package scan turns search roots into the set of candidate modules.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/G33kDude/pxt-blockly/internal/discover"
	"github.com/G33kDude/pxt-blockly/internal/lang"
	"github.com/G33kDude/pxt-blockly/internal/model"
	"github.com/G33kDude/pxt-blockly/internal/parse"
)

// Scanner walks search roots and extracts each module's declarations
// without executing any file.
type Scanner struct {
	Base      string   // project base directory
	Roots     []string // search roots, relative to Base
	SkipTests bool
	Workers   int // 0 means GOMAXPROCS
	Logger    *slog.Logger
}

// Result is the outcome of a scan. Modules are sorted by path; files whose
// declarations could not be read are listed in Skipped.
type Result struct {
	Modules []model.Module
	Skipped []*parse.ParseError
}

// Scan discovers and parses every module beneath the search roots.
// Zero modules is not an error.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	files, err := discover.Files(s.Base, s.Roots, discover.Options{SkipTests: s.SkipTests})
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	return s.parseFiles(ctx, files)
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scanner) parseFiles(ctx context.Context, files []discover.FileEntry) (*Result, error) {
	type result struct {
		index  int
		module model.Module
		err    *parse.ParseError
	}

	res := &Result{}
	if len(files) == 0 {
		return res, nil
	}

	numWorkers := s.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	var setupErr error
	var setupOnce sync.Once

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parser
			parsers := make(map[string]*parserPair)

			for idx := range work {
				if ctx.Err() != nil {
					continue
				}
				f := files[idx]
				pp, ok := parsers[f.Language]
				if !ok {
					l := lang.Languages[f.Language]
					q, err := l.DeclarationQuery()
					if err != nil {
						setupOnce.Do(func() { setupErr = fmt.Errorf("%s query: %w", f.Language, err) })
						continue
					}
					pp = &parserPair{parser: l.NewParser(), query: q}
					parsers[f.Language] = pp
				}

				source, err := os.ReadFile(filepath.Join(s.Base, filepath.FromSlash(f.Path)))
				if err != nil {
					results <- result{index: idx, err: &parse.ParseError{Path: f.Path, Err: err}}
					continue
				}

				decls, err := parse.ExtractDeclarations(pp.parser, pp.query, source, f.Path)
				if err != nil {
					var pe *parse.ParseError
					if !errors.As(err, &pe) {
						pe = &parse.ParseError{Path: f.Path, Err: err}
					}
					results <- result{index: idx, err: pe}
					continue
				}
				results <- result{index: idx, module: model.NewModule(f.Path, decls)}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	indexed := make([]result, len(files))
	valid := make([]bool, len(files))
	for r := range results {
		indexed[r.index] = r
		valid[r.index] = true
	}

	if setupErr != nil {
		return nil, setupErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, v := range valid {
		if !v {
			continue
		}
		r := indexed[i]
		if r.err != nil {
			s.logger().Warn("skipping module", "path", r.err.Path, "error", r.err.Err)
			res.Skipped = append(res.Skipped, r.err)
			continue
		}
		res.Modules = append(res.Modules, r.module)
	}

	return res, nil
}

type parserPair struct {
	parser *sitter.Parser
	query  *sitter.Query
}
