// Package discover finds candidate module files beneath search roots.
package discover

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/G33kDude/pxt-blockly/internal/lang"
)

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // slash-separated, relative to the project base
	Language string
}

// Options controls what Files reports.
type Options struct {
	// SkipTests drops unit-test sources (foo_test.js, foo.test.js, foo.spec.js).
	SkipTests bool
}

var skipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
}

// Files discovers source files under every search root. Roots are relative to
// base. Results are deduplicated across overlapping roots and sorted by path,
// independent of the order the filesystem returns entries in.
func Files(base string, roots []string, opts Options) ([]FileEntry, error) {
	seen := make(map[string]struct{})
	var results []FileEntry

	for _, root := range roots {
		rootAbs := filepath.Join(base, filepath.FromSlash(root))
		info, err := os.Stat(rootAbs)
		if err != nil {
			return nil, fmt.Errorf("search root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("search root %s: not a directory", root)
		}
		gi := loadGitignore(rootAbs)

		err = filepath.WalkDir(rootAbs, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // skip errors
			}

			name := d.Name()

			if d.IsDir() {
				if p == rootAbs {
					return nil
				}
				if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}

			if strings.HasPrefix(name, ".") {
				return nil
			}

			// Skip symlinks
			if d.Type()&os.ModeSymlink != 0 {
				return nil
			}

			if gi != nil {
				if relRoot, err := filepath.Rel(rootAbs, p); err == nil && gi.MatchesPath(relRoot) {
					return nil
				}
			}

			langName := lang.ForExtension(filepath.Ext(name))
			if langName == "" {
				return nil
			}

			rel, err := filepath.Rel(base, p)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if opts.SkipTests && IsTestFile(rel) {
				return nil
			}
			if _, dup := seen[rel]; dup {
				return nil
			}
			seen[rel] = struct{}{}

			results = append(results, FileEntry{Path: rel, Language: langName})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

// Glob expands patterns relative to base and returns the matching files as
// sorted, deduplicated, slash-separated paths. A pattern without wildcards
// names a file that must exist.
func Glob(base string, patterns ...string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	for _, pattern := range patterns {
		abs := filepath.Join(base, filepath.FromSlash(pattern))
		if !hasMeta(pattern) {
			if _, err := os.Stat(abs); err != nil {
				return nil, fmt.Errorf("glob %s: %w", pattern, err)
			}
		}
		matches, err := filepath.Glob(abs)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err != nil || info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(base, m)
			if err != nil {
				return nil, err
			}
			rel = filepath.ToSlash(rel)
			if _, dup := seen[rel]; dup {
				continue
			}
			seen[rel] = struct{}{}
			out = append(out, rel)
		}
	}

	sort.Strings(out)
	return out, nil
}

// IsTestFile reports whether a slash-separated path looks like a unit test
// source rather than production code.
func IsTestFile(p string) bool {
	name := path.Base(p)
	for _, suffix := range []string{"_test.js", ".test.js", ".spec.js"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[\`)
}

func loadGitignore(root string) *ignore.GitIgnore {
	p := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		return nil
	}
	return gi
}
