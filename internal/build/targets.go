package build

import (
	"fmt"
	"path"
	"regexp"

	"github.com/G33kDude/pxt-blockly/internal/config"
)

// Group is a set of targets requested together.
type Group string

const (
	Core       Group = "core"
	Generators Group = "generators"
	Langfiles  Group = "langfiles"
)

// AllGroups lists every group in build order.
var AllGroups = []Group{Core, Generators, Langfiles}

// ParseGroup validates a group name.
func ParseGroup(s string) (Group, error) {
	for _, g := range AllGroups {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown target group %q", s)
}

// Artifact names.
const (
	UncompressedFile = "blockly_uncompressed.js"
	CoreFile         = "blockly_compressed.js"
	BlocksFile       = "blocks_compressed.js"
)

// GeneratorFile names the artifact for a generator language.
func GeneratorFile(lang string) string {
	return lang + "_compressed.js"
}

// Tasks returns the tasks for the requested groups, in group order.
// Duplicate groups are ignored.
func Tasks(cfg *config.Config, groups []Group) ([]Task, error) {
	blocksRemove, err := regexp.Compile(cfg.BlocksRemove)
	if err != nil {
		return nil, fmt.Errorf("blocks_remove: %w", err)
	}
	generatorRemove, err := regexp.Compile(cfg.GeneratorRemove)
	if err != nil {
		return nil, fmt.Errorf("generator_remove: %w", err)
	}

	want := make(map[Group]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}

	var tasks []Task
	if want[Core] {
		tasks = append(tasks,
			&LoaderTask{Output: UncompressedFile},
			&CompileTask{
				Output:            CoreFile,
				Source:            ResolvedFiles{Inputs: []string{cfg.CoreRequiresFile}},
				Exclude:           cfg.ClosurePrefixes,
				UseClosureLibrary: true,
				InjectVersion:     true,
				StripTypeRequires: true,
			},
			&CompileTask{
				Output: BlocksFile,
				Source: GlobFiles{Patterns: append([]string{cfg.BlocksGlob}, cfg.BlocksExtra...)},
				Shims:  cfg.BlocksShims,
				Remove: blocksRemove,
			},
		)
	}
	if want[Generators] {
		for _, lang := range cfg.Generators {
			tasks = append(tasks, &CompileTask{
				Output: GeneratorFile(lang),
				Source: GlobFiles{
					Lead:     []string{path.Join("generators", lang+".js")},
					Patterns: []string{path.Join("generators", lang, "*.js")},
				},
				Shims:  cfg.GeneratorShims,
				Remove: generatorRemove,
			})
		}
	}
	if want[Langfiles] {
		tasks = append(tasks, &LangfilesTask{})
	}
	return tasks, nil
}
