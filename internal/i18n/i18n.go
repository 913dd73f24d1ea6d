// Package i18n drives the localization pipeline: two external scripts that
// turn the master message catalog into one generated source file per
// language. Catalog contents are never parsed here.
package i18n

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/G33kDude/pxt-blockly/internal/discover"
)

// Config locates the pipeline's scripts and catalogs. Paths are
// slash-separated and relative to the project base directory.
type Config struct {
	Python       string `mapstructure:"python" yaml:"python"`
	ScriptDir    string `mapstructure:"script_dir" yaml:"script_dir"`
	MessagesFile string `mapstructure:"messages_file" yaml:"messages_file"`
	JSONDir      string `mapstructure:"json_dir" yaml:"json_dir"`
	OutputDir    string `mapstructure:"output_dir" yaml:"output_dir"`
}

// DefaultConfig matches the Blockly source layout.
func DefaultConfig() Config {
	return Config{
		Python:       "python",
		ScriptDir:    "i18n",
		MessagesFile: "msg/messages.js",
		JSONDir:      "msg/json",
		OutputDir:    "msg/js",
	}
}

// Catalogs consumed by create_messages.py as named inputs rather than as
// languages to generate.
var reservedCatalogs = []string{"keys.json", "synonyms.json", "qqq.json", "constants.json"}

// StepError reports a failed pipeline step.
type StepError struct {
	Step   string // script name
	Output string // combined output of the process
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("error running %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result lists the per-language outputs the pipeline was expected to
// produce, split by whether they exist afterwards.
type Result struct {
	Created []string
	Missing []string
}

// Pipeline runs the two localization steps in a project directory.
type Pipeline struct {
	Base   string
	Config Config
	Logger *slog.Logger
}

// Run converts the master catalog to JSON, generates one source file per
// language catalog, and checks which outputs exist.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	cfg := p.Config

	// msg/json/{en,qqq,synonyms}.json depend on the master catalog.
	if err := p.step(ctx, "js_to_json.py",
		"--input_file", cfg.MessagesFile,
		"--output_dir", cfg.JSONDir+"/",
		"--quiet",
	); err != nil {
		return nil, err
	}

	catalogs, err := discover.Glob(p.Base, path.Join(cfg.JSONDir, "*.json"))
	if err != nil {
		return nil, &StepError{Step: "create_messages.py", Err: err}
	}
	catalogs = slices.DeleteFunc(catalogs, func(c string) bool {
		return slices.Contains(reservedCatalogs, path.Base(c))
	})

	args := []string{
		"--source_lang_file", path.Join(cfg.JSONDir, "en.json"),
		"--source_synonym_file", path.Join(cfg.JSONDir, "synonyms.json"),
		"--source_constants_file", path.Join(cfg.JSONDir, "constants.json"),
		"--key_file", path.Join(cfg.JSONDir, "keys.json"),
		"--output_dir", cfg.OutputDir,
		"--quiet",
	}
	if err := p.step(ctx, "create_messages.py", append(args, catalogs...)...); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, c := range catalogs {
		out := p.OutputFor(c)
		if _, err := os.Stat(filepath.Join(p.Base, filepath.FromSlash(out))); err == nil {
			res.Created = append(res.Created, out)
		} else {
			res.Missing = append(res.Missing, out)
		}
	}
	return res, nil
}

// OutputFor maps a language catalog to the source file generated from it.
func (p *Pipeline) OutputFor(catalog string) string {
	name := strings.TrimSuffix(path.Base(catalog), ".json") + ".js"
	return path.Join(p.Config.OutputDir, name)
}

func (p *Pipeline) step(ctx context.Context, script string, args ...string) error {
	python := p.Config.Python
	if python == "" {
		python = "python"
	}
	argv := append([]string{path.Join(p.Config.ScriptDir, script)}, args...)

	cmd := exec.CommandContext(ctx, python, argv...)
	cmd.Dir = p.Base
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	p.logger().Debug("running localization step", "script", script, "args", len(args))
	if err := cmd.Run(); err != nil {
		return &StepError{Step: path.Join(p.Config.ScriptDir, script), Output: out.String(), Err: err}
	}
	if out.Len() > 0 {
		p.logger().Debug("localization step output", "script", script, "output", strings.TrimSpace(out.String()))
	}
	return nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
