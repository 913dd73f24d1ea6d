// blocklybuild compiles the Blockly core, block definitions, code
// generators and language files.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/G33kDude/pxt-blockly/internal/build"
	"github.com/G33kDude/pxt-blockly/internal/compiler"
	"github.com/G33kDude/pxt-blockly/internal/config"
	"github.com/G33kDude/pxt-blockly/internal/logging"
)

var version = "dev"

const accessibleMoved = "The Blockly accessibility demo has moved to https://github.com/google/blockly-experimental"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	exit := build.ExitOK
	root := newRootCmd(stdout, stderr, &exit)
	root.SetArgs(normalizeArgs(args))

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return build.ExitFatal
	}
	return exit
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dir        string
	verbose    int
	quiet      bool
}

// load reads the configuration and builds the logger. Relative base
// directories are resolved against the project directory.
func (o *globalOptions) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath, o.dir)
	if err != nil {
		return nil, nil, err
	}
	if !filepath.IsAbs(cfg.BaseDir) {
		cfg.BaseDir = filepath.Join(o.dir, cfg.BaseDir)
	}

	level := logging.LevelFromVerbosity(logging.LevelFromString(cfg.LogLevel), o.verbose, o.quiet)
	return cfg, logging.NewLogger(stderr, level), nil
}

func newRootCmd(stdout, stderr io.Writer, exit *int) *cobra.Command {
	opts := &globalOptions{}
	var sel selection

	cmd := &cobra.Command{
		Use:   "blocklybuild [core] [generators] [langfiles]",
		Short: "Build the Blockly distribution files",
		Long: `Build the Blockly distribution files.

Targets are grouped as core (the uncompressed loader plus the compressed core
and block bundles), generators (one compressed bundle per code generator) and
langfiles (the localized message files). With no selection every group is
built. Groups may be selected with flags or, in the legacy style, as words.

Exit status is 0 when every target succeeded, 1 when the compiler rejected an
input, and 2 when a target failed for any other reason.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := sel.groups(args, stdout)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				return nil
			}

			cfg, logger, err := opts.load(stderr)
			if err != nil {
				return err
			}
			env, err := newEnv(cfg, logger, groups)
			if err != nil {
				return err
			}
			tasks, err := build.Tasks(cfg, groups)
			if err != nil {
				return err
			}

			logger.Debug("starting build", "groups", len(groups), "tasks", len(tasks), "jobs", cfg.Jobs)
			o := &build.Orchestrator{Env: env, Out: stdout, Jobs: cfg.Jobs}
			results := o.Run(cmd.Context(), tasks)
			*exit = build.ExitCode(results)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("blocklybuild {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ./"+config.FileName+" if present)")
	pf.StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	pf.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (repeatable)")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress log output")

	f := cmd.Flags()
	f.BoolVar(&sel.core, "core", false, "build core")
	f.BoolVar(&sel.generators, "generators", false, "build the generators")
	f.BoolVar(&sel.langfiles, "langfiles", false, "build all the language files")

	cmd.AddCommand(
		newDepsCmd(opts, stdout, stderr),
		newInitCmd(opts, stdout, stderr),
		newVersionCmd(stdout),
	)
	return cmd
}

// newEnv builds the shared task environment. The package version is only
// read when the core bundle needs it.
func newEnv(cfg *config.Config, logger *slog.Logger, groups []build.Group) (*build.Env, error) {
	env := &build.Env{
		Config: cfg,
		Client: compiler.NewClient(cfg.Compiler.Endpoint, cfg.Compiler.Timeout, logger),
		Logger: logger,
	}
	if slices.Contains(groups, build.Core) {
		v, err := cfg.ReadVersion()
		if err != nil {
			return nil, err
		}
		env.Version = v
	}
	return env, nil
}

// selection is the set of groups requested with flags.
type selection struct {
	core, generators, langfiles bool
}

// groups combines flags and legacy words. Words take precedence; with
// neither, every group is selected.
func (s selection) groups(words []string, stdout io.Writer) ([]build.Group, error) {
	if len(words) > 0 {
		var groups []build.Group
		for _, w := range words {
			if w == "accessible" {
				_, _ = fmt.Fprintln(stdout, accessibleMoved)
				continue
			}
			g, err := build.ParseGroup(w)
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
		return ordered(groups), nil
	}

	var groups []build.Group
	if s.core {
		groups = append(groups, build.Core)
	}
	if s.generators {
		groups = append(groups, build.Generators)
	}
	if s.langfiles {
		groups = append(groups, build.Langfiles)
	}
	if len(groups) == 0 {
		return build.AllGroups, nil
	}
	return groups, nil
}

// ordered returns the distinct groups in build order.
func ordered(groups []build.Group) []build.Group {
	var out []build.Group
	for _, g := range build.AllGroups {
		if slices.Contains(groups, g) {
			out = append(out, g)
		}
	}
	return out
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			_, _ = fmt.Fprintf(stdout, "blocklybuild %s\n", version)
		},
	}
}

// singleDashFlags lists the group flags accepted with one dash.
var singleDashFlags = map[string]string{
	"-core":       "--core",
	"-generators": "--generators",
	"-langfiles":  "--langfiles",
}

// normalizeArgs rewrites single-dash group flags to their long form so
// the flag parser does not read them as shorthand clusters.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			out = append(out, args[i:]...)
			break
		}
		if long, ok := singleDashFlags[a]; ok {
			a = long
		}
		out = append(out, a)
	}
	return out
}
