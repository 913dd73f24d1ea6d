package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/G33kDude/pxt-blockly/internal/config"
)

const configHeader = `# blocklybuild configuration.
#
# Every key is optional; omitted keys keep the values shown here. Any key can
# also be set through the environment, e.g. BLOCKLYBUILD_COMPILER_ENDPOINT.
`

// newInitCmd implements the init subcommand, which writes a config file
// populated with the built-in defaults.
func newInitCmd(opts *globalOptions, stdout, stderr io.Writer) *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Long: `Write a config file holding the built-in defaults, ready to edit.

path defaults to ` + config.FileName + ` in the project directory. An existing file is
left untouched unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			content, err := generateConfig()
			if err != nil {
				return err
			}

			if dryRun {
				_, _ = fmt.Fprint(stdout, content)
				return nil
			}

			path := filepath.Join(opts.dir, config.FileName)
			if len(args) > 0 {
				path = args[0]
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}

			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			_, _ = fmt.Fprintf(stderr, "wrote default config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the config instead of writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// generateConfig renders the default configuration as a commented YAML
// document.
func generateConfig() (string, error) {
	data, err := config.Default().YAML()
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	return configHeader + "\n" + string(data), nil
}
