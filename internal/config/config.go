// Package config loads blocklybuild settings from defaults, an optional
// YAML file, and BLOCKLYBUILD_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/G33kDude/pxt-blockly/internal/compiler"
	"github.com/G33kDude/pxt-blockly/internal/i18n"
)

// FileName is the config file looked up in the working directory.
const FileName = "blocklybuild.yaml"

// EnvPrefix prefixes environment overrides, e.g. BLOCKLYBUILD_JOBS or
// BLOCKLYBUILD_COMPILER_ENDPOINT.
const EnvPrefix = "BLOCKLYBUILD"

// Config is the complete build configuration. Paths are slash-separated
// and relative to BaseDir unless noted.
type Config struct {
	BaseDir       string `mapstructure:"base_dir" yaml:"base_dir"`
	OutputDir     string `mapstructure:"output_dir" yaml:"output_dir"`
	PackageFile   string `mapstructure:"package_file" yaml:"package_file"`
	VersionFile   string `mapstructure:"version_file" yaml:"version_file"`
	VersionSymbol string `mapstructure:"version_symbol" yaml:"version_symbol"`

	SearchPaths     []string `mapstructure:"search_paths" yaml:"search_paths"`
	SkipTests       bool     `mapstructure:"skip_tests" yaml:"skip_tests"`
	ClosurePrefixes []string `mapstructure:"closure_prefixes" yaml:"closure_prefixes"`

	CoreEntry        string `mapstructure:"core_entry" yaml:"core_entry"`
	CoreRequiresFile string `mapstructure:"core_requires_file" yaml:"core_requires_file"`

	BlocksGlob   string   `mapstructure:"blocks_glob" yaml:"blocks_glob"`
	BlocksExtra  []string `mapstructure:"blocks_extra" yaml:"blocks_extra"`
	BlocksShims  []string `mapstructure:"blocks_shims" yaml:"blocks_shims"`
	BlocksRemove string   `mapstructure:"blocks_remove" yaml:"blocks_remove"`

	Generators      []string `mapstructure:"generators" yaml:"generators"`
	GeneratorShims  []string `mapstructure:"generator_shims" yaml:"generator_shims"`
	GeneratorRemove string   `mapstructure:"generator_remove" yaml:"generator_remove"`

	Compiler CompilerConfig `mapstructure:"compiler" yaml:"compiler"`
	I18n     i18n.Config    `mapstructure:"i18n" yaml:"i18n"`

	Jobs     int    `mapstructure:"jobs" yaml:"jobs"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// CompilerConfig configures the compilation service client.
type CompilerConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Default returns the configuration for the Blockly source layout.
func Default() *Config {
	return &Config{
		BaseDir:       ".",
		OutputDir:     ".",
		PackageFile:   "package.json",
		VersionFile:   "core/blockly.js",
		VersionSymbol: "Blockly.VERSION",

		SearchPaths: []string{
			"core",
			"node_modules/google-closure-library/closure/goog",
		},
		ClosurePrefixes: []string{"closure", "node_modules"},

		CoreEntry:        "Blockly.requires",
		CoreRequiresFile: "core/requires.js",

		BlocksGlob:  "blocks/*.js",
		BlocksExtra: []string{"core/colours.js", "core/constants.js"},
		BlocksShims: []string{
			"Blockly",
			"Blockly.Blocks",
			"Blockly.Comment",
			"Blockly.FieldCheckbox",
			"Blockly.FieldColour",
			"Blockly.FieldDropdown",
			"Blockly.FieldImage",
			"Blockly.FieldLabel",
			"Blockly.FieldMultilineInput",
			"Blockly.FieldNumber",
			"Blockly.FieldTextInput",
			"Blockly.FieldVariable",
			"Blockly.Mutator",
			"Blockly.Warning",
		},
		BlocksRemove: `var Blockly=\{[^;]*\};\n?`,

		Generators: []string{"javascript", "python", "php", "lua", "dart", "autohotkey"},
		GeneratorShims: []string{
			"Blockly.Generator",
			"Blockly.utils.global",
			"Blockly.utils.string",
		},
		GeneratorRemove: `var Blockly=\{[^;]*\};\s*Blockly.utils.global={};\s*Blockly.utils.string={};\n?`,

		Compiler: CompilerConfig{
			Endpoint: compiler.DefaultEndpoint,
			Timeout:  compiler.DefaultTimeout,
		},
		I18n: i18n.DefaultConfig(),

		LogLevel: "warn",
	}
}

// Load reads configuration. With an explicit path the file must exist;
// otherwise FileName is looked up in dir and may be absent.
func Load(path, dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to
// Unmarshal even when no config file sets them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_dir", d.BaseDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("package_file", d.PackageFile)
	v.SetDefault("version_file", d.VersionFile)
	v.SetDefault("version_symbol", d.VersionSymbol)
	v.SetDefault("search_paths", d.SearchPaths)
	v.SetDefault("skip_tests", d.SkipTests)
	v.SetDefault("closure_prefixes", d.ClosurePrefixes)
	v.SetDefault("core_entry", d.CoreEntry)
	v.SetDefault("core_requires_file", d.CoreRequiresFile)
	v.SetDefault("blocks_glob", d.BlocksGlob)
	v.SetDefault("blocks_extra", d.BlocksExtra)
	v.SetDefault("blocks_shims", d.BlocksShims)
	v.SetDefault("blocks_remove", d.BlocksRemove)
	v.SetDefault("generators", d.Generators)
	v.SetDefault("generator_shims", d.GeneratorShims)
	v.SetDefault("generator_remove", d.GeneratorRemove)
	v.SetDefault("compiler.endpoint", d.Compiler.Endpoint)
	v.SetDefault("compiler.timeout", d.Compiler.Timeout)
	v.SetDefault("i18n.python", d.I18n.Python)
	v.SetDefault("i18n.script_dir", d.I18n.ScriptDir)
	v.SetDefault("i18n.messages_file", d.I18n.MessagesFile)
	v.SetDefault("i18n.json_dir", d.I18n.JSONDir)
	v.SetDefault("i18n.output_dir", d.I18n.OutputDir)
	v.SetDefault("jobs", d.Jobs)
	v.SetDefault("log_level", d.LogLevel)
}

// Error reports an invalid setting.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Validate checks settings that would otherwise fail deep inside a build.
func (c *Config) Validate() error {
	if len(c.SearchPaths) == 0 {
		return &Error{Field: "search_paths", Message: "at least one search path is required"}
	}
	if c.Jobs < 0 {
		return &Error{Field: "jobs", Message: "must not be negative"}
	}
	if c.Compiler.Timeout < 0 {
		return &Error{Field: "compiler.timeout", Message: "must not be negative"}
	}
	if _, err := regexp.Compile(c.BlocksRemove); err != nil {
		return &Error{Field: "blocks_remove", Message: err.Error()}
	}
	if _, err := regexp.Compile(c.GeneratorRemove); err != nil {
		return &Error{Field: "generator_remove", Message: err.Error()}
	}
	return nil
}

// Path resolves a base-relative, slash-separated path.
func (c *Config) Path(rel string) string {
	return filepath.Join(c.BaseDir, filepath.FromSlash(rel))
}

// OutputPath resolves an artifact name inside OutputDir.
func (c *Config) OutputPath(name string) string {
	dir := c.OutputDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.BaseDir, dir)
	}
	return filepath.Join(dir, name)
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ReadVersion returns the "version" field of the package manifest.
func (c *Config) ReadVersion() (string, error) {
	data, err := os.ReadFile(c.Path(c.PackageFile))
	if err != nil {
		return "", fmt.Errorf("reading version: %w", err)
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("parsing %s: %w", c.PackageFile, err)
	}
	if pkg.Version == "" {
		return "", fmt.Errorf("%s has no version field", c.PackageFile)
	}
	return pkg.Version, nil
}
