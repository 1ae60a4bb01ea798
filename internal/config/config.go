// Package config holds the run configuration: where the trace and the initial
// snapshot live, which checker to run, and how observed paths map onto the
// snapshot and scratch directories.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrMissingOption = errors.New("missing required option")

// Argv is a command line given either as a single string or as a list.
type Argv []string

func (a *Argv) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*a = Argv{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*a = list
		return nil
	}
	return fmt.Errorf("line %d: checker_tool must be a string or a list of strings", node.Line)
}

type Config struct {
	StraceFilePrefix      string   `yaml:"strace_file_prefix"`
	InitialSnapshot       string   `yaml:"initial_snapshot"`
	CheckerTool           Argv     `yaml:"checker_tool"`
	BasePath              string   `yaml:"base_path"`
	StartingCwd           string   `yaml:"starting_cwd"`
	InterestingPathString string   `yaml:"interesting_path_string"`
	ScratchpadDir         string   `yaml:"scratchpad_dir"`
	DebugLevel            int      `yaml:"debug_level"`
	IgnoreIoctl           []string `yaml:"ignore_ioctl"`
	IgnoreMmap            bool     `yaml:"ignore_mmap"`
	IgnoreStacktrace      bool     `yaml:"ignore_stacktrace"`

	interesting *regexp.Regexp
}

// Load reads a YAML config file. The caller runs Normalize after applying overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config data without normalizing it, so that flags can
// still override individual options before Normalize runs.
func Parse(data []byte) (*Config, error) {
	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// Normalize checks required options and fills in defaults.
func (cfg *Config) Normalize() error {
	if cfg.StraceFilePrefix == "" {
		return fmt.Errorf("%w: strace_file_prefix", ErrMissingOption)
	}
	if cfg.InitialSnapshot == "" {
		return fmt.Errorf("%w: initial_snapshot", ErrMissingOption)
	}
	if len(cfg.CheckerTool) == 0 || cfg.CheckerTool[0] == "" {
		return fmt.Errorf("%w: checker_tool", ErrMissingOption)
	}
	if cfg.BasePath == "" {
		return fmt.Errorf("%w: base_path", ErrMissingOption)
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		return fmt.Errorf("base_path must be absolute, got %q", cfg.BasePath)
	}
	if len(cfg.BasePath) > 1 {
		cfg.BasePath = strings.TrimSuffix(cfg.BasePath, "/")
	}
	if cfg.InterestingPathString == "" {
		cfg.InterestingPathString = "^" + regexp.QuoteMeta(cfg.BasePath)
	}
	if cfg.StartingCwd == "" {
		cfg.StartingCwd = cfg.BasePath
	}
	if cfg.ScratchpadDir == "" {
		cfg.ScratchpadDir = os.TempDir()
	}
	re, err := regexp.Compile(cfg.InterestingPathString)
	if err != nil {
		return fmt.Errorf("bad interesting_path_string: %w", err)
	}
	cfg.interesting = re
	return nil
}

// Interesting reports whether an observed absolute path is in scope.
func (cfg *Config) Interesting(path string) bool {
	if cfg.interesting == nil {
		return strings.HasPrefix(path, cfg.BasePath)
	}
	return cfg.interesting.MatchString(path)
}

// Absolute resolves a path observed in the trace against starting_cwd.
func (cfg *Config) Absolute(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cfg.StartingCwd, path)
}

// Relative maps an absolute path under base_path to a path relative to the
// snapshot root. The second result is false for paths outside base_path.
func (cfg *Config) Relative(path string) (string, bool) {
	rel, err := filepath.Rel(cfg.BasePath, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// ShortPath strips base_path for display.
func (cfg *Config) ShortPath(path string) string {
	if rel, ok := cfg.Relative(path); ok {
		return rel
	}
	return path
}
