package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const fullConfig = `
strace_file_prefix: /traces/run
initial_snapshot: /snap
checker_tool: [/usr/bin/python3, check.py]
base_path: /data/app/
ignore_ioctl: [FIONREAD]
ignore_mmap: true
`

func TestParseAndNormalize(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	if cfg.BasePath != "/data/app" {
		t.Errorf("base_path not stripped: %q", cfg.BasePath)
	}
	if cfg.StartingCwd != "/data/app" {
		t.Errorf("starting_cwd default: %q", cfg.StartingCwd)
	}
	if cfg.InterestingPathString != "^/data/app" {
		t.Errorf("interesting_path_string default: %q", cfg.InterestingPathString)
	}
	if cfg.ScratchpadDir != os.TempDir() {
		t.Errorf("scratchpad_dir default: %q", cfg.ScratchpadDir)
	}
	if !reflect.DeepEqual(cfg.CheckerTool, Argv{"/usr/bin/python3", "check.py"}) {
		t.Errorf("checker_tool: %v", cfg.CheckerTool)
	}
	if !cfg.IgnoreMmap || !reflect.DeepEqual(cfg.IgnoreIoctl, []string{"FIONREAD"}) {
		t.Errorf("ignore options not loaded: %+v", cfg)
	}
	if !cfg.Interesting("/data/app/db/log") || cfg.Interesting("/etc/passwd") {
		t.Errorf("interesting path filter is wrong")
	}
}

func TestScalarCheckerTool(t *testing.T) {
	cfg, err := Parse([]byte("checker_tool: ./checker.sh\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.CheckerTool, Argv{"./checker.sh"}) {
		t.Errorf("checker_tool: %v", cfg.CheckerTool)
	}
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		missing bool
	}{
		{"no trace", Config{InitialSnapshot: "/s", CheckerTool: Argv{"c"}, BasePath: "/b"}, true},
		{"no snapshot", Config{StraceFilePrefix: "t", CheckerTool: Argv{"c"}, BasePath: "/b"}, true},
		{"no checker", Config{StraceFilePrefix: "t", InitialSnapshot: "/s", BasePath: "/b"}, true},
		{"no base", Config{StraceFilePrefix: "t", InitialSnapshot: "/s", CheckerTool: Argv{"c"}}, true},
		{"relative base", Config{StraceFilePrefix: "t", InitialSnapshot: "/s", CheckerTool: Argv{"c"}, BasePath: "b"}, false},
		{"bad regexp", Config{StraceFilePrefix: "t", InitialSnapshot: "/s", CheckerTool: Argv{"c"},
			BasePath: "/b", InterestingPathString: "("}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := test.cfg
			err := cfg.Normalize()
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, ErrMissingOption) != test.missing {
				t.Errorf("unexpected error kind: %v", err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := &Config{StraceFilePrefix: "t", InitialSnapshot: "/s", CheckerTool: Argv{"c"},
		BasePath: "/data", StartingCwd: "/data/sub"}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	if got := cfg.Absolute("f"); got != "/data/sub/f" {
		t.Errorf("Absolute: %q", got)
	}
	if rel, ok := cfg.Relative("/data/sub/f"); !ok || rel != "sub/f" {
		t.Errorf("Relative: %q %v", rel, ok)
	}
	if _, ok := cfg.Relative("/database/f"); ok {
		t.Errorf("path outside base_path mapped")
	}
	if got := cfg.ShortPath("/other"); got != "/other" {
		t.Errorf("ShortPath: %q", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice.yaml")
	if err := os.WriteFile(path, []byte(fullConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InitialSnapshot != "/snap" {
		t.Errorf("initial_snapshot: %q", cfg.InitialSnapshot)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("loading a missing file succeeded")
	}
}
