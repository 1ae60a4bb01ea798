package explorer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/divergentdave/alice/internal/config"
	"github.com/divergentdave/alice/internal/stack"
)

const renameTrace = `{"ops": [
	{"op": "creat", "path": "/app/f"},
	{"op": "write", "path": "f", "data": "hello", "stdout": "wrote\n"},
	{"op": "rename", "path": "/app/f", "dest": "/app/g", "stdout": "renamed\n"},
	{"op": "creat", "path": "/elsewhere/h"}
]}`

// The application only accepts an empty directory or a fully renamed file.
const renameChecker = `#!/bin/sh
echo "$1" >> "$(dirname "$0")/images.log"
test -e "$1/f" && { echo "temporary file left behind"; exit 1; }
if test -e "$1/g"; then
	test "$(cat "$1/g")" = hello || { echo "g is torn"; exit 1; }
fi
exit 0
`

func TestRunEndToEnd(t *testing.T) {
	tmp := t.TempDir()
	trace := filepath.Join(tmp, "trace.json")
	checker := filepath.Join(tmp, "checker.sh")
	snapshot := filepath.Join(tmp, "snapshot")
	scratch := filepath.Join(tmp, "scratch")
	for path, data := range map[string]string{trace: renameTrace, checker: renameChecker} {
		if err := os.WriteFile(path, []byte(data), 0755); err != nil {
			t.Fatal(err)
		}
	}
	for _, dir := range []string{snapshot, scratch} {
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{
		StraceFilePrefix: filepath.Join(tmp, "trace"),
		InitialSnapshot:  snapshot,
		CheckerTool:      config.Argv{checker},
		BasePath:         "/app",
		ScratchpadDir:    scratch,
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	opts := RunOptions{
		Workers:     2,
		LogDir:      filepath.Join(tmp, "logs"),
		TimelineDir: filepath.Join(tmp, "timelines"),
		RunID:       "test",
		Out:         new(bytes.Buffer),
	}
	rep, err := Run(context.Background(), cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	out := opts.Out.(*bytes.Buffer).String()

	if len(rep.Dynamic) != 1 || rep.Dynamic[0].Kind != KindAcrossAtomicity || !reflect.DeepEqual(rep.Dynamic[0].Mops, []int{0, 1}) {
		t.Fatalf("got findings %v, want operations 0 until 1", rep.Dynamic)
	}
	want := StaticFinding{
		Kind:      KindAcrossAtomicity,
		Locations: []string{stack.UnknownPrefix + "0", stack.UnknownPrefix + "1"},
	}
	if len(rep.Static) != 1 || !reflect.DeepEqual(rep.Static[0], want) {
		t.Errorf("got static findings %v, want %v", rep.Static, want)
	}
	if !reflect.DeepEqual(rep.Patched, []int{0, 1}) {
		t.Errorf("got patched %v", rep.Patched)
	}
	if rep.InconsistentAtEnd {
		t.Error("flagged inconsistent at end")
	}
	if !strings.Contains(out, "2\trename(\"f\", \"g\")\t(1 dops)") || strings.Contains(out, "elsewhere") {
		t.Errorf("unexpected operation listing:\n%s", out)
	}

	for _, name := range []string{"truncate_after_0_stdout.log", "truncate_after_1_stdout.log"} {
		data, err := os.ReadFile(filepath.Join(opts.LogDir, name))
		if err != nil {
			t.Error(err)
		} else if !strings.Contains(string(data), "temporary file left behind") {
			t.Errorf("%s: %q", name, data)
		}
	}
	if _, err := os.Stat(filepath.Join(opts.LogDir, "truncate_after_2_stdout.log")); !os.IsNotExist(err) {
		t.Errorf("output of a passing check was kept: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.TimelineDir, "test-"+PhaseAcrossAtomicity+".html")); err != nil {
		t.Errorf("no timeline: %v", err)
	}
	images, err := os.ReadFile(filepath.Join(tmp, "images.log"))
	if err != nil {
		t.Fatal(err)
	}
	for _, image := range strings.Fields(string(images)) {
		if filepath.Dir(image) != scratch || !strings.HasPrefix(filepath.Base(image), "reconstructeddir-") {
			t.Errorf("crash image %s not built directly in %s", image, scratch)
		}
	}
	leftovers, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("scratch directory not cleaned up: %v", leftovers)
	}
}
