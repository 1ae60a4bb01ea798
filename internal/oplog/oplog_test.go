package oplog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/divergentdave/alice/internal/config"
)

func testConfig(t *testing.T, prefix string) *config.Config {
	cfg := &config.Config{
		StraceFilePrefix: prefix,
		InitialSnapshot:  "/snap",
		CheckerTool:      config.Argv{"checker"},
		BasePath:         "/data",
		IgnoreIoctl:      []string{"FIONREAD"},
		IgnoreMmap:       true,
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

const testLog = `{"ops": [
	{"op": "creat", "path": "/data/f", "stack": [{"func": "main"}]},
	{"op": "write", "path": "f", "data": "hello"},
	{"op": "write", "path": "/etc/hosts", "data": "x"},
	{"op": "mwrite", "path": "/data/f", "data": "y"},
	{"op": "ioctl", "path": "/data/f", "name": "FIONREAD"},
	{"op": "ioctl", "path": "/data/f", "name": "FICLONE"},
	{"op": "fsync", "path": "/data/f"},
	{"op": "rename", "path": "/data/f", "dest": "/data/g", "id": "ren"}
]}`

func TestLoad(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "trace")
	if err := os.WriteFile(prefix+".json", []byte(testLog), 0644); err != nil {
		t.Fatal(err)
	}
	ops, err := Load(testConfig(t, prefix))
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ kind, path, id string }{
		{KindCreat, "f", "0"},
		{KindWrite, "f", "1"},
		{KindIoctl, "f", "5"},
		{KindFsync, "f", "6"},
		{KindRename, "f", "ren"},
	}
	if len(ops) != len(want) {
		t.Fatalf("got %d ops, want %d: %+v", len(ops), len(want), ops)
	}
	for i, w := range want {
		if ops[i].Kind != w.kind || ops[i].Path != w.path || ops[i].ID != w.id {
			t.Errorf("op %d: got %v (id %s), want %s %s (id %s)", i, ops[i], ops[i].ID, w.kind, w.path, w.id)
		}
	}
	if ops[4].Dest != "g" {
		t.Errorf("rename dest not translated: %q", ops[4].Dest)
	}
	if len(ops[0].Stack) != 1 {
		t.Errorf("stack dropped without ignore_stacktrace")
	}
}

func TestFilterErrors(t *testing.T) {
	cfg := testConfig(t, "unused")
	bad := [][]Op{
		{{Kind: "chmod", Path: "/data/f"}},
		{{Kind: KindRename, Path: "/data/f"}},
		{{Kind: KindWrite, Path: "/data/f", Offset: -1}},
		{{Kind: KindCreat}},
	}
	for i, ops := range bad {
		if _, err := Filter(cfg, ops); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestIgnoreStacktrace(t *testing.T) {
	cfg := testConfig(t, "unused")
	cfg.IgnoreStacktrace = true
	ops, err := Filter(cfg, []Op{{Kind: KindSync, Stack: []StackFrame{{FuncName: "f"}}}})
	if err != nil {
		t.Fatal(err)
	}
	if ops[0].Stack != nil {
		t.Errorf("stack kept: %+v", ops[0].Stack)
	}
}

func TestModel(t *testing.T) {
	if DefaultModel.String() != "count-1" {
		t.Errorf("default model: %v", DefaultModel)
	}
	for _, m := range SweepModels {
		if err := m.Validate(); err != nil {
			t.Errorf("%v: %v", m, err)
		}
		if m.Coarse() != (m.Kind == ModelAligned) {
			t.Errorf("%v: wrong coarseness", m)
		}
	}
	if err := (Model{ModelCount, 0}).Validate(); err == nil {
		t.Errorf("zero-size model accepted")
	}
	if err := (Model{"random", 1}).Validate(); err == nil {
		t.Errorf("unknown model kind accepted")
	}
}
