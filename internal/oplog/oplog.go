package oplog

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/divergentdave/alice/internal/config"
	"github.com/divergentdave/alice/internal/log"
)

// Operation kinds understood by the loader.
const (
	KindCreat     = "creat"
	KindMkdir     = "mkdir"
	KindWrite     = "write"
	KindMwrite    = "mwrite"
	KindTruncate  = "truncate"
	KindUnlink    = "unlink"
	KindRmdir     = "rmdir"
	KindRename    = "rename"
	KindFsync     = "fsync"
	KindFdatasync = "fdatasync"
	KindSync      = "sync"
	KindIoctl     = "ioctl"
)

var knownKinds = map[string]bool{
	KindCreat: true, KindMkdir: true, KindWrite: true, KindMwrite: true, KindTruncate: true,
	KindUnlink: true, KindRmdir: true, KindRename: true, KindFsync: true, KindFdatasync: true,
	KindSync: true, KindIoctl: true,
}

// Op is a single logical operation as recorded in the operation log file.
type Op struct {
	ID     string       `json:"id,omitempty"`
	Kind   string       `json:"op"`
	Path   string       `json:"path,omitempty"`
	Dest   string       `json:"dest,omitempty"`
	Offset int64        `json:"offset,omitempty"`
	Data   string       `json:"data,omitempty"`
	Size   int64        `json:"size,omitempty"`
	Name   string       `json:"name,omitempty"`
	Stdout string       `json:"stdout,omitempty"`
	Stack  []StackFrame `json:"stack,omitempty"`
}

func (op Op) String() string {
	switch op.Kind {
	case KindWrite, KindMwrite:
		return fmt.Sprintf("%s(%q, offset=%d, count=%d)", op.Kind, op.Path, op.Offset, len(op.Data))
	case KindTruncate:
		return fmt.Sprintf("truncate(%q, %d)", op.Path, op.Size)
	case KindRename:
		return fmt.Sprintf("rename(%q, %q)", op.Path, op.Dest)
	case KindSync:
		return "sync()"
	case KindIoctl:
		return fmt.Sprintf("ioctl(%q, %s)", op.Path, op.Name)
	default:
		return fmt.Sprintf("%s(%q)", op.Kind, op.Path)
	}
}

// IsBarrier reports whether the op forces earlier writes to disk.
func (op Op) IsBarrier() bool {
	return op.Kind == KindFsync || op.Kind == KindFdatasync || op.Kind == KindSync
}

type logFile struct {
	Ops []Op `json:"ops"`
}

// Load reads the operation log named by strace_file_prefix and keeps the ops
// the configuration marks as interesting. Paths of the returned ops are
// relative to the snapshot root.
func Load(cfg *config.Config) ([]Op, error) {
	path := cfg.StraceFilePrefix
	if _, err := os.Stat(path); err != nil {
		path += ".json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading operation log: %w", err)
	}
	var file logFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing operation log %s: %w", path, err)
	}
	return Filter(cfg, file.Ops)
}

// Filter applies the ignore options and the interesting-path filter to raw ops.
func Filter(cfg *config.Config, raw []Op) ([]Op, error) {
	ignoredIoctls := make(map[string]bool)
	for _, name := range cfg.IgnoreIoctl {
		ignoredIoctls[name] = true
	}
	var ops []Op
	for i, op := range raw {
		if !knownKinds[op.Kind] {
			return nil, fmt.Errorf("op %d: unknown operation %q", i, op.Kind)
		}
		if op.ID == "" {
			op.ID = strconv.Itoa(i)
		}
		if cfg.IgnoreStacktrace {
			op.Stack = nil
		}
		if op.Kind == KindMwrite && cfg.IgnoreMmap {
			log.Logf(2, "ignoring mmap write %v", op)
			continue
		}
		if op.Kind == KindIoctl && ignoredIoctls[op.Name] {
			log.Logf(2, "ignoring ioctl %v", op)
			continue
		}
		keep := true
		for _, p := range []*string{&op.Path, &op.Dest} {
			if *p == "" {
				continue
			}
			abs := cfg.Absolute(*p)
			rel, ok := cfg.Relative(abs)
			if !cfg.Interesting(abs) || !ok {
				keep = false
				break
			}
			*p = rel
		}
		if !keep {
			log.Logf(2, "ignoring uninteresting %v", op)
			continue
		}
		if err := validate(op); err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func validate(op Op) error {
	switch op.Kind {
	case KindSync, KindIoctl:
		return nil
	case KindRename:
		if op.Path == "" || op.Dest == "" {
			return fmt.Errorf("rename needs path and dest")
		}
	case KindWrite, KindMwrite:
		if op.Offset < 0 {
			return fmt.Errorf("negative write offset %d", op.Offset)
		}
	case KindTruncate:
		if op.Size < 0 {
			return fmt.Errorf("negative truncate size %d", op.Size)
		}
	}
	if op.Path == "" {
		return fmt.Errorf("%s needs a path", op.Kind)
	}
	return nil
}
