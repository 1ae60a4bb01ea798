package replay

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/divergentdave/alice/internal/oplog"
	"github.com/divergentdave/alice/internal/osutil"
)

// Materialize writes the crash image implied by the current selection into
// dir, and the application output observed up to the crash into stdoutPath.
func (r *Replayer) Materialize(dir, stdoutPath string) error {
	if !r.Legal() {
		return ErrIllegal
	}
	if osutil.IsExist(dir) {
		return fmt.Errorf("crash image %s already exists", dir)
	}
	if err := osutil.CopyTree(r.snapshot, dir); err != nil {
		return fmt.Errorf("failed to copy initial snapshot: %w", err)
	}
	var stdout strings.Builder
	for m := 0; m <= r.endMop; m++ {
		for d, u := range r.layout.units[m] {
			if !r.included(dopID{m, d}) {
				continue
			}
			if err := apply(dir, u); err != nil {
				return fmt.Errorf("dop (%d, %d) of %v: %w", m, d, r.layout.mops[m].Op, err)
			}
		}
		if r.completed(m) {
			stdout.WriteString(r.layout.mops[m].Op.Stdout)
		}
	}
	return os.WriteFile(stdoutPath, []byte(stdout.String()), 0644)
}

func apply(root string, u unit) error {
	p := filepath.Join(root, u.path)
	switch u.kind {
	case oplog.KindCreat:
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		return f.Close()
	case oplog.KindMkdir:
		err := os.Mkdir(p, 0755)
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	case oplog.KindWrite, oplog.KindMwrite:
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		if _, err := f.WriteAt(u.data, u.offset); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case oplog.KindTruncate:
		return os.Truncate(p, u.size)
	case oplog.KindUnlink, oplog.KindRmdir:
		return os.Remove(p)
	case oplog.KindRename:
		return os.Rename(p, filepath.Join(root, u.dest))
	}
	return fmt.Errorf("cannot apply %q", u.kind)
}
