package replay

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/divergentdave/alice/internal/oplog"
)

// unit is the concrete on-disk effect of one dop.
type unit struct {
	kind   string
	path   string
	dest   string
	offset int64
	data   []byte
	size   int64
}

type dopID struct {
	mop, dop int
}

// layout is the decomposition of the whole log under one model.
type layout struct {
	mops  []*oplog.Mop
	units [][]unit
	// syncedBy[m][d] is the first barrier mop forcing dop (m, d) to disk, or -1.
	syncedBy [][]int
	// dependents[id] lists the dops that cannot reach disk before dop id.
	dependents map[dopID][]dopID
}

type decomposer struct {
	snapshot string
	model    oplog.Model
	sizes    map[string]int64
	creators map[string]dopID
	pending  map[string][]dopID
	out      *layout
}

func decompose(snapshot string, model oplog.Model, ops []oplog.Op) (*layout, error) {
	d := &decomposer{
		snapshot: snapshot,
		model:    model,
		sizes:    make(map[string]int64),
		creators: make(map[string]dopID),
		pending:  make(map[string][]dopID),
		out:      &layout{dependents: make(map[dopID][]dopID)},
	}
	for i, op := range ops {
		if err := d.add(i, op); err != nil {
			return nil, fmt.Errorf("op %d (%v): %w", i, op, err)
		}
	}
	return d.out, nil
}

func (d *decomposer) add(i int, op oplog.Op) error {
	mop := &oplog.Mop{Index: i, ID: op.ID, Op: op, Stack: op.Stack}
	d.out.mops = append(d.out.mops, mop)
	d.out.units = append(d.out.units, nil)
	d.out.syncedBy = append(d.out.syncedBy, nil)

	parent := parentDir(op.Path)
	switch op.Kind {
	case oplog.KindCreat:
		d.emit(i, "create", unit{kind: op.Kind, path: op.Path}, []string{parent}, []string{op.Path, parent})
		d.creators[op.Path] = dopID{i, 0}
		d.sizes[op.Path] = 0
	case oplog.KindMkdir:
		d.emit(i, "mkdir", unit{kind: op.Kind, path: op.Path}, []string{parent}, []string{op.Path, parent})
		d.creators[op.Path] = dopID{i, 0}
	case oplog.KindUnlink, oplog.KindRmdir:
		d.emit(i, op.Kind, unit{kind: op.Kind, path: op.Path}, []string{op.Path}, []string{op.Path, parent})
		delete(d.creators, op.Path)
		d.sizes[op.Path] = 0
	case oplog.KindRename:
		destParent := parentDir(op.Dest)
		d.emit(i, "rename", unit{kind: op.Kind, path: op.Path, dest: op.Dest},
			[]string{op.Path, destParent}, []string{op.Path, op.Dest, parent, destParent})
		d.creators[op.Dest] = dopID{i, 0}
		delete(d.creators, op.Path)
		d.sizes[op.Dest] = d.size(op.Path)
		d.sizes[op.Path] = 0
	case oplog.KindTruncate:
		d.emit(i, "truncate", unit{kind: op.Kind, path: op.Path, size: op.Size}, []string{op.Path}, []string{op.Path})
		d.sizes[op.Path] = op.Size
	case oplog.KindWrite, oplog.KindMwrite:
		d.write(i, op)
	case oplog.KindFsync, oplog.KindFdatasync:
		d.barrier(i, op.Path)
	case oplog.KindSync:
		d.barrier(i)
	case oplog.KindIoctl:
	default:
		return fmt.Errorf("unsupported operation %q", op.Kind)
	}
	return nil
}

func (d *decomposer) write(i int, op oplog.Op) {
	data := []byte(op.Data)
	prefix := "overwrite"
	if op.Offset >= d.size(op.Path) {
		prefix = "append"
	}
	chunks := split(d.model, op.Offset, int64(len(data)))
	label := prefix + "_whole"
	if len(chunks) > 1 {
		if d.model.Kind == oplog.ModelAligned {
			label = prefix + "_block_aligned"
		} else {
			label = fmt.Sprintf("%s_in_%d_pieces", prefix, len(chunks))
		}
	}
	for _, c := range chunks {
		u := unit{
			kind:   op.Kind,
			path:   op.Path,
			offset: c[0],
			data:   data[c[0]-op.Offset : c[1]-op.Offset],
		}
		d.emit(i, label, u, []string{op.Path}, []string{op.Path})
	}
	if end := op.Offset + int64(len(data)); end > d.size(op.Path) {
		d.sizes[op.Path] = end
	}
}

// split returns the [start, end) file ranges a write of n bytes at offset
// persists as. A count model cuts the write into at most Size pieces of
// nearly equal length; an aligned model cuts it at every Size boundary.
func split(m oplog.Model, offset, n int64) [][2]int64 {
	var chunks [][2]int64
	end := offset + n
	if m.Kind == oplog.ModelAligned {
		size := int64(m.Size)
		for start := offset; start < end; {
			next := (start/size + 1) * size
			if next > end {
				next = end
			}
			chunks = append(chunks, [2]int64{start, next})
			start = next
		}
		return chunks
	}
	pieces := int64(m.Size)
	if pieces > n {
		pieces = n
	}
	for i := int64(0); i < pieces; i++ {
		chunks = append(chunks, [2]int64{offset + n*i/pieces, offset + n*(i+1)/pieces})
	}
	return chunks
}

// emit appends a dop to mop i. It depends on the creators of the paths in
// needs and becomes durable once a barrier covers any path in syncKeys.
func (d *decomposer) emit(i int, atomicity string, u unit, needs, syncKeys []string) {
	id := dopID{i, len(d.out.units[i])}
	mop := d.out.mops[i]
	mop.Dops = append(mop.Dops, oplog.Dop{Index: id.dop, Atomicity: atomicity})
	d.out.units[i] = append(d.out.units[i], u)

	seen := make(map[dopID]bool)
	for _, p := range needs {
		c, ok := d.creators[p]
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		d.out.dependents[c] = append(d.out.dependents[c], id)
	}
	d.out.syncedBy[i] = append(d.out.syncedBy[i], -1)
	for _, k := range syncKeys {
		d.pending[k] = append(d.pending[k], id)
	}
}

// barrier marks pending dops on the given paths as forced to disk by mop i.
// With no paths every pending dop is covered.
func (d *decomposer) barrier(i int, paths ...string) {
	cover := func(k string) {
		for _, id := range d.pending[k] {
			if d.out.syncedBy[id.mop][id.dop] < 0 {
				d.out.syncedBy[id.mop][id.dop] = i
			}
		}
		delete(d.pending, k)
	}
	if len(paths) == 0 {
		for k := range d.pending {
			cover(k)
		}
		return
	}
	for _, p := range paths {
		cover(p)
	}
}

func (d *decomposer) size(p string) int64 {
	if s, ok := d.sizes[p]; ok {
		return s
	}
	st, err := os.Stat(filepath.Join(d.snapshot, p))
	if err != nil {
		d.sizes[p] = 0
		return 0
	}
	d.sizes[p] = st.Size()
	return st.Size()
}

func parentDir(p string) string {
	return path.Dir(p)
}
