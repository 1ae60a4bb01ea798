// Package replay simulates which parts of a recorded operation log reached
// disk before a crash, and builds the directory tree such a crash would leave.
package replay

import (
	"errors"
	"fmt"
	"io"

	"github.com/divergentdave/alice/internal/config"
	"github.com/divergentdave/alice/internal/oplog"
)

var ErrIllegal = errors.New("selection cannot be produced by the storage stack")

// Replayer holds the current selection over the operation log: a truncation
// point plus a set of individually omitted dops. It is not safe for
// concurrent use.
type Replayer struct {
	snapshot string
	ops      []oplog.Op
	model    oplog.Model
	layout   *layout

	endMop, endDop int
	omitted        map[dopID]bool
}

// New loads the operation log named by the configuration.
func New(cfg *config.Config) (*Replayer, error) {
	ops, err := oplog.Load(cfg)
	if err != nil {
		return nil, err
	}
	return NewFromOps(cfg.InitialSnapshot, ops)
}

// NewFromOps builds a replayer over already filtered ops with snapshot-relative paths.
func NewFromOps(snapshot string, ops []oplog.Op) (*Replayer, error) {
	r := &Replayer{snapshot: snapshot, ops: ops}
	if err := r.SetModel(oplog.DefaultModel); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Replayer) MopsLen() int {
	return len(r.layout.mops)
}

func (r *Replayer) DopsLen(mop int) int {
	return len(r.layout.units[mop])
}

func (r *Replayer) Mop(i int) *oplog.Mop {
	return r.layout.mops[i]
}

func (r *Replayer) Model() oplog.Model {
	return r.model
}

// SetModel re-decomposes the log under m. Dop indices change meaning, so the
// selection is reset as well.
func (r *Replayer) SetModel(m oplog.Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	l, err := decompose(r.snapshot, m, r.ops)
	if err != nil {
		return err
	}
	r.model = m
	r.layout = l
	return r.Reset()
}

// Reset includes every dop of every mop.
func (r *Replayer) Reset() error {
	r.omitted = make(map[dopID]bool)
	r.endMop, r.endDop = -1, -1
	if n := r.MopsLen(); n > 0 {
		r.endMop, r.endDop = n-1, r.DopsLen(n-1)-1
	}
	return nil
}

// EndAt truncates the replay after dop (mop, dop). A dop of -1 means none of
// the mop's dops reached disk.
func (r *Replayer) EndAt(mop, dop int) error {
	if mop < 0 || mop >= r.MopsLen() {
		return fmt.Errorf("end at (%d, %d): mop out of range [0, %d)", mop, dop, r.MopsLen())
	}
	if dop < -1 || dop >= r.DopsLen(mop) {
		return fmt.Errorf("end at (%d, %d): dop out of range [-1, %d)", mop, dop, r.DopsLen(mop))
	}
	r.endMop, r.endDop = mop, dop
	return nil
}

func (r *Replayer) Omit(mop, dop int) error {
	id, err := r.dop(mop, dop)
	if err != nil {
		return err
	}
	if r.omitted[id] {
		return fmt.Errorf("dop (%d, %d) is already omitted", mop, dop)
	}
	r.omitted[id] = true
	return nil
}

func (r *Replayer) Include(mop, dop int) error {
	id, err := r.dop(mop, dop)
	if err != nil {
		return err
	}
	if !r.omitted[id] {
		return fmt.Errorf("dop (%d, %d) is not omitted", mop, dop)
	}
	delete(r.omitted, id)
	return nil
}

func (r *Replayer) dop(mop, dop int) (dopID, error) {
	if mop < 0 || mop >= r.MopsLen() || dop < 0 || dop >= r.DopsLen(mop) {
		return dopID{}, fmt.Errorf("no dop (%d, %d)", mop, dop)
	}
	return dopID{mop, dop}, nil
}

// Legal reports whether the current selection is a state the storage stack
// could produce: no included dop depends on an omitted one, and no omitted
// dop was forced to disk by a barrier that a persisted dop follows.
func (r *Replayer) Legal() bool {
	for id := range r.omitted {
		if !r.inRange(id) {
			continue
		}
		for _, dep := range r.layout.dependents[id] {
			if r.included(dep) {
				return false
			}
		}
		if b := r.layout.syncedBy[id.mop][id.dop]; b >= 0 && r.persistedAfter(b) {
			return false
		}
	}
	return true
}

func (r *Replayer) inRange(id dopID) bool {
	return id.mop < r.endMop || (id.mop == r.endMop && id.dop <= r.endDop)
}

func (r *Replayer) included(id dopID) bool {
	return r.inRange(id) && !r.omitted[id]
}

// persistedAfter reports whether any dop of a mop after mop b is on disk.
func (r *Replayer) persistedAfter(b int) bool {
	for m := b + 1; m <= r.endMop; m++ {
		for d := range r.layout.units[m] {
			if r.included(dopID{m, d}) {
				return true
			}
		}
	}
	return false
}

// completed reports whether the application saw mop i return.
func (r *Replayer) completed(i int) bool {
	return i < r.endMop || (i == r.endMop && r.endDop == r.DopsLen(i)-1)
}

// PrintOps lists the logical operations with their dop counts under the current model.
func (r *Replayer) PrintOps(w io.Writer) {
	for _, mop := range r.layout.mops {
		fmt.Fprintf(w, "%v\t(%d dops)\n", mop, len(mop.Dops))
	}
}
