package explorer

import (
	"fmt"

	"github.com/divergentdave/alice/internal/oplog"
)

// Key identifies one checked scenario. Every implementation is a comparable
// struct, so keys of different phases never collide in a results table.
type Key interface {
	fmt.Stringer
	scenario()
}

// TruncateKey: everything after mop Mop was lost.
type TruncateKey struct {
	Mop int
}

// OrderKey: all dops of mop Omitted were lost, everything up to mop End persisted.
type OrderKey struct {
	Omitted, End int
}

// SplitKey: under Model, mop Mop persisted only up to dop Dop.
type SplitKey struct {
	Model    oplog.Model
	Mop, Dop int
}

// SplitOmitKey is a SplitKey with the earlier dop Omitted lost as well.
type SplitOmitKey struct {
	Model             oplog.Model
	Mop, Dop, Omitted int
}

func (TruncateKey) scenario()  {}
func (OrderKey) scenario()     {}
func (SplitKey) scenario()     {}
func (SplitOmitKey) scenario() {}

func (k TruncateKey) String() string {
	return fmt.Sprintf("truncate(%d)", k.Mop)
}

func (k OrderKey) String() string {
	return fmt.Sprintf("order(omit %d, end %d)", k.Omitted, k.End)
}

func (k SplitKey) String() string {
	return fmt.Sprintf("split(%v, %d, %d)", k.Model, k.Mop, k.Dop)
}

func (k SplitOmitKey) String() string {
	return fmt.Sprintf("split(%v, %d, %d, omit %d)", k.Model, k.Mop, k.Dop, k.Omitted)
}
