// Package oplog describes the recorded trace: logical operations (mops), the
// disk operations (dops) they decompose into, and the filesystem models that
// decide the decomposition.
package oplog

import "fmt"

// StackFrame is one frame of the call stack captured for a logical operation.
// Empty strings and zero numbers mean the value was not captured.
type StackFrame struct {
	SrcFile    string `json:"src_file,omitempty"`
	SrcLine    int    `json:"src_line,omitempty"`
	FuncName   string `json:"func,omitempty"`
	BinaryFile string `json:"binary,omitempty"`
	RawAddr    uint64 `json:"addr,omitempty"`
}

// Dop is one unit of persistence implementing part of a Mop.
type Dop struct {
	Index     int
	Atomicity string
}

// Mop is one logical filesystem call recorded in the trace.
type Mop struct {
	Index int
	ID    string
	Op    Op
	Stack []StackFrame
	Dops  []Dop
}

func (m *Mop) String() string {
	return fmt.Sprintf("%d\t%s", m.Index, m.Op)
}

type ModelKind string

const (
	// Writes are split into at most Size pieces of nearly equal length.
	ModelCount ModelKind = "count"
	// Writes are split at Size-byte block boundaries.
	ModelAligned ModelKind = "aligned"
)

// Model is the policy deciding how a mop's bytes are chunked into dops.
type Model struct {
	Kind ModelKind
	Size int
}

var (
	DefaultModel = Model{ModelCount, 1}
	SweepModels  = []Model{{ModelCount, 1}, {ModelCount, 3}, {ModelAligned, 4096}}
)

func (m Model) String() string {
	return fmt.Sprintf("%s-%d", m.Kind, m.Size)
}

// Coarse reports whether the model may cut a write into so many dops that
// omitting single dops inside an otherwise persisted operation is too costly.
func (m Model) Coarse() bool {
	return m.Kind == ModelAligned
}

func (m Model) Validate() error {
	switch m.Kind {
	case ModelCount, ModelAligned:
	default:
		return fmt.Errorf("unknown model kind %q", m.Kind)
	}
	if m.Size <= 0 {
		return fmt.Errorf("model %v: size must be positive", m)
	}
	return nil
}
