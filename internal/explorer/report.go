package explorer

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/divergentdave/alice/internal/report"
)

// Kind names the class of a vulnerability as printed in findings.
type Kind string

const (
	KindAcrossAtomicity Kind = "Across-syscall atomicity"
	KindOrdering        Kind = "Ordering"
	KindAtomicity       Kind = "Atomicity"
)

// UnresolvedCause stands for an intra-operation failure that only showed up
// when single dops were dropped, so no atomicity label explains it.
const UnresolvedCause = "???"

// Finding is a dynamic vulnerability: the mops of one failing scenario.
// Mops is [start, end] for atomicity ranges, [before, after] for ordering and
// [mop] for intra-operation atomicity.
type Finding struct {
	Kind   Kind
	Mops   []int
	Causes []string
}

func (f Finding) String() string {
	switch f.Kind {
	case KindAcrossAtomicity:
		return fmt.Sprintf("(Dynamic vulnerability) %s, sometimes concerning durability: "+
			"Operations %d until %d need to be atomically persisted", f.Kind, f.Mops[0], f.Mops[1])
	case KindOrdering:
		return fmt.Sprintf("(Dynamic vulnerability) %s: Operation %d needs to be persisted before %d",
			f.Kind, f.Mops[0], f.Mops[1])
	default:
		return fmt.Sprintf("(Dynamic vulnerability) %s: Operation %d(%s)", f.Kind, f.Mops[0], strings.Join(f.Causes, ", "))
	}
}

// StaticFinding is a deduplicated vulnerability keyed by source locations.
type StaticFinding struct {
	Kind      Kind
	Locations []string
	Causes    []string
}

func (f StaticFinding) String() string {
	switch f.Kind {
	case KindAcrossAtomicity:
		return fmt.Sprintf("(Static vulnerability) %s: Operation %s until %s", f.Kind, f.Locations[0], f.Locations[1])
	case KindOrdering:
		return fmt.Sprintf("(Static vulnerability) %s: Operation %s needed before %s", f.Kind, f.Locations[0], f.Locations[1])
	default:
		return fmt.Sprintf("(Static vulnerability) %s: Operation %s (%s)", f.Kind, f.Locations[0], strings.Join(f.Causes, ","))
	}
}

// PhaseResult holds what one phase found.
type PhaseResult struct {
	Dynamic []Finding
	Static  []StaticFinding
	Checks  int
}

// Report is the outcome of a whole exploration.
type Report struct {
	Dynamic []Finding
	Static  []StaticFinding
	// Patched lists the mops explained by across-syscall atomicity findings.
	Patched []int
	// InconsistentAtEnd is set when the application is inconsistent even
	// after the whole workload persisted.
	InconsistentAtEnd bool
	Checks            int
}

func (r *Report) add(res *PhaseResult) {
	r.Dynamic = append(r.Dynamic, res.Dynamic...)
	r.Static = append(r.Static, res.Static...)
	r.Checks += res.Checks
}

func printDynamic(w io.Writer, f Finding) {
	fmt.Fprintln(w, report.Colorize(f.String(), report.ColorYellow))
}

func printStatic(w io.Writer, f StaticFinding) {
	fmt.Fprintln(w, report.CodedColorize(f.String(), f.Locations[0]))
}

// staticSet collects static findings in first-seen order, merging causes of
// findings with the same locations.
type staticSet struct {
	kind  Kind
	index map[string]int
	list  []StaticFinding
}

func newStaticSet(kind Kind) *staticSet {
	return &staticSet{kind: kind, index: make(map[string]int)}
}

func (s *staticSet) add(causes []string, locations ...string) {
	key := strings.Join(locations, "\x00")
	i, ok := s.index[key]
	if !ok {
		i = len(s.list)
		s.index[key] = i
		s.list = append(s.list, StaticFinding{Kind: s.kind, Locations: locations})
	}
	for _, c := range causes {
		if !slices.Contains(s.list[i].Causes, c) {
			s.list[i].Causes = append(s.list[i].Causes, c)
		}
	}
}
