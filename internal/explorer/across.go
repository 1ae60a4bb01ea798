package explorer

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/divergentdave/alice/internal/report"
	"github.com/divergentdave/alice/internal/stack"
)

// AcrossSyscallAtomicity crashes right after every mop in turn. Each maximal
// run of failing crash points is a range of mops that must persist
// atomically; those mops are excluded from the later phases.
func (e *Explorer) AcrossSyscallAtomicity(ctx context.Context) (*PhaseResult, error) {
	_, span := e.startSpan(ctx, "explorer.AcrossSyscallAtomicity")
	defer span.End()
	e.header("Finding across-syscall atomicity vulnerabilities")

	e.c.Reset(PhaseAcrossAtomicity)
	n := e.r.MopsLen()
	res := new(PhaseResult)
	bar := e.progress(n, "across-syscall atomicity")
	for i := 0; i < n; i++ {
		bar.Add(1)
		last := e.r.DopsLen(i) - 1
		if last < 0 {
			continue
		}
		if err := e.endAt(i, last); err != nil {
			return nil, e.fail(span, err)
		}
		if err := e.submit(TruncateKey{i}, strconv.Itoa(i), fmt.Sprintf("truncate_after_%d", i)); err != nil {
			return nil, e.fail(span, err)
		}
		res.Checks++
	}
	bar.Finish()
	results, err := e.drain()
	if err != nil {
		return nil, e.fail(span, err)
	}

	// A mop without dops leaves the disk as the previous mop did.
	failed := make([]bool, n)
	for i := 0; i < n; i++ {
		if r, ok := results[TruncateKey{i}]; ok {
			failed[i] = r.Failed()
		} else if i > 0 {
			failed[i] = failed[i-1]
		}
	}

	e.patched = make(map[int]bool)
	e.inconsistentAtEnd = false
	statics := newStaticSet(KindAcrossAtomicity)
	for i := 0; i < n; i++ {
		if !failed[i] {
			continue
		}
		start := i
		for i+1 < n && failed[i+1] {
			i++
		}
		end := i
		for p := start - 1; p <= end; p++ {
			if p >= 0 {
				e.patched[p] = true
			}
		}
		if end == n-1 {
			e.inconsistentAtEnd = true
			fmt.Fprintln(e.opts.Out, report.Colorize("WARNING: Application found to be inconsistent after the entire "+
				"workload completes. Recheck workload and checker.", report.ColorRed))
		}
		f := Finding{Kind: KindAcrossAtomicity, Mops: []int{start, end}}
		res.Dynamic = append(res.Dynamic, f)
		printDynamic(e.opts.Out, f)
		statics.add(nil, stack.Location(e.r.Mop(start)), stack.Location(e.r.Mop(end)))
	}
	res.Static = statics.list
	for _, f := range res.Static {
		printStatic(e.opts.Out, f)
	}
	span.SetAttributes(attribute.Int("checks", res.Checks))
	return res, nil
}
