package explorer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/divergentdave/alice/internal/stack"
)

// Ordering loses every dop of one mop while a later mop persisted in full.
// Only the earliest later mop that breaks the application is reported.
func (e *Explorer) Ordering(ctx context.Context) (*PhaseResult, error) {
	_, span := e.startSpan(ctx, "explorer.Ordering")
	defer span.End()
	if e.patched == nil {
		return nil, e.fail(span, errPhaseOrder)
	}
	e.header("Finding ordering vulnerabilities")

	e.c.Reset(PhaseOrdering)
	n := e.r.MopsLen()
	res := new(PhaseResult)
	bar := e.progress(n, "ordering")
	for i := 0; i < n; i++ {
		bar.Add(1)
		if e.r.DopsLen(i) == 0 || e.patched[i] {
			continue
		}
		err := e.withOmitted(i, seq(e.r.DopsLen(i)), func() error {
			for j := i + 1; j < n; j++ {
				if e.r.DopsLen(j) == 0 || e.patched[j] {
					continue
				}
				if err := e.endAt(j, e.r.DopsLen(j)-1); err != nil {
					return err
				}
				if !e.r.Legal() {
					continue
				}
				err := e.submit(OrderKey{i, j}, fmt.Sprintf("%d-%d", i, j), fmt.Sprintf("omit_mops_%d_%d", i, j))
				if err != nil {
					return err
				}
				res.Checks++
			}
			return nil
		})
		if err != nil {
			return nil, e.fail(span, err)
		}
	}
	bar.Finish()
	results, err := e.drain()
	if err != nil {
		return nil, e.fail(span, err)
	}

	statics := newStaticSet(KindOrdering)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if r, ok := results[OrderKey{i, j}]; !ok || !r.Failed() {
				continue
			}
			f := Finding{Kind: KindOrdering, Mops: []int{i, j}}
			res.Dynamic = append(res.Dynamic, f)
			printDynamic(e.opts.Out, f)
			statics.add(nil, stack.Location(e.r.Mop(i)), stack.Location(e.r.Mop(j)))
			break
		}
	}
	res.Static = statics.list
	for _, f := range res.Static {
		printStatic(e.opts.Out, f)
	}
	span.SetAttributes(attribute.Int("checks", res.Checks))
	return res, nil
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}
