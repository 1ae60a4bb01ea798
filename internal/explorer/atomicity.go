package explorer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/divergentdave/alice/internal/oplog"
	"github.com/divergentdave/alice/internal/stack"
)

// Plan returns how many single-truncation and nested-omission scenarios a mop
// with the given number of dops yields under model m, before legality.
func Plan(m oplog.Model, dops int) (single, nested int) {
	if dops < 2 {
		return 0, 0
	}
	single = dops - 1
	// Pairs k < j drawn from the first dops-1 indices.
	if !m.Coarse() && dops >= 3 {
		nested = combin.Binomial(dops-1, 2)
	}
	return single, nested
}

// Atomicity persists a prefix of each mop's dops under every sweep model, and
// for the finer models additionally drops one earlier dop of that prefix.
func (e *Explorer) Atomicity(ctx context.Context) (*PhaseResult, error) {
	_, span := e.startSpan(ctx, "explorer.Atomicity")
	defer span.End()
	if e.patched == nil {
		return nil, e.fail(span, errPhaseOrder)
	}
	e.header("Finding atomicity vulnerabilities")

	e.c.Reset(PhaseAtomicity)
	n := e.r.MopsLen()
	res := new(PhaseResult)
	sub := &submitted{labels: make(map[SplitKey]string), span: make(map[int]int)}
	for _, m := range oplog.SweepModels {
		if err := e.r.SetModel(m); err != nil {
			err = fmt.Errorf("failed to switch to model %v: %w", m, err)
			return nil, e.fail(span, errors.Join(err, e.restoreModel()))
		}
		checks, err := e.atomicityModel(m, sub)
		if err != nil {
			return nil, e.fail(span, errors.Join(err, e.restoreModel()))
		}
		res.Checks += checks
	}
	results, err := e.c.Wait()
	if err != nil {
		return nil, e.fail(span, errors.Join(err, e.restoreModel()))
	}
	if err := e.restoreModel(); err != nil {
		return nil, e.fail(span, err)
	}

	unresolved := make(map[int]bool)
	for _, key := range sub.nested {
		if results[key].Failed() {
			unresolved[key.Mop] = true
		}
	}

	statics := newStaticSet(KindAtomicity)
	for i := 0; i < n; i++ {
		var list []string
		for j := 0; j < sub.span[i]; j++ {
			for _, m := range oplog.SweepModels {
				key := SplitKey{Model: m, Mop: i, Dop: j}
				label, ok := sub.labels[key]
				if ok && results[key].Failed() && !slices.Contains(list, label) {
					list = append(list, label)
				}
			}
		}
		if len(list) == 0 && unresolved[i] {
			list = []string{UnresolvedCause}
		}
		if len(list) == 0 {
			continue
		}
		f := Finding{Kind: KindAtomicity, Mops: []int{i}, Causes: list}
		res.Dynamic = append(res.Dynamic, f)
		printDynamic(e.opts.Out, f)
		statics.add(list, stack.Location(e.r.Mop(i)))
	}
	res.Static = statics.list
	for _, f := range res.Static {
		printStatic(e.opts.Out, f)
	}
	span.SetAttributes(attribute.Int("checks", res.Checks))
	return res, nil
}

// restoreModel puts the replayer back into the default model with a full selection.
func (e *Explorer) restoreModel() error {
	if err := e.r.SetModel(oplog.DefaultModel); err != nil {
		return fmt.Errorf("failed to restore model %v: %w", oplog.DefaultModel, err)
	}
	return nil
}

// submitted remembers the scenarios of the atomicity phase: the dop label
// explaining each single truncation, the nested omissions, and per mop the
// largest number of truncation points under any model.
type submitted struct {
	labels map[SplitKey]string
	nested []SplitOmitKey
	span   map[int]int
}

func (e *Explorer) atomicityModel(m oplog.Model, sub *submitted) (int, error) {
	n := e.r.MopsLen()
	total := 0
	for i := 0; i < n; i++ {
		if !e.patched[i] {
			single, nested := Plan(m, e.r.DopsLen(i))
			total += single + nested
		}
	}
	bar := e.progress(total, "atomicity "+m.String())
	defer bar.Finish()

	checks := 0
	for i := 0; i < n; i++ {
		if e.patched[i] {
			continue
		}
		dops := e.r.DopsLen(i)
		sub.span[i] = max(sub.span[i], dops-1)
		for j := 0; j < dops-1; j++ {
			bar.Add(1)
			if err := e.endAt(i, j); err != nil {
				return checks, err
			}
			name := fmt.Sprintf("%s_%d_%d_%d", m.Kind, m.Size, i, j)
			if e.r.Legal() {
				key := SplitKey{Model: m, Mop: i, Dop: j}
				if err := e.submit(key, fmt.Sprintf("%s-%d-%d-%d", m.Kind, m.Size, i, j), "omit_dops_"+name); err != nil {
					return checks, err
				}
				sub.labels[key] = e.r.Mop(i).Dops[j].Atomicity
				checks++
			}
			if m.Coarse() {
				continue
			}
			for k := 0; k < j; k++ {
				bar.Add(1)
				err := e.withOmitted(i, []int{k}, func() error {
					if !e.r.Legal() {
						return nil
					}
					key := SplitOmitKey{Model: m, Mop: i, Dop: j, Omitted: k}
					disc := fmt.Sprintf("%s-%d-%d-%d-%d", m.Kind, m.Size, i, j, k)
					if err := e.submit(key, disc, fmt.Sprintf("omit_dops_%s_%d", name, k)); err != nil {
						return err
					}
					sub.nested = append(sub.nested, key)
					checks++
					return nil
				})
				if err != nil {
					return checks, err
				}
			}
		}
	}
	return checks, nil
}
