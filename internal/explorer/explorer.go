// Package explorer searches the crash states of a recorded workload for the
// persistence properties the application depends on. It sweeps three kinds
// of scenarios over the operation log: losing a suffix of operations
// (across-syscall atomicity), losing one operation while later ones persist
// (ordering), and persisting only part of an operation (atomicity).
package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/divergentdave/alice/internal/dispatch"
	"github.com/divergentdave/alice/internal/oplog"
	"github.com/divergentdave/alice/internal/osutil"
	"github.com/divergentdave/alice/internal/report"
)

// Replayer is the simulated replay of the operation log. All mutating calls
// change one shared selection; the explorer undoes its changes after every
// crash image it builds.
type Replayer interface {
	MopsLen() int
	DopsLen(mop int) int
	Mop(i int) *oplog.Mop
	SetModel(m oplog.Model) error
	EndAt(mop, dop int) error
	Omit(mop, dop int) error
	Include(mop, dop int) error
	Legal() bool
	Materialize(dir, stdoutPath string) error
	Reset() error
}

// Checker judges crash images asynchronously; see dispatch.Dispatcher.
type Checker interface {
	Reset(phase string)
	Submit(task dispatch.Task[Key])
	Wait() (map[Key]dispatch.Result, error)
}

// Phase names, also used as dispatcher phase labels.
const (
	PhaseAcrossAtomicity = "across-syscall-atomicity"
	PhaseOrdering        = "ordering"
	PhaseAtomicity       = "atomicity"
)

var errPhaseOrder = errors.New("across-syscall atomicity must be explored first")

// Options configures an Explorer.
type Options struct {
	// ScratchDir receives the crash images.
	ScratchDir string
	// Out receives the textual report.
	Out io.Writer
	// Progress receives progress bars; nil disables them.
	Progress io.Writer
	RunID    string
	// TracerProvider receives one span per phase; nil means the global provider.
	TracerProvider trace.TracerProvider
}

// Explorer runs the vulnerability search over one replayer, sending every
// crash image it builds to one checker.
type Explorer struct {
	r      Replayer
	c      Checker
	opts   Options
	tracer trace.Tracer

	// patched is nil until across-syscall atomicity has been explored.
	patched           map[int]bool
	inconsistentAtEnd bool
}

// New returns an Explorer that has not explored anything yet.
func New(r Replayer, c Checker, opts Options) *Explorer {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Explorer{
		r:      r,
		c:      c,
		opts:   opts,
		tracer: tp.Tracer("github.com/divergentdave/alice/internal/explorer"),
	}
}

// Explore runs all three phases in order.
func (e *Explorer) Explore(ctx context.Context) (*Report, error) {
	ctx, span := e.startSpan(ctx, "explorer.Explore")
	defer span.End()

	fmt.Fprintln(e.opts.Out, report.Colorize("Finding vulnerabilities...", report.ColorBold))
	rep := new(Report)
	phases := []func(context.Context) (*PhaseResult, error){
		e.AcrossSyscallAtomicity,
		e.Ordering,
		e.Atomicity,
	}
	for _, phase := range phases {
		res, err := phase(ctx)
		if err != nil {
			return nil, e.fail(span, err)
		}
		rep.add(res)
	}
	rep.Patched = e.Patched()
	rep.InconsistentAtEnd = e.inconsistentAtEnd
	span.SetAttributes(attribute.Int("checks", rep.Checks), attribute.Int("findings", len(rep.Static)))
	fmt.Fprintln(e.opts.Out, report.Colorize("Done finding vulnerabilities.", report.ColorBold))
	return rep, nil
}

// Patched returns the sorted mops excluded from the ordering and atomicity phases.
func (e *Explorer) Patched() []int {
	var list []int
	for i := 0; i < e.r.MopsLen(); i++ {
		if e.patched[i] {
			list = append(list, i)
		}
	}
	return list
}

// withOmitted omits the given dops of mop, runs fn, and includes the dops
// again however fn returns.
func (e *Explorer) withOmitted(mop int, dops []int, fn func() error) (err error) {
	applied := 0
	defer func() {
		for _, d := range dops[:applied] {
			if ierr := e.r.Include(mop, d); ierr != nil && err == nil {
				err = fmt.Errorf("failed to restore dop (%d, %d): %w", mop, d, ierr)
			}
		}
	}()
	for _, d := range dops {
		if err := e.r.Omit(mop, d); err != nil {
			return fmt.Errorf("failed to omit dop (%d, %d): %w", mop, d, err)
		}
		applied++
	}
	return fn()
}

// submit materializes the current selection and queues it for checking.
func (e *Explorer) submit(key Key, discriminator, name string) error {
	dir := filepath.Join(e.opts.ScratchDir, "reconstructeddir-"+discriminator)
	stdout := dir + ".input_stdout"
	// Left over by an interrupted run.
	if err := osutil.RemoveAll(dir, stdout); err != nil {
		return err
	}
	if err := e.r.Materialize(dir, stdout); err != nil {
		return fmt.Errorf("failed to build crash image %s: %w", name, err)
	}
	e.c.Submit(dispatch.Task[Key]{Dir: dir, Key: key, Name: name})
	return nil
}

func (e *Explorer) endAt(mop, dop int) error {
	if err := e.r.EndAt(mop, dop); err != nil {
		return fmt.Errorf("failed to truncate at (%d, %d): %w", mop, dop, err)
	}
	return nil
}

// drain waits for the checks of the current phase and puts the replayer back
// into its fully included state.
func (e *Explorer) drain() (map[Key]dispatch.Result, error) {
	results, err := e.c.Wait()
	if err != nil {
		return nil, err
	}
	if err := e.r.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset replayer: %w", err)
	}
	return results, nil
}

func (e *Explorer) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("run_id", e.opts.RunID),
		attribute.Int("mops", e.r.MopsLen()),
	))
}

func (e *Explorer) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (e *Explorer) progress(max int, description string) *progressbar.ProgressBar {
	w := e.opts.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (e *Explorer) header(text string) {
	fmt.Fprintln(e.opts.Out, report.Colorize("\t"+text, report.ColorCyan))
}
