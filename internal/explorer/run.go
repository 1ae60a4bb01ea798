package explorer

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/divergentdave/alice/internal/config"
	"github.com/divergentdave/alice/internal/dispatch"
	"github.com/divergentdave/alice/internal/log"
	"github.com/divergentdave/alice/internal/replay"
	"github.com/divergentdave/alice/internal/report"
)

// RunOptions configures Run beyond what the configuration file holds.
type RunOptions struct {
	Workers int
	// LogDir is recreated empty and receives the checker output of every
	// failed check.
	LogDir      string
	TimelineDir string
	RunID       string
	Metrics     *dispatch.Metrics
	Out         io.Writer
	Progress    io.Writer
	// TracerProvider receives the exploration spans; nil means the global provider.
	TracerProvider trace.TracerProvider
}

// Run loads the trace named by cfg and explores it with a pool of checkers.
func Run(ctx context.Context, cfg *config.Config, opts RunOptions) (*Report, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintln(out, report.Colorize("Parsing traces to determine logical operations ...", report.ColorBold))
	r, err := replay.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load the operation log: %w", err)
	}
	fmt.Fprintln(out, report.Colorize("Logical operations:", report.ColorBold))
	r.PrintOps(out)
	fmt.Fprintln(out, "-------------------------------------")

	if opts.LogDir != "" {
		if err := os.RemoveAll(opts.LogDir); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return nil, err
		}
	}
	if opts.TimelineDir != "" {
		if err := os.MkdirAll(opts.TimelineDir, 0o755); err != nil {
			return nil, err
		}
	}
	// Crash images are built directly in scratchpad_dir and removed once checked.
	if err := os.MkdirAll(cfg.ScratchpadDir, 0o755); err != nil {
		return nil, err
	}
	log.Logf(1, "crash images go to %s", cfg.ScratchpadDir)

	d, err := dispatch.New[Key](dispatch.Config{
		Oracle:      cfg.CheckerTool,
		Workers:     opts.Workers,
		LogDir:      opts.LogDir,
		TimelineDir: opts.TimelineDir,
		RunID:       opts.RunID,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	defer d.Close()

	e := New(r, d, Options{
		ScratchDir:     cfg.ScratchpadDir,
		Out:            out,
		Progress:       opts.Progress,
		RunID:          opts.RunID,
		TracerProvider: opts.TracerProvider,
	})
	return e.Explore(ctx)
}
