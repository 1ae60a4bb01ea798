// alice searches a recorded workload for the crash-consistency guarantees the
// application assumes from the file system.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/divergentdave/alice/internal/config"
	"github.com/divergentdave/alice/internal/dispatch"
	"github.com/divergentdave/alice/internal/explorer"
	"github.com/divergentdave/alice/internal/log"
	"github.com/divergentdave/alice/internal/report"
)

var (
	flagConfig      = flag.String("config", "", "YAML configuration file")
	flagStrace      = flag.String("strace_file_prefix", "", "operation log (overrides config)")
	flagSnapshot    = flag.String("initial_snapshot", "", "directory holding the initial state (overrides config)")
	flagChecker     = flag.String("checker_tool", "", "checker command, split on spaces (overrides config)")
	flagBasePath    = flag.String("base_path", "", "directory the workload ran in (overrides config)")
	flagStartingCwd = flag.String("starting_cwd", "", "working directory of the workload (overrides config)")
	flagInteresting = flag.String("interesting_path_string", "", "regexp of traced paths to keep (overrides config)")
	flagScratchpad  = flag.String("scratchpad_dir", "", "where crash images are built (overrides config)")
	flagDebug       = flag.Int("debug_level", -1, "verbosity of diagnostics (overrides config)")
	flagThreads     = flag.Int("threads", 0, "number of parallel checkers, 0 for one per logical CPU")
	flagLogDir      = flag.String("log_dir", "", "keep the checker output of failed checks here")
	flagTimelineDir = flag.String("timeline_dir", "", "write an HTML timeline of every phase here")
	flagHTTP        = flag.String("http", "", "serve metrics and timelines on this address after the run")
	flagNoColor     = flag.Bool("no_color", false, "disable colored output")
	flagProgress    = flag.Bool("progress", true, "show progress bars on stderr")
	flagTrace       = flag.String("trace", "", "write OpenTelemetry spans of the run to this file")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() != 0 {
		printUsage()
		os.Exit(1)
	}
	report.SetColor(!*flagNoColor)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.SetVerbosity(cfg.DebugLevel)

	threads := *flagThreads
	if threads <= 0 {
		threads, err = cpu.Counts(true)
		if err != nil || threads < 1 {
			log.Logf(0, "failed to count CPUs, using one checker: %v", err)
			threads = 1
		}
	}
	runID := uuid.New().String()
	log.Logf(0, "run %s: %d checkers", runID, threads)

	opts := explorer.RunOptions{
		Workers:     threads,
		LogDir:      *flagLogDir,
		TimelineDir: *flagTimelineDir,
		RunID:       runID,
		Metrics:     dispatch.NewMetrics(prometheus.DefaultRegisterer),
		Out:         os.Stdout,
	}
	if *flagProgress {
		opts.Progress = os.Stderr
	}
	ctx := context.Background()
	var shutdown func(context.Context) error
	if *flagTrace != "" {
		if shutdown, err = setupTracing(*flagTrace, runID); err != nil {
			log.Fatalf("%v", err)
		}
	}
	rep, err := explorer.Run(ctx, cfg, opts)
	if shutdown != nil {
		if serr := shutdown(ctx); serr != nil {
			log.Errorf("failed to flush spans to %v: %v", *flagTrace, serr)
		}
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
	printSummary(rep)

	if *flagHTTP != "" {
		if err := report.Serve(*flagHTTP, *flagTimelineDir); err != nil {
			log.Fatalf("failed to serve on %v: %v", *flagHTTP, err)
		}
	}
}

func loadConfig() (*config.Config, error) {
	cfg := new(config.Config)
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			return nil, err
		}
	}
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{*flagStrace, &cfg.StraceFilePrefix},
		{*flagSnapshot, &cfg.InitialSnapshot},
		{*flagBasePath, &cfg.BasePath},
		{*flagStartingCwd, &cfg.StartingCwd},
		{*flagInteresting, &cfg.InterestingPathString},
		{*flagScratchpad, &cfg.ScratchpadDir},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}
	if *flagChecker != "" {
		cfg.CheckerTool = strings.Fields(*flagChecker)
	}
	if *flagDebug >= 0 {
		cfg.DebugLevel = *flagDebug
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printSummary(rep *explorer.Report) {
	fmt.Println("\n" + report.Colorize("Summary", report.ColorBold+report.ColorBlue))
	color := report.ColorGreen
	if len(rep.Static) != 0 {
		color = report.ColorRed
	}
	fmt.Println(report.Colorize(fmt.Sprintf("%d checks, %d dynamic and %d static vulnerabilities",
		rep.Checks, len(rep.Dynamic), len(rep.Static)), color))
	if rep.InconsistentAtEnd {
		fmt.Println(report.Colorize("The checker rejected the state after the complete workload.", report.ColorRed))
	}
	if *flagTimelineDir != "" {
		fmt.Println(report.Colorize("Timelines written to "+*flagTimelineDir, report.ColorBlue))
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -config alice.yaml [flags]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Flags override the options of the configuration file.\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
}
