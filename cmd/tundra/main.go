// Command tundra is the CLI front end for the build engine: it parses
// flags, wires them into an internal/driver.Config, and reports a
// build's outcome via process exit code. It intentionally carries no
// scheduling or staleness logic of its own, the split the teacher's
// cmd/distri keeps with its own internal/batch library.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/tundrabuild/tundra/internal/atexit"
	"github.com/tundrabuild/tundra/internal/driver"
	"github.com/tundrabuild/tundra/internal/env"
	"github.com/tundrabuild/tundra/internal/signalctx"
	"github.com/tundrabuild/tundra/internal/stats"
	"github.com/tundrabuild/tundra/internal/trace"
)

var (
	threads         = flag.Int("threads", 0, "number of worker threads (0: runtime.NumCPU())")
	dryRun          = flag.Bool("dry-run", false, "report what would build without running any action")
	forceDagRegen   = flag.Bool("force-dag-regen", false, "always re-run the DAG generator, even if the DAG file looks fresh")
	showTargets     = flag.Bool("show-targets", false, "print the resolved node set and exit without building")
	verbose         = flag.Bool("verbose", false, "echo each node's annotation before it runs")
	spammyVerbose   = flag.Bool("spammy-verbose", false, "echo each node's full command line before it runs")
	quiet           = flag.Bool("quiet", false, "suppress per-job output; print only the final summary")
	debug           = flag.Bool("debug", false, "format errors with additional detail")
	debugSigning    = flag.Bool("debug-signing", false, "log each resolved node's index and annotation before the build")
	continueOnError = flag.Bool("continue-on-error", false, "keep scheduling other nodes and later passes after a node fails")
	clean           = flag.Bool("clean", false, "remove every previously recorded output and exit")
	rebuild         = flag.Bool("rebuild", false, "ignore previous state and rebuild every resolved target")
	profileOutput   = flag.String("profile-output-path", "", "directory to write cpu.pprof into; the gzip trace goes to $TMPDIR/tundra.traces/<directory>/trace.<pid>.gz (empty: disabled)")
	workingDirectory = flag.String("working-directory", "", "directory the DAG and cache files live in (default: current directory)")
	dagFileName     = flag.String("dag-file-name", "", "DAG file name, relative to -working-directory (default: .tundra2.dag)")
	metricsAddr     = flag.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
)

func regenerateDag(dagPath string) error {
	if env.DagTool == "" {
		return xerrors.New("tundra: DAG file missing or stale and TUNDRA_DAGTOOL is unset")
	}
	cmd := exec.Command(env.DagTool, dagPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func funcmain() error {
	flag.Parse()
	defer atexit.Run()

	if *profileOutput != "" {
		if err := os.MkdirAll(*profileOutput, 0755); err != nil {
			return err
		}
		f, err := os.Create(filepath.Join(*profileOutput, "cpu.pprof"))
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		atexit.Register(pprof.StopCPUProfile)

		if err := trace.EnableCompressed(filepath.Join(*profileOutput, "trace")); err != nil {
			return err
		}
		atexit.Register(func() {
			if err := trace.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "tundra: closing trace file: %v\n", err)
			}
		})

		// Sample /proc CPU and memory counters into the same trace
		// alongside the per-job/per-pass events buildqueue and driver
		// emit, the way cmd/distri's batch subcommand runs both sampler
		// goroutines for the lifetime of its -ctracefile trace.
		sampleCtx, stopSampling := context.WithCancel(context.Background())
		atexit.Register(stopSampling)
		go func() {
			if err := trace.CPUEvents(sampleCtx, time.Second); err != nil && sampleCtx.Err() == nil {
				log.Printf("tundra: cpu trace sampler: %v", err)
			}
		}()
		go func() {
			if err := trace.MemEvents(sampleCtx, time.Second); err != nil && sampleCtx.Err() == nil {
				log.Printf("tundra: memory trace sampler: %v", err)
			}
		}()
	}

	wd := *workingDirectory
	if wd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		wd = cwd
	}

	dagName := *dagFileName
	if dagName == "" {
		dagName = driver.DefaultDagName
	}

	logOut := io.Writer(os.Stderr)
	if *quiet {
		logOut = io.Discard
	}
	l := log.New(logOut, "", 0)

	nThreads := *threads
	if nThreads <= 0 {
		nThreads = runtime.NumCPU()
	}

	cfg := driver.Config{
		WorkingDir:       wd,
		DagPath:          filepath.Join(wd, dagName),
		Threads:          nThreads,
		EchoCommandLines: *spammyVerbose,
		EchoAnnotations:  *verbose || *spammyVerbose,
		ContinueOnError:  *continueOnError,
		DryRun:           *dryRun,
		Logger:           l,
		RegenerateDag: func() error {
			return regenerateDag(filepath.Join(wd, dagName))
		},
	}
	if *forceDagRegen {
		os.Remove(cfg.DagPath)
	}

	d, err := driver.Load(cfg)
	if err != nil {
		return xerrors.Errorf("tundra: %w", err)
	}

	if *metricsAddr != "" {
		go func() {
			if err := stats.Server(context.Background(), *metricsAddr); err != nil {
				l.Printf("metrics server: %v", err)
			}
		}()
	}

	stopWatching := signalctx.WatchSignals(d.Latch())
	defer stopWatching()

	if *clean {
		return d.CleanAll()
	}
	if *rebuild {
		d.ForceRebuild()
	}

	nodes, err := d.ResolveTargets(flag.Args())
	if err != nil {
		return xerrors.Errorf("tundra: %w", err)
	}

	if *showTargets {
		for _, idx := range nodes {
			fmt.Println(d.Graph.Nodes[idx].Annotation)
		}
		return nil
	}

	if *debugSigning {
		for _, idx := range nodes {
			l.Printf("node %d: %s", idx, d.Graph.Nodes[idx].Annotation)
		}
	}

	summary, err := d.Run(nodes)
	if err != nil {
		return xerrors.Errorf("tundra: %w", err)
	}

	l.Printf("build finished: %d succeeded, %d up to date, %d failed, %d not built",
		summary.Succeeded, summary.UpToDate, summary.Failed, summary.NotBuilt)

	if summary.Interrupted {
		return xerrors.New("tundra: build interrupted")
	}
	if summary.Failed > 0 {
		return xerrors.New("tundra: build failed")
	}
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, strings.TrimSuffix(err.Error(), "\n"))
		}
		os.Exit(1)
	}
}
