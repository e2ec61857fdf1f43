// Package driver implements the orchestration component of spec.md
// §4.14: load the frozen DAG/state/scan-cache/digest-cache files,
// perform stale-output cleanup, resolve command-line targets to a node
// set, run that set pass-by-pass through internal/buildqueue, and
// serialize the new state. It is the part of the engine a CLI front end
// (cmd/tundra) drives directly; nothing here parses flags or calls
// os.Exit, matching spec.md §1's "command-line front-end... out of
// scope" boundary and the teacher's own split between
// internal/batch.Ctx.Build (library orchestration) and cmd/distri (flag
// parsing and process exit codes).
package driver

import (
	"log"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/tundrabuild/tundra/internal/dag"
	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digestcache"
	"github.com/tundrabuild/tundra/internal/filesign"
	"github.com/tundrabuild/tundra/internal/mmap"
	"github.com/tundrabuild/tundra/internal/printer"
	"github.com/tundrabuild/tundra/internal/scancache"
	"github.com/tundrabuild/tundra/internal/signalctx"
	"github.com/tundrabuild/tundra/internal/statcache"
	"github.com/tundrabuild/tundra/internal/statefile"
)

// Default frozen-file names, spec.md §6.
const (
	DefaultDagName    = ".tundra2.dag"
	DefaultStateName  = ".tundra2.state"
	DefaultScanName   = ".tundra2.scancache"
	DefaultDigestName = ".tundra2.digestcache"
)

// Config configures one Driver run.
type Config struct {
	// WorkingDir is the directory the cache files live in and target
	// filename matching is relative to.
	WorkingDir string

	DagPath       string
	StateName     string // defaults to DefaultStateName
	ScanName      string // defaults to DefaultScanName
	DigestName    string // defaults to DefaultDigestName

	Threads      int
	MaxExpensive int
	FoldCase     bool // ASCII case-folded path keys, for case-insensitive file systems

	EchoCommandLines bool
	EchoAnnotations  bool
	ContinueOnError  bool
	DryRun           bool

	// RegenerateDag is invoked when the DAG file is missing, has a
	// mismatched magic number, or its recorded producer inputs/glob
	// signatures are stale (spec.md §4.14 step 1). It is the hook
	// cmd/tundra wires to exec the external $TUNDRA_DAGTOOL; the core
	// driver package never shells out on its own since the DAG producer
	// is outside the core's scope (spec.md §1).
	RegenerateDag func() error

	Logger *log.Logger
	Stdout, Stderr *os.File
}

func (c *Config) stateName() string {
	if c.StateName != "" {
		return c.StateName
	}
	return DefaultStateName
}

func (c *Config) scanName() string {
	if c.ScanName != "" {
		return c.ScanName
	}
	return DefaultScanName
}

func (c *Config) digestName() string {
	if c.DigestName != "" {
		return c.DigestName
	}
	return DefaultDigestName
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// Driver holds one run's loaded graph, caches, and scheduling
// configuration.
type Driver struct {
	cfg   Config
	log   *log.Logger
	Graph *dagfile.Graph

	prevState   *statefile.State
	scanCache   *scancache.Cache
	digestCache *digestcache.Cache
	statCache   *statcache.Cache
	signer      *filesign.Signer
	printer     *printer.Printer
	latch       *signalctx.Latch
}

// Load performs spec.md §4.14 steps 1-2: map the DAG file (regenerating
// it first if RegenerateDag is set and the file is missing, magic
// mismatched, or its producer-input/glob signatures are stale), and load
// the previous-state, scan-cache, and digest-cache files, tolerating all
// three being absent.
func Load(cfg Config) (*Driver, error) {
	l := cfg.logger()

	graph, err := loadGraphWithRegen(cfg, l)
	if err != nil {
		return nil, xerrors.Errorf("driver: loading DAG: %w", err)
	}
	if len(graph.Passes) > dagfile.MaxPasses {
		return nil, xerrors.Errorf("driver: DAG declares %d passes, exceeding the %d-pass cap (spec.md §9)", len(graph.Passes), dagfile.MaxPasses)
	}

	prevState, err := statefile.Open(filepath.Join(cfg.WorkingDir, cfg.stateName()))
	if err != nil {
		return nil, xerrors.Errorf("driver: loading previous state: %w", err)
	}

	scanCache, err := scancache.Open(filepath.Join(cfg.WorkingDir, cfg.scanName()))
	if err != nil {
		return nil, xerrors.Errorf("driver: loading scan cache: %w", err)
	}

	digestCache, err := digestcache.Open(filepath.Join(cfg.WorkingDir, cfg.digestName()))
	if err != nil {
		return nil, xerrors.Errorf("driver: loading digest cache: %w", err)
	}

	statCache := statcache.New(cfg.FoldCase)

	contentExts := make(map[uint32]bool, len(graph.ContentDigestExts))
	for _, h := range graph.ContentDigestExts {
		contentExts[h] = true
	}

	d := &Driver{
		cfg:         cfg,
		log:         l,
		Graph:       graph,
		prevState:   prevState,
		scanCache:   scanCache,
		digestCache: digestCache,
		statCache:   statCache,
		signer: &filesign.Signer{
			Stat:        statCache,
			Scan:        scanCache,
			Digests:     digestCache,
			ContentExts: contentExts,
			FoldCase:    cfg.FoldCase,
		},
		latch: &signalctx.Latch{},
	}

	stdout, stderr := os.Stdout, os.Stderr
	if cfg.Stdout != nil {
		stdout = cfg.Stdout
	}
	if cfg.Stderr != nil {
		stderr = cfg.Stderr
	}
	d.printer = printer.New(stdout, stderr, 64)

	return d, nil
}

func loadGraphWithRegen(cfg Config, l *log.Logger) (*dagfile.Graph, error) {
	graph, err := tryLoadGraph(cfg.DagPath)
	stale := err != nil
	if err == nil {
		stale = !producerInputsValid(graph, cfg.WorkingDir)
	}
	if stale && cfg.RegenerateDag != nil {
		l.Printf("regenerating DAG: %s", cfg.DagPath)
		if rerr := cfg.RegenerateDag(); rerr != nil {
			return nil, xerrors.Errorf("regenerating DAG: %w", rerr)
		}
		graph, err = tryLoadGraph(cfg.DagPath)
	}
	return graph, err
}

func tryLoadGraph(path string) (*dagfile.Graph, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dagfile.Load(f.Data())
}

// Latch exposes the run's cancellation latch, for wiring
// internal/signalctx.WatchSignals from cmd/tundra.
func (d *Driver) Latch() *signalctx.Latch { return d.latch }

// CheckAcyclic validates nodeIndices' dependency edges contain no cycle,
// delegating to internal/dag (gonum/graph/topo).
func (d *Driver) CheckAcyclic(nodeIndices []int) error {
	return dag.CheckAcyclic(d.Graph, nodeIndices)
}
