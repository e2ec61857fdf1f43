// Package printer implements the engine's merged, thread-safe per-job
// output described in spec.md §4.13: a single TTY-owner token, a
// bounded pool of per-job line buffers for everyone else, and an
// overall progress indicator. ANSI coloring is preserved for a real
// terminal (github.com/fatih/color, github.com/mattn/go-isatty) and
// stripped otherwise; overall build progress uses
// github.com/schollz/progressbar/v3, the same progress-bar dependency
// used elsewhere in the pack's retrieval set.
package printer

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Line is one chunk of a job's captured output, tagged with a
// monotonically increasing sort key that preserves the child's write
// order across the stdout/stderr merge.
type Line struct {
	Stderr  bool
	SortKey uint64
	Data    []byte
}

type jobBuffer struct {
	lines []Line
}

// Printer serializes concurrent jobs' output onto one terminal.
type Printer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int // job id owning the terminal, -1 if none
	pool  map[int]*jobBuffer
	limit int // bounded pool size (spec.md §4.13)

	stdout, stderr io.Writer
	isTTY          bool

	bar      *progressbar.ProgressBar
	lastSlow map[int]time.Time
}

var ansiRE = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")

// New creates a Printer writing to stdout/stderr, with a pool of at
// most limit concurrently buffered jobs.
func New(stdout, stderr io.Writer, limit int) *Printer {
	p := &Printer{
		owner:    -1,
		pool:     make(map[int]*jobBuffer),
		limit:    limit,
		stdout:   stdout,
		stderr:   stderr,
		isTTY:    isatty.IsTerminal(os.Stdout.Fd()),
		lastSlow: make(map[int]time.Time),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// StartProgress creates an overall progress bar over total nodes. Safe
// to call with total == 0 (no bar shown).
func (p *Printer) StartProgress(total int) {
	if total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.Default(int64(total))
}

// Advance bumps the overall progress bar by one completed node.
func (p *Printer) Advance() {
	p.mu.Lock()
	bar := p.bar
	p.mu.Unlock()
	if bar != nil {
		bar.Add(1)
	}
}

// Write records one line of job output. If job currently owns the
// terminal, bytes are written straight through (stripped of ANSI codes
// when not a TTY); otherwise they are appended to job's pool buffer,
// blocking while the pool is full and job does not already have a
// buffer (spec.md §4.13: producers wait on a condition variable when
// the fixed pool is exhausted).
func (p *Printer) Write(job int, l Line) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.owner == job {
		p.writeDirect(l)
		return
	}

	for {
		if _, ok := p.pool[job]; ok || len(p.pool) < p.limit {
			break
		}
		p.cond.Wait()
	}

	buf, ok := p.pool[job]
	if !ok {
		buf = &jobBuffer{}
		p.pool[job] = buf
	}
	buf.lines = append(buf.lines, l)
}

func (p *Printer) writeDirect(l Line) {
	data := l.Data
	if !p.isTTY {
		data = stripANSI(data)
	}
	w := p.stdout
	if l.Stderr {
		w = p.stderr
	}
	w.Write(data)
}

// Acquire blocks until job can own the terminal, then flushes any
// buffered lines for job (sorted by SortKey, preserving stdout/stderr
// tagging) before returning. Call Release when the job is done
// printing.
func (p *Printer) Acquire(job int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.owner != -1 {
		p.cond.Wait()
	}
	p.owner = job

	if buf, ok := p.pool[job]; ok {
		sort.Slice(buf.lines, func(i, j int) bool { return buf.lines[i].SortKey < buf.lines[j].SortKey })
		for _, l := range buf.lines {
			p.writeDirect(l)
		}
		delete(p.pool, job)
		p.cond.Broadcast() // pool slot freed, waiting producers may proceed
	}
}

// Release gives up the terminal and wakes any job waiting to Acquire
// it or producers waiting for a pool slot.
func (p *Printer) Release(job int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner == job {
		p.owner = -1
	}
	p.cond.Broadcast()
}

// slowThreshold is the minimum time a job must run before its first
// progress line (spec.md §4.13); after that, progress lines for the same
// job are at least slowRepeat apart.
const slowThreshold = 5 * time.Second
const slowRepeat = 10 * time.Second

// MaybeProgress prints "still running" for job/annotation if it has
// been running at least slowThreshold and no progress line for this job
// has printed in the last slowRepeat.
func (p *Printer) MaybeProgress(job int, annotation string, elapsed time.Duration) {
	if elapsed < slowThreshold {
		return
	}
	p.mu.Lock()
	last, ok := p.lastSlow[job]
	if ok && time.Since(last) < slowRepeat {
		p.mu.Unlock()
		return
	}
	p.lastSlow[job] = time.Now()
	isTTY := p.isTTY
	p.mu.Unlock()

	msg := fmt.Sprintf("[%s still running after %s]", annotation, elapsed.Round(time.Second))
	if isTTY {
		msg = color.YellowString(msg)
	}
	fmt.Fprintln(p.stderr, msg)
}

func stripANSI(data []byte) []byte {
	return ansiRE.ReplaceAll(data, nil)
}
