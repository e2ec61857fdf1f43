package driver

import (
	"fmt"
	"sort"

	"github.com/tundrabuild/tundra/internal/buildqueue"
	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/signalctx"
	"github.com/tundrabuild/tundra/internal/statefile"
	"github.com/tundrabuild/tundra/internal/stats"
	"github.com/tundrabuild/tundra/internal/trace"
)

// tidPass is the trace tid lane reserved for pass-boundary events, kept
// distinct from the per-worker job lanes (internal/buildqueue.execute
// uses worker indices 0..Threads-1, and spec.md §4.11 caps Threads at 64).
const tidPass = 1000

// Summary tallies one Run's outcome, including a "not built" bucket: a
// node that did not reach Completed (left Blocked because a dependency
// failed, or never started because scheduling stopped after a failure
// without ContinueOnError or after cancellation) is neither a success
// nor a failure.
type Summary struct {
	Succeeded   int
	UpToDate    int
	Failed      int
	NotBuilt    int
	Interrupted bool
}

// Run executes spec.md §4.14 steps 3-6 over nodeIndices (already
// resolved by ResolveTargets): stale-output cleanup, pass-ordered
// execution, and state/cache serialization. It groups nodeIndices by
// pass index ascending and hands each pass's contiguous node range to a
// freshly configured buildqueue.Queue, stopping before the next pass if
// a failure occurred and cfg.ContinueOnError is false. Within a pass the
// same rule holds: the queue starts no new node after a failure unless
// ContinueOnError is set, and nodes already running are allowed to
// finish.
func (d *Driver) Run(nodeIndices []int) (*Summary, error) {
	if err := d.CleanStaleOutputs(); err != nil {
		return nil, err
	}
	if err := d.CheckAcyclic(nodeIndices); err != nil {
		return nil, err
	}

	passes := groupByPass(d.Graph, nodeIndices)

	summary := &Summary{}
	var allResults []buildqueue.Result
	touched := make(map[int]bool, len(nodeIndices))

	d.printer.StartProgress(len(nodeIndices))

	stopWatching := signalctx.WatchSignals(d.latch)
	defer stopWatching()

	for _, pass := range passes {
		if !d.latch.ShouldKeepBuilding() {
			break
		}
		if d.cfg.EchoAnnotations || d.cfg.EchoCommandLines {
			d.echoPass(pass)
		}

		prev := d.prevRecordsFor(pass)
		q := buildqueue.New(buildqueue.Config{
			Threads:         d.cfg.Threads,
			MaxExpensive:    d.cfg.MaxExpensive,
			ContinueOnError: d.cfg.ContinueOnError,
			Stat:            d.statCache,
			Signer:          d.signer,
			Printer:         d.printer,
			Latch:           d.latch,
		}, d.Graph, pass, prev)

		passEv := trace.Event(passTraceName(d.Graph, pass), tidPass)
		results := q.RunPass()
		passEv.Done()
		allResults = append(allResults, results...)
		for _, r := range results {
			touched[r.NodeIndex] = true
		}

		tallyPass(summary, results)

		if q.Failed() > 0 && !d.cfg.ContinueOnError {
			break
		}
	}

	if !d.latch.ShouldKeepBuilding() {
		summary.Interrupted = true
	}
	for _, idx := range nodeIndices {
		if !touched[idx] {
			summary.NotBuilt++
		}
	}

	if !d.cfg.DryRun {
		if err := d.saveState(allResults, touched); err != nil {
			return summary, err
		}
		if err := d.scanCache.Save(d.cfg.WorkingDir, d.cfg.scanName()); err != nil {
			return summary, err
		}
		if err := d.digestCache.Save(d.cfg.WorkingDir, d.cfg.digestName()); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func (d *Driver) echoPass(pass []int) {
	for _, idx := range pass {
		n := &d.Graph.Nodes[idx]
		switch {
		case d.cfg.EchoCommandLines && n.Action != "":
			d.log.Println(n.Action)
		case d.cfg.EchoAnnotations && n.Annotation != "":
			d.log.Println(n.Annotation)
		}
	}
}

// passTraceName labels one pass's trace.Event by its name in
// Graph.Passes, falling back to its numeric index for a DAG that never
// named that pass.
func passTraceName(g *dagfile.Graph, pass []int) string {
	if len(pass) == 0 {
		return "pass"
	}
	idx := g.Nodes[pass[0]].PassIndex
	if int(idx) >= 0 && int(idx) < len(g.Passes) {
		return "pass " + g.Passes[idx]
	}
	return fmt.Sprintf("pass %d", idx)
}

func groupByPass(g *dagfile.Graph, nodeIndices []int) [][]int {
	byPass := make(map[int32][]int)
	var passNums []int32
	for _, idx := range nodeIndices {
		p := g.Nodes[idx].PassIndex
		if _, ok := byPass[p]; !ok {
			passNums = append(passNums, p)
		}
		byPass[p] = append(byPass[p], idx)
	}
	sort.Slice(passNums, func(i, j int) bool { return passNums[i] < passNums[j] })

	out := make([][]int, len(passNums))
	for i, p := range passNums {
		out[i] = byPass[p]
	}
	return out
}

func (d *Driver) prevRecordsFor(pass []int) map[digest.Digest]buildqueue.PrevRecord {
	out := make(map[digest.Digest]buildqueue.PrevRecord, len(pass))
	for _, idx := range pass {
		guid := d.Graph.Nodes[idx].Guid
		rec, ok := d.prevState.Lookup(guid)
		if !ok {
			continue
		}
		out[guid] = buildqueue.PrevRecord{
			BuildResult: int(rec.BuildResult),
			Signature:   rec.Signature,
			Outputs:     rec.Outputs,
			AuxOutputs:  rec.AuxOutputs,
		}
	}
	return out
}

func tallyPass(s *Summary, results []buildqueue.Result) {
	for _, r := range results {
		switch r.Outcome {
		case buildqueue.Succeeded:
			s.Succeeded++
			stats.Default.NodesSucceeded.Inc()
		case buildqueue.UpToDate:
			s.UpToDate++
			stats.Default.NodesUpToDate.Inc()
		case buildqueue.Failed:
			s.Failed++
			stats.Default.NodesFailed.Inc()
		default:
			// Left Blocked: an upstream dependency never completed.
			s.NotBuilt++
			stats.Default.NodesNotBuilt.Inc()
		}
	}
}

// saveState merges this run's fresh results with every previous-state
// record belonging to a node that was not part of this run (spec.md
// §4.14 step 6: "nodes that never computed a signature this run retain
// the previous record").
func (d *Driver) saveState(results []buildqueue.Result, touched map[int]bool) error {
	records := make([]statefile.Record, 0, len(results)+len(d.prevState.All()))

	for _, r := range results {
		if !r.HasSignature {
			// Node never reached checkInputSignature (e.g. left Blocked
			// by an upstream failure): its previous record, if any, is
			// preserved untouched below instead.
			continue
		}
		n := &d.Graph.Nodes[r.NodeIndex]
		buildResult := 0
		if r.Outcome == buildqueue.Failed {
			buildResult = 1
		}
		records = append(records, statefile.Record{
			Guid:        n.Guid,
			BuildResult: int32(buildResult),
			Signature:   r.Signature,
			Outputs:     n.Outputs,
			AuxOutputs:  n.AuxOutputs,
		})
	}

	newGuids := make(map[digest.Digest]bool, len(records))
	for _, rec := range records {
		newGuids[rec.Guid] = true
	}
	for _, rec := range d.prevState.All() {
		if newGuids[rec.Guid] {
			continue
		}
		records = append(records, rec)
	}

	return statefile.Save(d.cfg.WorkingDir, d.cfg.stateName(), records)
}
