// Package buildqueue implements the engine's scheduler (spec.md §4.11):
// a single mutex + condition variable coordinating a fixed pool of
// worker goroutines that advance nodes through a small progress
// lattice, honoring dependencies, an expensive-node concurrency cap,
// and cooperative cancellation. It is grounded in the same
// errgroup-driven worker-pool shape as the teacher's internal/batch
// scheduler (distr1/distri), generalized from "build one package" to
// "advance one DAG node through Initial -> ... -> Completed".
package buildqueue

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/filesign"
	"github.com/tundrabuild/tundra/internal/printer"
	"github.com/tundrabuild/tundra/internal/procexec"
	"github.com/tundrabuild/tundra/internal/signalctx"
	"github.com/tundrabuild/tundra/internal/statcache"
	"github.com/tundrabuild/tundra/internal/trace"
)

// Progress is a node's position in the scheduler's state machine
// (spec.md §4.11).
type Progress int

const (
	Initial Progress = iota
	Blocked
	Unblocked
	RunAction
	Succeeded
	UpToDate
	Failed
	Completed
)

func (p Progress) String() string {
	switch p {
	case Initial:
		return "Initial"
	case Blocked:
		return "Blocked"
	case Unblocked:
		return "Unblocked"
	case RunAction:
		return "RunAction"
	case Succeeded:
		return "Succeeded"
	case UpToDate:
		return "UpToDate"
	case Failed:
		return "Failed"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// PrevRecord is the subset of a previous-state record a node needs to
// decide staleness (spec.md §3 "Previous State").
type PrevRecord struct {
	BuildResult int
	Signature   digest.Digest
	Outputs     []dagfile.FileRef
	AuxOutputs  []dagfile.FileRef
}

// state is one node's mutable runtime record.
type state struct {
	node     *dagfile.Node
	nodeIdx  int
	prev     *PrevRecord
	progress Progress
	outcome  Progress // terminal sub-state (Succeeded/UpToDate/Failed), snapshotted before collapsing to Completed
	queued   bool
	active   bool
	settled  bool // true once this node will never be enqueued/run again
	result   int
	sig      digest.Digest
	hasSig   bool
}

// Config configures a Queue for one Driver run.
type Config struct {
	Threads      int
	MaxExpensive int
	// ContinueOnError mirrors spec.md §4.11's flag of the same name: when
	// false (the default), a single node Failed stops the queue from
	// starting any further work for the rest of this pass, matching the
	// original engine's ShouldKeepBuilding (BuildQueue.cpp: workers stop
	// once m_FailedNodeCount > 0 unless kFlagContinueOnError is set).
	// Already-active nodes are allowed to finish; only new scheduling
	// stops.
	ContinueOnError bool
	Stat            *statcache.Cache
	Signer          *filesign.Signer
	Printer         *printer.Printer
	Latch           *signalctx.Latch
}

// Queue is the scheduler: a ring buffer of queued node indices, a LIFO
// park list for throttled *Expensive* nodes, and the lock/condvar pair
// guarding all of it (spec.md §5).
type Queue struct {
	cfg Config

	mu   sync.Mutex
	cond *sync.Cond

	states []state     // indexed by position within the current pass's node set
	byNode map[int]int // DAG node index -> states index

	ring   []int // states indices ready to run
	parked []int // states indices parked as over the expensive cap

	pending          int
	expensiveRunning int
	failed           int

	jobCounter int
}

// New creates a Queue over nodeIndices (the set of nodes belonging to
// one build pass), wiring each to its previous-state record when one
// exists.
func New(cfg Config, graph *dagfile.Graph, nodeIndices []int, prev map[digest.Digest]PrevRecord) *Queue {
	q := &Queue{cfg: cfg, byNode: make(map[int]int, len(nodeIndices))}
	q.cond = sync.NewCond(&q.mu)

	q.states = make([]state, len(nodeIndices))
	for i, ni := range nodeIndices {
		n := &graph.Nodes[ni]
		st := state{node: n, nodeIdx: ni, progress: Initial}
		if rec, ok := prev[n.Guid]; ok {
			r := rec
			st.prev = &r
		}
		q.states[i] = st
		q.byNode[ni] = i
	}
	return q
}

// Result reports one node's final outcome after RunPass. Progress is
// Completed for a node that finished and Blocked for a node settled
// because a dependency failed; once scheduling stops early (a failure
// without ContinueOnError, or cancellation) a node can also be left
// Blocked, Unblocked or RunAction. Outcome preserves the Succeeded/UpToDate/Failed
// sub-state a Completed node passed through, for callers that need to
// distinguish a rebuild from a cache hit from a failure.
type Result struct {
	NodeIndex    int
	Progress     Progress
	Outcome      Progress
	Signature    digest.Digest
	HasSignature bool
}

// RunPass executes the nodes of this Queue using cfg.Threads workers
// (at least one), returning once every node is Completed or settled, or
// once scheduling stops after a failure without ContinueOnError or a
// cancellation.
func (q *Queue) RunPass() []Result {
	q.mu.Lock()
	q.pending = len(q.states)
	for i := range q.states {
		q.setupDependenciesLocked(i)
	}
	q.mu.Unlock()

	threads := q.cfg.Threads
	if threads < 1 {
		threads = 1
	}

	var eg errgroup.Group
	for w := 0; w < threads; w++ {
		w := w
		eg.Go(func() error {
			q.workerLoop(w)
			return nil
		})
	}
	eg.Wait()

	results := make([]Result, len(q.states))
	for i, st := range q.states {
		results[i] = Result{NodeIndex: st.nodeIdx, Progress: st.progress, Outcome: st.outcome, Signature: st.sig, HasSignature: st.hasSig}
	}
	return results
}

// Failed reports how many nodes ended in Failed across the most
// recent RunPass.
func (q *Queue) Failed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}

// keepSchedulingLocked reports whether the queue may still start new
// work: both the cancellation latch and, absent ContinueOnError, the
// failed-node count gate further scheduling (spec.md §4.11/§5's
// should_keep_building, grounded on BuildQueue.cpp's ShouldKeepBuilding:
// `m_FailedNodeCount > 0 && !kFlagContinueOnError` stops the loop).
// Called with q.mu held.
func (q *Queue) keepSchedulingLocked() bool {
	if !q.cfg.Latch.ShouldKeepBuilding() {
		return false
	}
	return q.cfg.ContinueOnError || q.failed == 0
}

func (q *Queue) workerLoop(worker int) {
	for {
		q.mu.Lock()
		for len(q.ring) == 0 && q.pending > 0 && q.keepSchedulingLocked() {
			q.cond.Wait()
		}
		if q.pending == 0 || !q.keepSchedulingLocked() {
			q.mu.Unlock()
			return
		}
		idx := q.ring[0]
		q.ring = q.ring[1:]
		q.states[idx].active = true
		q.states[idx].queued = false
		q.mu.Unlock()

		q.advance(idx, worker)
	}
}

// advance drives one node through as many transitions as can happen
// without blocking on a dependency, mirroring the per-node progress
// table of spec.md §4.11.
func (q *Queue) advance(idx, worker int) {
	for {
		q.mu.Lock()
		p := q.states[idx].progress
		q.mu.Unlock()

		switch p {
		case Unblocked:
			q.checkInputSignature(idx)
		case RunAction:
			if done := q.runAction(idx, worker); !done {
				return // parked: leaves the loop without re-queuing itself
			}
		case Succeeded, UpToDate:
			q.mu.Lock()
			q.states[idx].result = 0
			q.states[idx].outcome = p
			q.states[idx].progress = Completed
			q.settleLocked(idx)
			q.mu.Unlock()
			if q.cfg.Printer != nil {
				q.cfg.Printer.Advance()
			}
			return
		case Failed:
			q.mu.Lock()
			q.failed++
			q.states[idx].outcome = Failed
			q.states[idx].progress = Completed
			// settleLocked broadcasts unconditionally, which also wakes
			// every worker blocked in cond.Wait() so they re-check
			// keepSchedulingLocked and drain instead of hanging on an
			// empty ring once this failure stops further scheduling
			// (spec.md §4.11 "otherwise threads drain").
			q.settleLocked(idx)
			q.mu.Unlock()
			if q.cfg.Printer != nil {
				q.cfg.Printer.Advance()
			}
			return
		default:
			return
		}
	}
}

// setupDependenciesLocked implements the Initial->{Blocked,Unblocked}
// transition. A dependency that Completed with outcome Failed can never
// produce valid output, so idx must never enter RunAction either
// (spec.md §8 boundary: "Node with a single always-failing dependency:
// never enters RunAction"); idx is settled in place instead, leaving its
// own progress at Blocked so it is reported "not built" rather than
// run. The same verdict propagates transitively through a dependency
// that was itself settled without ever completing. Called with q.mu
// held.
func (q *Queue) setupDependenciesLocked(idx int) {
	st := &q.states[idx]
	allDone := true
	for _, dep := range st.node.Deps {
		di, ok := q.byNode[int(dep)]
		if !ok {
			continue // dependency outside this pass's node set: already satisfied
		}
		d := &q.states[di]
		if d.progress == Completed {
			if d.outcome == Failed {
				q.settleLocked(idx)
				return
			}
			continue
		}
		if d.settled {
			q.settleLocked(idx)
			return
		}
		allDone = false
		if !d.queued && !d.active {
			q.enqueueLocked(di)
		}
	}
	if allDone {
		st.progress = Unblocked
		q.enqueueLocked(idx)
	} else {
		st.progress = Blocked
	}
}

func (q *Queue) enqueueLocked(idx int) {
	q.states[idx].queued = true
	q.ring = append(q.ring, idx)
	q.cond.Signal()
}

// settleLocked marks idx as finished for scheduling purposes, whether it
// reached Completed normally or was blocked forever by a failed
// dependency (setupDependenciesLocked above); either way idx will never
// be enqueued again. It decrements pending, re-evaluates any sibling
// still Blocked on idx (propagating completion or a transitive failure
// verdict), and wakes worker threads. Idempotent, since a settled node
// can be re-notified more than once as several dependents complete.
// Called with q.mu held.
func (q *Queue) settleLocked(idx int) {
	if q.states[idx].settled {
		return
	}
	q.states[idx].settled = true
	q.pending--
	for i := range q.states {
		if q.states[i].progress != Blocked || q.states[i].settled {
			continue
		}
		for _, dep := range q.states[i].node.Deps {
			if di, ok := q.byNode[int(dep)]; ok && di == idx {
				q.setupDependenciesLocked(i)
				break
			}
		}
	}
	q.cond.Broadcast()
}

// checkInputSignature computes idx's signature without holding the
// queue lock (it only touches the stat/scan/digest caches, which have
// their own locking), then re-acquires the lock to commit the
// Unblocked->{RunAction,UpToDate} transition.
func (q *Queue) checkInputSignature(idx int) {
	q.mu.Lock()
	st := q.states[idx]
	q.mu.Unlock()

	sig := q.cfg.Signer.Sign(st.node)
	rebuild := needsRebuild(st.node, st.prev, sig, q.cfg.Stat)

	q.mu.Lock()
	q.states[idx].sig = sig
	q.states[idx].hasSig = true
	if rebuild {
		q.states[idx].progress = RunAction
	} else {
		q.states[idx].progress = UpToDate
	}
	q.mu.Unlock()
}

func needsRebuild(n *dagfile.Node, prev *PrevRecord, sig digest.Digest, stat *statcache.Cache) bool {
	if prev == nil {
		return true
	}
	if prev.Signature != sig {
		return true
	}
	if prev.BuildResult != 0 {
		return true
	}
	if !sameFileRefs(prev.Outputs, n.Outputs) || !sameFileRefs(prev.AuxOutputs, n.AuxOutputs) {
		return true
	}
	for _, o := range n.Outputs {
		if !stat.Stat(o.Name).Exists {
			return true
		}
	}
	return false
}

func sameFileRefs(a, b []dagfile.FileRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runAction implements the RunAction transition: expensive-node
// throttling, output directory creation, pre-clean, process execution,
// and output validation. Returns false if the node was parked instead
// of run (the worker must drop it without re-queuing; it will be
// re-enqueued when an expensive slot frees up).
func (q *Queue) runAction(idx, worker int) bool {
	n := q.states[idx].node

	if n.Flags.Has(dagfile.FlagExpensive) {
		q.mu.Lock()
		if q.cfg.MaxExpensive > 0 && q.expensiveRunning >= q.cfg.MaxExpensive {
			q.parked = append(q.parked, idx)
			q.mu.Unlock()
			return false
		}
		q.expensiveRunning++
		q.mu.Unlock()
		defer q.releaseExpensiveSlot()
	}

	q.prepareOutputs(n)

	result, aborted := q.execute(n, worker)

	ok := result == 0 && !aborted && validateOutputs(n)

	q.mu.Lock()
	if ok {
		q.states[idx].progress = Succeeded
	} else {
		q.states[idx].progress = Failed
		if result != 0 {
			q.states[idx].result = result
		} else {
			q.states[idx].result = 1
		}
	}
	q.mu.Unlock()

	if !ok && !n.Flags.Has(dagfile.FlagPreciousOutputs) {
		removeOutputs(n, q.cfg.Stat)
	}

	return true
}

func (q *Queue) releaseExpensiveSlot() {
	q.mu.Lock()
	q.expensiveRunning--
	woken := -1
	if len(q.parked) > 0 {
		woken = q.parked[len(q.parked)-1]
		q.parked = q.parked[:len(q.parked)-1]
	}
	if woken >= 0 {
		q.enqueueLocked(woken)
	}
	q.mu.Unlock()
}

func (q *Queue) prepareOutputs(n *dagfile.Node) {
	for _, o := range allOutputs(n) {
		mkdirAllMarkingDirty(filepath.Dir(o.Name), q.cfg.Stat)
	}
	if !n.Flags.Has(dagfile.FlagOverwriteOutputs) {
		removeOutputs(n, q.cfg.Stat)
	}
}

func allOutputs(n *dagfile.Node) []dagfile.FileRef {
	out := make([]dagfile.FileRef, 0, len(n.Outputs)+len(n.AuxOutputs))
	out = append(out, n.Outputs...)
	out = append(out, n.AuxOutputs...)
	return out
}

// jobTraceName picks the label a job's begin/end trace markers carry,
// falling back to the action when no annotation was set.
func jobTraceName(n *dagfile.Node) string {
	if n.Annotation != "" {
		return n.Annotation
	}
	return n.Action
}

func (q *Queue) execute(n *dagfile.Node, worker int) (exitCode int, aborted bool) {
	{
		ev := trace.Event(jobTraceName(n), worker)
		ev.Type = "B" // begin
		ev.Done()
	}
	defer func() {
		ev := trace.Event(jobTraceName(n), worker)
		ev.Type = "E" // end
		ev.Done()
	}()

	if n.Flags.Has(dagfile.FlagWriteTextFileAction) {
		if len(n.Outputs) == 0 {
			return 1, false
		}
		res := procexec.Run(context.Background(), procexec.Request{WriteTextFile: n.Outputs[0].Name, Text: n.Action})
		return res.ExitCode, res.Aborted
	}

	env := make([]procexec.EnvVar, len(n.Env))
	for i, e := range n.Env {
		env[i] = procexec.EnvVar{Name: e.Name, Value: e.Value}
	}

	jobID := q.nextJobID()
	slow := func(elapsed time.Duration) {
		if q.cfg.Printer != nil {
			q.cfg.Printer.MaybeProgress(jobID, n.Annotation, elapsed)
		}
	}

	ctx, cancel := signalctx.WithLatch(context.Background(), q.cfg.Latch)
	defer cancel()

	if n.PreAction != "" {
		pre := procexec.Run(ctx, procexec.Request{Command: n.PreAction, Env: env, SlowAfter: 5 * time.Second, SlowCallback: slow})
		if pre.ExitCode != 0 {
			return pre.ExitCode, pre.Aborted
		}
	}

	res := procexec.Run(ctx, procexec.Request{Command: n.Action, Env: env, SlowAfter: 5 * time.Second, SlowCallback: slow})

	if q.cfg.Printer != nil {
		q.cfg.Printer.Acquire(jobID)
		q.cfg.Printer.Write(jobID, printer.Line{Data: res.Output})
		q.cfg.Printer.Release(jobID)
	}

	return res.ExitCode, res.Aborted
}

func (q *Queue) nextJobID() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobCounter++
	return q.jobCounter
}

func removeOutputs(n *dagfile.Node, stat *statcache.Cache) {
	for _, o := range allOutputs(n) {
		os.Remove(o.Name)
		stat.MarkDirty(o.Name)
	}
}

func validateOutputs(n *dagfile.Node) bool {
	for _, o := range n.Outputs {
		if !fileExists(o.Name) {
			if n.Flags.Has(dagfile.FlagAllowUnexpectedOutput) {
				continue
			}
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func mkdirAllMarkingDirty(dir string, stat *statcache.Cache) {
	if dir == "" || dir == "." {
		return
	}
	os.MkdirAll(dir, 0755)
	stat.MarkDirty(dir)
}
