package buildqueue

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"

	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/digestcache"
	"github.com/tundrabuild/tundra/internal/filesign"
	"github.com/tundrabuild/tundra/internal/scancache"
	"github.com/tundrabuild/tundra/internal/signalctx"
	"github.com/tundrabuild/tundra/internal/statcache"
)

// TestMain verifies RunPass leaves no worker goroutine running past the
// end of a pass: every Queue.workerLoop must observe q.pending == 0 and
// return, the same leak check standardbeagle-lci's internal/core test
// suite runs for its own long-lived worker pool.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSigner() *filesign.Signer {
	return &filesign.Signer{
		Stat:        statcache.New(false),
		Scan:        scancache.New(),
		Digests:     digestcache.New(),
		ContentExts: map[uint32]bool{},
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPassSingleNodeSucceeds(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.txt", "hello")
	out := filepath.Join(dir, "out.txt")

	graph := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{
				Guid:    digest.Sum([]byte("node-a")),
				Action:  "cp " + in + " " + out,
				Inputs:  []dagfile.FileRef{{Name: in}},
				Outputs: []dagfile.FileRef{{Name: out}},
			},
		},
	}

	q := New(Config{Threads: 2, Signer: newSigner(), Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0}, nil)
	results := q.RunPass()

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Progress != Completed {
		t.Fatalf("Progress = %v, want Completed", results[0].Progress)
	}
	if q.states[0].result != 0 {
		t.Fatalf("result = %d, want 0", q.states[0].result)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}
}

func TestRunPassRespectsDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	mid := filepath.Join(dir, "mid.txt")
	final := filepath.Join(dir, "final.txt")

	graph := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{
				Guid:    digest.Sum([]byte("first")),
				Action:  "one",
				Flags:   dagfile.FlagWriteTextFileAction,
				Outputs: []dagfile.FileRef{{Name: mid}},
			},
			{
				Guid:    digest.Sum([]byte("second")),
				Action:  "cp " + mid + " " + final,
				Deps:    []int32{0},
				Inputs:  []dagfile.FileRef{{Name: mid}},
				Outputs: []dagfile.FileRef{{Name: final}},
			},
		},
	}

	q := New(Config{Threads: 4, Signer: newSigner(), Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0, 1}, nil)
	results := q.RunPass()

	for _, r := range results {
		if r.Progress != Completed {
			t.Fatalf("node %d progress = %v, want Completed", r.NodeIndex, r.Progress)
		}
	}
	if _, err := os.Stat(final); err != nil {
		t.Fatalf("expected downstream output to exist: %v", err)
	}
}

func TestRunPassFailurePropagatesResult(t *testing.T) {
	graph := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{Guid: digest.Sum([]byte("bad")), Action: "false"},
		},
	}

	q := New(Config{Threads: 1, Signer: newSigner(), Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0}, nil)
	results := q.RunPass()

	if results[0].Progress != Completed {
		t.Fatalf("Progress = %v, want Completed (terminal state regardless of outcome)", results[0].Progress)
	}
	if q.Failed() != 1 {
		t.Fatalf("Failed() = %d, want 1", q.Failed())
	}
}

func TestRunPassUpToDateWhenSignatureMatches(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.txt", "hello")
	out := writeFile(t, dir, "out.txt", "already built")

	node := dagfile.Node{
		Guid:    digest.Sum([]byte("cached")),
		Action:  "cp " + in + " " + out,
		Inputs:  []dagfile.FileRef{{Name: in}},
		Outputs: []dagfile.FileRef{{Name: out}},
	}
	graph := &dagfile.Graph{Nodes: []dagfile.Node{node}}

	signer := newSigner()
	sig := signer.Sign(&node)
	prev := map[digest.Digest]PrevRecord{
		node.Guid: {BuildResult: 0, Signature: sig, Outputs: node.Outputs, AuxOutputs: node.AuxOutputs},
	}

	q := New(Config{Threads: 1, Signer: signer, Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0}, prev)
	results := q.RunPass()

	if results[0].Progress != Completed {
		t.Fatalf("Progress = %v, want Completed", results[0].Progress)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "already built" {
		t.Fatalf("output was rewritten even though inputs were unchanged: %q", got)
	}
}

func TestRunPassDependentOfFailedNodeNeverRuns(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	graph := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{Guid: digest.Sum([]byte("bad")), Action: "false"},
			{
				Guid:    digest.Sum([]byte("dependent")),
				Action:  "touch " + out,
				Deps:    []int32{0},
				Outputs: []dagfile.FileRef{{Name: out}},
			},
		},
	}

	q := New(Config{Threads: 2, Signer: newSigner(), Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0, 1}, nil)
	results := q.RunPass()

	if results[0].Outcome != Failed {
		t.Fatalf("node 0 outcome = %v, want Failed", results[0].Outcome)
	}
	if results[1].Progress != Blocked {
		t.Fatalf("node 1 progress = %v, want Blocked (never runs: its dependency failed)", results[1].Progress)
	}
	if _, err := os.Stat(out); err == nil {
		t.Fatalf("dependent node's action ran even though its dependency failed")
	}
}

func TestRunPassStopsSchedulingNewWorkAfterFailureWithoutContinueOnError(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	graph := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{Guid: digest.Sum([]byte("bad-independent")), Action: "false"},
			{
				// No dependency on node 0: this node is independent, but
				// ContinueOnError is false, so once node 0 fails the
				// queue must not start any further work this pass.
				Guid:    digest.Sum([]byte("independent")),
				Action:  "touch " + out,
				Outputs: []dagfile.FileRef{{Name: out}},
			},
		},
	}

	q := New(Config{Threads: 1, Signer: newSigner(), Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0, 1}, nil)
	q.RunPass()

	if _, err := os.Stat(out); err == nil {
		t.Fatalf("independent node ran after an unrelated node failed without ContinueOnError")
	}
}

func TestRunPassContinueOnErrorStillRunsIndependentNodes(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	graph := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{Guid: digest.Sum([]byte("bad-independent-2")), Action: "false"},
			{
				Guid:    digest.Sum([]byte("independent-2")),
				Action:  "touch " + out,
				Outputs: []dagfile.FileRef{{Name: out}},
			},
		},
	}

	q := New(Config{Threads: 2, ContinueOnError: true, Signer: newSigner(), Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0, 1}, nil)
	q.RunPass()

	if _, err := os.Stat(out); err != nil {
		t.Fatalf("independent node did not run under ContinueOnError: %v", err)
	}
}

func TestRunPassHonorsMaxExpensive(t *testing.T) {
	graph := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{Guid: digest.Sum([]byte("e1")), Action: "true", Flags: dagfile.FlagExpensive},
			{Guid: digest.Sum([]byte("e2")), Action: "true", Flags: dagfile.FlagExpensive},
			{Guid: digest.Sum([]byte("e3")), Action: "true", Flags: dagfile.FlagExpensive},
		},
	}

	q := New(Config{Threads: 8, MaxExpensive: 1, Signer: newSigner(), Stat: statcache.New(false), Latch: &signalctx.Latch{}}, graph, []int{0, 1, 2}, nil)
	results := q.RunPass()

	for _, r := range results {
		if r.Progress != Completed {
			t.Fatalf("node %d progress = %v, want Completed", r.NodeIndex, r.Progress)
		}
	}
}
