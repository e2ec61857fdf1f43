package driver

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
)

func writeDagFile(t *testing.T, dir, name string, g *dagfile.Graph) string {
	t.Helper()
	w, err := dagfile.Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func twoNodeGraph(outA, outB string) *dagfile.Graph {
	return &dagfile.Graph{
		Nodes: []dagfile.Node{
			{
				Guid:    digest.Sum([]byte("node-a")),
				Action:  "hello-a",
				Outputs: []dagfile.FileRef{{Name: outA}},
				Flags:   dagfile.FlagWriteTextFileAction,
			},
			{
				Guid:    digest.Sum([]byte("node-b")),
				Action:  "hello-b",
				Outputs: []dagfile.FileRef{{Name: outB}},
				Flags:   dagfile.FlagWriteTextFileAction,
			},
		},
		Passes: []string{"write"},
		BuildTuples: []dagfile.BuildTuple{
			{
				Config:       -1,
				Variant:      -1,
				Subvariant:   -1,
				DefaultNodes: []int32{0, 1},
				NamedNodes: []dagfile.NamedNode{
					{Name: "a", NodeIndex: 0},
					{Name: "b", NodeIndex: 1},
				},
			},
		},
		DefaultTupleIndices: []int32{0},
	}
}

func TestLoadResolveDefaultTargets(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	nodes, err := d.ResolveTargets(nil)
	if err != nil {
		t.Fatalf("ResolveTargets(nil): %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("ResolveTargets(nil) = %v, want both default nodes", nodes)
	}
}

func TestLoadResolveNamedTarget(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	nodes, err := d.ResolveTargets([]string{"a"})
	if err != nil {
		t.Fatalf("ResolveTargets(a): %v", err)
	}
	if len(nodes) != 1 || nodes[0] != 0 {
		t.Fatalf("ResolveTargets(a) = %v, want [0]", nodes)
	}
}

func TestLoadResolveByFilename(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	nodes, err := d.ResolveTargets([]string{"b.txt"})
	if err != nil {
		t.Fatalf("ResolveTargets(b.txt): %v", err)
	}
	if len(nodes) != 1 || nodes[0] != 1 {
		t.Fatalf("ResolveTargets(b.txt) = %v, want [1]", nodes)
	}
}

func TestLoadMissingDagIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(Config{WorkingDir: dir, DagPath: filepath.Join(dir, "missing.dag"), Logger: testLogger()})
	if err == nil {
		t.Fatal("Load: want error for a missing DAG with no RegenerateDag hook")
	}
}

func TestRunWriteTextFileNodes(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Threads: 2, Logger: testLogger()})
	require.NoError(t, err)

	nodes, err := d.ResolveTargets(nil)
	require.NoError(t, err)

	summary, err := d.Run(nodes)
	require.NoError(t, err)
	require.Zero(t, summary.Failed, "summary = %+v, want no failures", summary)
	require.Equal(t, 2, summary.Succeeded)

	gotA, err := os.ReadFile(outA)
	require.NoError(t, err)
	require.Equal(t, "hello-a", string(gotA))

	gotB, err := os.ReadFile(outB)
	require.NoError(t, err)
	require.Equal(t, "hello-b", string(gotB))

	for _, name := range []string{DefaultStateName, DefaultScanName, DefaultDigestName} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoErrorf(t, err, "expected %s to be written", name)
	}
}

func TestRunIsIncrementalOnSecondLoad(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d1, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Load #1: %v", err)
	}
	nodes, err := d1.ResolveTargets(nil)
	if err != nil {
		t.Fatalf("ResolveTargets: %v", err)
	}
	if _, err := d1.Run(nodes); err != nil {
		t.Fatalf("Run #1: %v", err)
	}

	d2, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Load #2: %v", err)
	}
	nodes2, err := d2.ResolveTargets(nil)
	if err != nil {
		t.Fatalf("ResolveTargets #2: %v", err)
	}
	summary, err := d2.Run(nodes2)
	if err != nil {
		t.Fatalf("Run #2: %v", err)
	}
	if summary.UpToDate != 2 || summary.Succeeded != 0 {
		t.Fatalf("second Run summary = %+v, want both nodes reported UpToDate", summary)
	}
}

func TestCleanStaleOutputsRemovesDroppedNode(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	nodes, err := d.ResolveTargets(nil)
	if err != nil {
		t.Fatalf("ResolveTargets: %v", err)
	}
	if _, err := d.Run(nodes); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Reload against a DAG that dropped node b: its recorded output must
	// be cleaned up by the next Driver's CleanStaleOutputs.
	onlyA := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{
				Guid:    digest.Sum([]byte("node-a")),
				Action:  "hello-a",
				Outputs: []dagfile.FileRef{{Name: outA}},
				Flags:   dagfile.FlagWriteTextFileAction,
			},
		},
		Passes: []string{"write"},
		BuildTuples: []dagfile.BuildTuple{
			{Config: -1, Variant: -1, Subvariant: -1, DefaultNodes: []int32{0}},
		},
		DefaultTupleIndices: []int32{0},
	}
	writeDagFile(t, dir, "graph.dag", onlyA)

	d2, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Load #2: %v", err)
	}
	d2.Graph = onlyA // the loaded frozen graph came from disk; swap in-memory for the test

	if err := d2.CleanStaleOutputs(); err != nil {
		t.Fatalf("CleanStaleOutputs: %v", err)
	}
	if _, err := os.Stat(outB); !os.IsNotExist(err) {
		t.Fatalf("b.txt still exists after CleanStaleOutputs: %v", err)
	}
	if _, err := os.Stat(outA); err != nil {
		t.Fatalf("a.txt should be untouched: %v", err)
	}
}

func TestForceRebuildIgnoresPreviousState(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d1, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	require.NoError(t, err)
	nodes, err := d1.ResolveTargets(nil)
	require.NoError(t, err)
	_, err = d1.Run(nodes)
	require.NoError(t, err)

	d2, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	require.NoError(t, err)
	d2.ForceRebuild()
	nodes2, err := d2.ResolveTargets(nil)
	require.NoError(t, err)
	summary, err := d2.Run(nodes2)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded, "ForceRebuild should make every node rebuild instead of reporting UpToDate")
	require.Zero(t, summary.UpToDate)
}

func TestCleanAllRemovesEveryRecordedOutput(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.txt")
	outB := filepath.Join(dir, "b.txt")
	dagPath := writeDagFile(t, dir, "graph.dag", twoNodeGraph(outA, outB))

	d, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	require.NoError(t, err)
	nodes, err := d.ResolveTargets(nil)
	require.NoError(t, err)
	_, err = d.Run(nodes)
	require.NoError(t, err)

	d2, err := Load(Config{WorkingDir: dir, DagPath: dagPath, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, d2.CleanAll())

	_, err = os.Stat(outA)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(outB)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, d2.RemoveCacheFiles())
	for _, name := range []string{DefaultStateName, DefaultScanName, DefaultDigestName} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.True(t, os.IsNotExist(err))
	}
}
