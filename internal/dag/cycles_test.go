package dag

import (
	"testing"

	"github.com/tundrabuild/tundra/internal/dagfile"
)

func chainGraph() *dagfile.Graph {
	// 0 <- 1 <- 2 (2 depends on 1, 1 depends on 0)
	return &dagfile.Graph{
		Nodes: []dagfile.Node{
			{},
			{Deps: []int32{0}},
			{Deps: []int32{1}},
		},
	}
}

func TestCheckAcyclicPasses(t *testing.T) {
	g := chainGraph()
	if err := CheckAcyclic(g, []int{0, 1, 2}); err != nil {
		t.Fatalf("CheckAcyclic: %v", err)
	}
}

func TestCheckAcyclicRejectsCycle(t *testing.T) {
	g := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{Deps: []int32{1}},
			{Deps: []int32{0}},
		},
	}
	err := CheckAcyclic(g, []int{0, 1})
	if err == nil {
		t.Fatal("CheckAcyclic: want error for a 2-node cycle, got nil")
	}
	cycleErr, ok := err.(*ErrCycle)
	if !ok {
		t.Fatalf("CheckAcyclic: error type = %T, want *ErrCycle", err)
	}
	if len(cycleErr.Cycles) == 0 {
		t.Fatal("ErrCycle.Cycles is empty")
	}
}

func TestCheckAcyclicIgnoresEdgesOutsideSet(t *testing.T) {
	g := chainGraph()
	// Restricting to {1, 2} drops node 0: the Deps edge from 1 to 0 is
	// outside the set and must not be treated as part of the subgraph.
	if err := CheckAcyclic(g, []int{1, 2}); err != nil {
		t.Fatalf("CheckAcyclic: %v", err)
	}
}

func TestClosure(t *testing.T) {
	g := chainGraph()
	got := Closure(g, []int{2})
	want := map[int]bool{0: true, 1: true, 2: true}
	if len(got) != len(want) {
		t.Fatalf("Closure(2) = %v, want 3 elements covering %v", got, want)
	}
	for _, idx := range got {
		if !want[idx] {
			t.Fatalf("Closure(2) contains unexpected index %d", idx)
		}
	}
}

func TestClosureDiamond(t *testing.T) {
	// 3 depends on 1 and 2; both depend on 0.
	g := &dagfile.Graph{
		Nodes: []dagfile.Node{
			{},
			{Deps: []int32{0}},
			{Deps: []int32{0}},
			{Deps: []int32{1, 2}},
		},
	}
	got := Closure(g, []int{3})
	seen := make(map[int]int)
	for _, idx := range got {
		seen[idx]++
	}
	if len(seen) != 4 {
		t.Fatalf("Closure(3) = %v, want all 4 nodes", got)
	}
	for idx, count := range seen {
		if count != 1 {
			t.Fatalf("Closure(3) visits node %d %d times, want once", idx, count)
		}
	}
}

func TestClosureMultipleRoots(t *testing.T) {
	g := chainGraph()
	got := Closure(g, []int{1, 2})
	if len(got) != 3 {
		t.Fatalf("Closure({1,2}) = %v, want 3 elements (no duplicate for shared node 0/1)", got)
	}
}
