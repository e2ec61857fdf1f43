// Command tundra-dagtool is a minimal reference DAG generator: the kind
// of external tool spec.md §1 places outside the core engine's scope,
// kept here only so the frozen DAG format has a producer to exercise
// internal/dag's cycle check and internal/dagfile's compiler against
// real input instead of only hand-built test fixtures. Real build
// systems built on this engine are expected to ship their own, almost
// certainly generated from a project-specific build description rather
// than the flat JSON rule list this tool reads.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/tundrabuild/tundra/internal/dag"
	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/pathhash"
	"github.com/tundrabuild/tundra/pb"
)

var (
	rulesPath    = flag.String("rules", "", "path to a JSON node-rule list")
	manifestPath = flag.String("manifest", "", "path to a build-tuple manifest (optional)")
	outPath      = flag.String("o", ".tundra2.dag", "path to write the compiled DAG file to")
)

// nodeRule is one JSON-described action: a command line, its declared
// inputs/outputs, and the names of the rules it depends on. Names exist
// only in this tool's input format; the compiled graph references
// dependencies purely by index, per spec.md §3.
type nodeRule struct {
	Name       string   `json:"name"`
	Action     string   `json:"action"`
	Annotation string   `json:"annotation"`
	Pass       string   `json:"pass"`
	Inputs     []string `json:"inputs"`
	Outputs    []string `json:"outputs"`
	Deps       []string `json:"deps"`
	Expensive  bool     `json:"expensive"`
}

func loadRules(path string) ([]nodeRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []nodeRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, xerrors.Errorf("tundra-dagtool: parsing %s: %w", path, err)
	}
	return rules, nil
}

func fileRefs(names []string) []dagfile.FileRef {
	out := make([]dagfile.FileRef, len(names))
	for i, n := range names {
		out[i] = dagfile.FileRef{Name: n, Hash: pathhash.Hash32(n, false)}
	}
	return out
}

func buildGraph(rules []nodeRule, m *pb.Manifest) (*dagfile.Graph, error) {
	byName := make(map[string]int, len(rules))
	for i, r := range rules {
		if _, dup := byName[r.Name]; dup {
			return nil, xerrors.Errorf("tundra-dagtool: duplicate node name %q", r.Name)
		}
		byName[r.Name] = i
	}

	passIndex := map[string]int32{}
	var passes []string
	passOf := func(name string) int32 {
		if name == "" {
			name = "default"
		}
		if idx, ok := passIndex[name]; ok {
			return idx
		}
		idx := int32(len(passes))
		passes = append(passes, name)
		passIndex[name] = idx
		return idx
	}

	g := &dagfile.Graph{Nodes: make([]dagfile.Node, len(rules))}
	for i, r := range rules {
		deps := make([]int32, 0, len(r.Deps))
		for _, depName := range r.Deps {
			depIdx, ok := byName[depName]
			if !ok {
				return nil, xerrors.Errorf("tundra-dagtool: node %q depends on unknown node %q", r.Name, depName)
			}
			deps = append(deps, int32(depIdx))
		}
		var flags dagfile.NodeFlag
		if r.Expensive {
			flags |= dagfile.FlagExpensive
		}
		g.Nodes[i] = dagfile.Node{
			Guid:       digest.Sum([]byte(r.Name)),
			Action:     r.Action,
			Annotation: r.Annotation,
			PassIndex:  passOf(r.Pass),
			Deps:       deps,
			Inputs:     fileRefs(r.Inputs),
			Outputs:    fileRefs(r.Outputs),
			Flags:      flags,
		}
	}
	g.Passes = passes

	if m != nil {
		applyManifest(g, m, byName)
	} else {
		var all []int32
		for i := range rules {
			all = append(all, int32(i))
		}
		g.BuildTuples = []dagfile.BuildTuple{{Config: -1, Variant: -1, Subvariant: -1, DefaultNodes: all}}
		g.DefaultTupleIndices = []int32{0}
	}

	nodeIndices := make([]int, len(rules))
	for i := range rules {
		nodeIndices[i] = i
	}
	if err := dag.CheckAcyclic(g, nodeIndices); err != nil {
		return nil, err
	}
	return g, nil
}

func applyManifest(g *dagfile.Graph, m *pb.Manifest, byName map[string]int) {
	nameIndex := func(table *[]dagfile.NamedHash, name string) int32 {
		for i, nh := range *table {
			if nh.Name == name {
				return int32(i)
			}
		}
		*table = append(*table, dagfile.NamedHash{Name: name, Hash: pathhash.Hash32(name, false)})
		return int32(len(*table) - 1)
	}

	for _, c := range m.Configs {
		nameIndex(&g.Configs, c.Name)
	}
	for _, v := range m.Variants {
		nameIndex(&g.Variants, v.Name)
	}
	for _, s := range m.Subvariants {
		nameIndex(&g.Subvariants, s.Name)
	}

	for _, t := range m.Tuples {
		tuple := dagfile.BuildTuple{Config: -1, Variant: -1, Subvariant: -1}
		if t.Config != "" {
			tuple.Config = nameIndex(&g.Configs, t.Config)
		}
		if t.Variant != "" {
			tuple.Variant = nameIndex(&g.Variants, t.Variant)
		}
		if t.Subvariant != "" {
			tuple.Subvariant = nameIndex(&g.Subvariants, t.Subvariant)
		}
		for _, d := range t.DefaultNodes {
			if idx, ok := byName[d]; ok {
				tuple.DefaultNodes = append(tuple.DefaultNodes, int32(idx))
			}
		}
		for _, a := range t.AlwaysRunNodes {
			if idx, ok := byName[a]; ok {
				tuple.AlwaysRunNodes = append(tuple.AlwaysRunNodes, int32(idx))
			}
		}
		for _, target := range t.Targets {
			if idx, ok := byName[target.Node]; ok {
				tuple.NamedNodes = append(tuple.NamedNodes, dagfile.NamedNode{Name: target.Name, NodeIndex: int32(idx)})
			}
		}
		g.BuildTuples = append(g.BuildTuples, tuple)
		if t.Default {
			g.DefaultTupleIndices = append(g.DefaultTupleIndices, int32(len(g.BuildTuples)-1))
		}
	}
}

func funcmain() error {
	flag.Parse()
	if *rulesPath == "" {
		return xerrors.New("tundra-dagtool: -rules is required")
	}

	rules, err := loadRules(*rulesPath)
	if err != nil {
		return err
	}

	var manifest *pb.Manifest
	if *manifestPath != "" {
		manifest, err = pb.Load(*manifestPath)
		if err != nil {
			return err
		}
	}

	g, err := buildGraph(rules, manifest)
	if err != nil {
		return err
	}

	w, err := dagfile.Compile(g)
	if err != nil {
		return xerrors.Errorf("tundra-dagtool: compiling graph: %w", err)
	}
	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		return xerrors.Errorf("tundra-dagtool: flushing graph: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0755); err != nil && !os.IsExist(err) {
		return err
	}
	if err := os.WriteFile(*outPath, buf.Bytes(), 0644); err != nil {
		return err
	}
	fmt.Printf("tundra-dagtool: wrote %d nodes across %d pass(es) to %s\n", len(g.Nodes), len(g.Passes), *outPath)
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
