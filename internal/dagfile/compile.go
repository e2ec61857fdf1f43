package dagfile

import (
	"sort"

	"github.com/tundrabuild/tundra/internal/binfmt"
)

// Compile assembles g into the segmented binary form described in
// spec.md §3/§4.5/§6. It is the job of the external DAG producer; the
// core engine only needs it to synthesize fixtures for loader tests and
// for the minimal reference producer in cmd/tundra-dagtool.
//
// The header segment is always created first (segment index 0), so it
// always begins at absolute offset 0 of the mapped body (right after the
// magic word); Load relies on that fixed entry point to start decoding,
// exactly the way spec.md's frozen formats are addressed purely by
// self-relative pointer chasing from one well-known root, with no
// separate segment directory stored on disk.
func Compile(g *Graph) (*binfmt.Writer, error) {
	w := binfmt.NewWriter(Magic)

	header := w.NewSegment()

	strs := w.NewSegment()
	internedStr := map[string]binfmt.Target{}
	internString := func(s string) binfmt.Target {
		if t, ok := internedStr[s]; ok {
			return t
		}
		t := strs.Target()
		strs.AppendString(s)
		internedStr[s] = t
		return t
	}

	fileRefs := w.NewSegment()
	writeFileRefs := func(refs []FileRef) binfmt.Target {
		t := fileRefs.Target()
		for _, r := range refs {
			fileRefs.AppendPointer(internString(r.Name))
			fileRefs.AppendU32(r.Hash)
		}
		return t
	}

	indices := w.NewSegment()
	writeIndices := func(idx []int32) binfmt.Target {
		t := indices.Target()
		for _, v := range idx {
			indices.AppendI32(v)
		}
		return t
	}

	envSeg := w.NewSegment()
	writeEnv := func(env []EnvVar) binfmt.Target {
		t := envSeg.Target()
		for _, e := range env {
			envSeg.AppendPointer(internString(e.Name))
			envSeg.AppendPointer(internString(e.Value))
		}
		return t
	}

	strArraySeg := w.NewSegment()
	writeStringArray := func(ss []string) binfmt.Target {
		t := strArraySeg.Target()
		for _, s := range ss {
			strArraySeg.AppendPointer(internString(s))
		}
		return t
	}

	keywordSeg := w.NewSegment()
	scannerSeg := w.NewSegment()
	writeScanner := func(s *Scanner) binfmt.Target {
		if s == nil {
			return binfmt.NullTarget()
		}
		t := scannerSeg.Target()
		scannerSeg.AppendI32(int32(s.Kind))
		scannerSeg.AppendArray(len(s.IncludePaths), writeStringArray(s.IncludePaths))
		kwTarget := keywordSeg.Target()
		for _, kw := range s.Keywords {
			keywordSeg.AppendPointer(internString(kw.Text))
			follow := int32(0)
			if kw.Follow {
				follow = 1
			}
			keywordSeg.AppendI32(follow)
		}
		scannerSeg.AppendArray(len(s.Keywords), kwTarget)
		scannerSeg.AppendU32(uint32(s.Flags))
		return t
	}

	nodes := w.NewSegment()
	guids := w.NewSegment()

	sortedGuidIdx := make([]int, len(g.Nodes))
	for i := range sortedGuidIdx {
		sortedGuidIdx[i] = i
	}
	sort.Slice(sortedGuidIdx, func(i, j int) bool {
		return g.Nodes[sortedGuidIdx[i]].Guid.Less(g.Nodes[sortedGuidIdx[j]].Guid)
	})

	nodeTargets := make([]binfmt.Target, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		nodeTargets[i] = nodes.Target()
		nodes.AppendBytes(n.Guid[:])
		nodes.AppendPointer(internString(n.Action))
		nodes.AppendPointer(internString(n.PreAction))
		nodes.AppendPointer(internString(n.Annotation))
		nodes.AppendI32(n.PassIndex)
		nodes.AppendArray(len(n.Deps), writeIndices(n.Deps))
		nodes.AppendArray(len(n.ReverseDeps), writeIndices(n.ReverseDeps))
		nodes.AppendArray(len(n.Inputs), writeFileRefs(n.Inputs))
		nodes.AppendArray(len(n.Outputs), writeFileRefs(n.Outputs))
		nodes.AppendArray(len(n.AuxOutputs), writeFileRefs(n.AuxOutputs))
		nodes.AppendArray(len(n.Env), writeEnv(n.Env))
		nodes.AppendPointer(writeScanner(n.Scanner))
		nodes.AppendU32(uint32(n.Flags))
		nodes.AppendArray(len(n.AllowedOutputs), writeStringArray(n.AllowedOutputs))
	}

	guidsTarget := guids.Target()
	for _, i := range sortedGuidIdx {
		guids.AppendBytes(g.Nodes[i].Guid[:])
		guids.AppendI32(int32(i))
	}

	passSeg := w.NewSegment()
	passesTarget := passSeg.Target()
	for _, p := range g.Passes {
		passSeg.AppendPointer(internString(p))
	}

	namedHashSeg := w.NewSegment()
	writeNamedHashes := func(nh []NamedHash) binfmt.Target {
		t := namedHashSeg.Target()
		for _, e := range nh {
			namedHashSeg.AppendPointer(internString(e.Name))
			namedHashSeg.AppendU32(e.Hash)
		}
		return t
	}
	configsTarget := writeNamedHashes(g.Configs)
	variantsTarget := writeNamedHashes(g.Variants)
	subvariantsTarget := writeNamedHashes(g.Subvariants)

	namedNodeSeg := w.NewSegment()
	tupleSeg := w.NewSegment()
	tuplesTarget := tupleSeg.Target()
	for _, t := range g.BuildTuples {
		tupleSeg.AppendI32(t.Config)
		tupleSeg.AppendI32(t.Variant)
		tupleSeg.AppendI32(t.Subvariant)
		tupleSeg.AppendArray(len(t.DefaultNodes), writeIndices(t.DefaultNodes))
		tupleSeg.AppendArray(len(t.AlwaysRunNodes), writeIndices(t.AlwaysRunNodes))
		nnTarget := namedNodeSeg.Target()
		for _, nn := range t.NamedNodes {
			namedNodeSeg.AppendPointer(internString(nn.Name))
			namedNodeSeg.AppendI32(nn.NodeIndex)
		}
		tupleSeg.AppendArray(len(t.NamedNodes), nnTarget)
	}

	producerFileSeg := w.NewSegment()
	producerFilesTarget := producerFileSeg.Target()
	for _, f := range g.ProducerInputFiles {
		producerFileSeg.AppendPointer(internString(f.Path))
		producerFileSeg.AppendU64(uint64(f.Mtime))
	}

	globSeg := w.NewSegment()
	globsTarget := globSeg.Target()
	for _, gs := range g.GlobSignatures {
		globSeg.AppendPointer(internString(gs.Path))
		globSeg.AppendBytes(gs.Digest[:])
	}

	extSeg := w.NewSegment()
	extsTarget := extSeg.Target()
	for _, ext := range g.ContentDigestExts {
		extSeg.AppendU32(ext)
	}

	header.AppendArray(len(g.Nodes), firstOrNull(nodeTargets))
	header.AppendArray(len(g.Nodes), guidsTarget)
	header.AppendArray(len(g.Passes), passesTarget)
	header.AppendArray(len(g.Configs), configsTarget)
	header.AppendArray(len(g.Variants), variantsTarget)
	header.AppendArray(len(g.Subvariants), subvariantsTarget)
	header.AppendArray(len(g.BuildTuples), tuplesTarget)
	header.AppendArray(len(g.DefaultTupleIndices), writeIndices(g.DefaultTupleIndices))
	header.AppendArray(len(g.ProducerInputFiles), producerFilesTarget)
	header.AppendArray(len(g.GlobSignatures), globsTarget)
	header.AppendArray(len(g.ContentDigestExts), extsTarget)
	header.AppendI32(g.MaxExpensiveCount)

	return w, nil
}

func firstOrNull(targets []binfmt.Target) binfmt.Target {
	if len(targets) == 0 {
		return binfmt.NullTarget()
	}
	return targets[0]
}
