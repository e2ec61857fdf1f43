package dagfile

import (
	"github.com/tundrabuild/tundra/internal/binfmt"
	"github.com/tundrabuild/tundra/internal/digest"
)

// Load decodes a memory-mapped .tundra2.dag file (data is the file's full
// contents, magic word included) into a Graph. It walks the same fixed
// record layouts Compile writes, starting from the header segment that
// Compile guarantees sits at the very start of the mapped body.
func Load(data []byte) (*Graph, error) {
	body, err := binfmt.CheckMagic(data, Magic)
	if err != nil {
		return nil, err
	}

	g := &Graph{}

	nodeCount, nodesOff, _ := binfmt.ReadArrayHeader(body, 0)
	_, guidsOff, hasGuids := binfmt.ReadArrayHeader(body, 8)
	passCount, passesOff, _ := binfmt.ReadArrayHeader(body, 16)
	configCount, configsOff, _ := binfmt.ReadArrayHeader(body, 24)
	variantCount, variantsOff, _ := binfmt.ReadArrayHeader(body, 32)
	subvariantCount, subvariantsOff, _ := binfmt.ReadArrayHeader(body, 40)
	tupleCount, tuplesOff, _ := binfmt.ReadArrayHeader(body, 48)
	defaultTupleCount, defaultTupleOff, hasDefaultTuple := binfmt.ReadArrayHeader(body, 56)
	producerCount, producerOff, _ := binfmt.ReadArrayHeader(body, 64)
	globCount, globOff, _ := binfmt.ReadArrayHeader(body, 72)
	extCount, extOff, _ := binfmt.ReadArrayHeader(body, 80)
	g.MaxExpensiveCount = binfmt.ReadI32(body, 88)

	g.Nodes = make([]Node, nodeCount)
	for i := int32(0); i < nodeCount; i++ {
		g.Nodes[i] = decodeNode(body, nodesOff+int64(i)*96)
	}

	if hasGuids {
		for i := int32(0); i < nodeCount; i++ {
			off := guidsOff + int64(i)*20
			var d digest.Digest
			copy(d[:], body[off:off+16])
			idx := binfmt.ReadI32(body, off+16)
			if int(idx) >= 0 && int(idx) < len(g.Nodes) {
				g.Nodes[idx].Guid = d
			}
		}
	}

	g.Passes = decodeStringArray(body, passesOff, passCount)
	g.Configs = decodeNamedHashes(body, configsOff, configCount)
	g.Variants = decodeNamedHashes(body, variantsOff, variantCount)
	g.Subvariants = decodeNamedHashes(body, subvariantsOff, subvariantCount)

	g.BuildTuples = make([]BuildTuple, tupleCount)
	for i := int32(0); i < tupleCount; i++ {
		g.BuildTuples[i] = decodeBuildTuple(body, tuplesOff+int64(i)*36)
	}

	if hasDefaultTuple {
		g.DefaultTupleIndices = decodeIndices(body, defaultTupleOff, defaultTupleCount)
	}

	g.ProducerInputFiles = make([]ProducerInputFile, producerCount)
	for i := int32(0); i < producerCount; i++ {
		off := producerOff + int64(i)*12
		g.ProducerInputFiles[i] = ProducerInputFile{
			Path:  readStringPtr(body, off),
			Mtime: int64(binfmt.ReadU64(body, off+4)),
		}
	}

	g.GlobSignatures = make([]GlobSignature, globCount)
	for i := int32(0); i < globCount; i++ {
		off := globOff + int64(i)*20
		var d digest.Digest
		copy(d[:], body[off+4:off+20])
		g.GlobSignatures[i] = GlobSignature{
			Path:   readStringPtr(body, off),
			Digest: d,
		}
	}

	if extCount > 0 {
		g.ContentDigestExts = make([]uint32, extCount)
		for i := int32(0); i < extCount; i++ {
			g.ContentDigestExts[i] = binfmt.ReadU32(body, extOff+int64(i)*4)
		}
	}

	return g, nil
}

func readStringPtr(data []byte, off int64) string {
	p := binfmt.ReadPtr32(data, off)
	target, ok := p.Resolve(off)
	if !ok {
		return ""
	}
	return binfmt.ReadString(data, target)
}

func decodeIndices(data []byte, off int64, count int32) []int32 {
	if count == 0 {
		return nil
	}
	out := make([]int32, count)
	for i := int32(0); i < count; i++ {
		out[i] = binfmt.ReadI32(data, off+int64(i)*4)
	}
	return out
}

func decodeStringArray(data []byte, off int64, count int32) []string {
	if count == 0 {
		return nil
	}
	out := make([]string, count)
	for i := int32(0); i < count; i++ {
		out[i] = readStringPtr(data, off+int64(i)*4)
	}
	return out
}

func decodeFileRefs(data []byte, off int64, count int32) []FileRef {
	if count == 0 {
		return nil
	}
	out := make([]FileRef, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*8
		out[i] = FileRef{
			Name: readStringPtr(data, entry),
			Hash: binfmt.ReadU32(data, entry+4),
		}
	}
	return out
}

func decodeEnv(data []byte, off int64, count int32) []EnvVar {
	if count == 0 {
		return nil
	}
	out := make([]EnvVar, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*8
		out[i] = EnvVar{
			Name:  readStringPtr(data, entry),
			Value: readStringPtr(data, entry+4),
		}
	}
	return out
}

func decodeNamedHashes(data []byte, off int64, count int32) []NamedHash {
	if count == 0 {
		return nil
	}
	out := make([]NamedHash, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*8
		out[i] = NamedHash{
			Name: readStringPtr(data, entry),
			Hash: binfmt.ReadU32(data, entry+4),
		}
	}
	return out
}

func decodeNamedNodes(data []byte, off int64, count int32) []NamedNode {
	if count == 0 {
		return nil
	}
	out := make([]NamedNode, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*8
		out[i] = NamedNode{
			Name:      readStringPtr(data, entry),
			NodeIndex: binfmt.ReadI32(data, entry+4),
		}
	}
	return out
}

func decodeKeywords(data []byte, off int64, count int32) []Keyword {
	if count == 0 {
		return nil
	}
	out := make([]Keyword, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*8
		out[i] = Keyword{
			Text:   readStringPtr(data, entry),
			Follow: binfmt.ReadI32(data, entry+4) != 0,
		}
	}
	return out
}

func decodeScanner(data []byte, off int64, ok bool) *Scanner {
	if !ok {
		return nil
	}
	kind := ScannerKind(binfmt.ReadI32(data, off))
	incCount, incOff, _ := binfmt.ReadArrayHeader(data, off+4)
	kwCount, kwOff, _ := binfmt.ReadArrayHeader(data, off+12)
	flags := binfmt.ReadU32(data, off+20)
	return &Scanner{
		Kind:         kind,
		IncludePaths: decodeStringArray(data, incOff, incCount),
		Keywords:     decodeKeywords(data, kwOff, kwCount),
		Flags:        GenericScannerFlag(flags),
	}
}

func decodeNode(data []byte, off int64) Node {
	var guid digest.Digest
	copy(guid[:], data[off:off+16])

	depsCount, depsOff, _ := binfmt.ReadArrayHeader(data, off+32)
	revCount, revOff, _ := binfmt.ReadArrayHeader(data, off+40)
	inCount, inOff, _ := binfmt.ReadArrayHeader(data, off+48)
	outCount, outOff, _ := binfmt.ReadArrayHeader(data, off+56)
	auxCount, auxOff, _ := binfmt.ReadArrayHeader(data, off+64)
	envCount, envOff, _ := binfmt.ReadArrayHeader(data, off+72)
	scannerPtr := binfmt.ReadPtr32(data, off+80)
	scannerOff, hasScanner := scannerPtr.Resolve(off + 80)
	allowedCount, allowedOff, _ := binfmt.ReadArrayHeader(data, off+88)

	return Node{
		Guid:           guid,
		Action:         readStringPtr(data, off+16),
		PreAction:      readStringPtr(data, off+20),
		Annotation:     readStringPtr(data, off+24),
		PassIndex:      binfmt.ReadI32(data, off+28),
		Deps:           decodeIndices(data, depsOff, depsCount),
		ReverseDeps:    decodeIndices(data, revOff, revCount),
		Inputs:         decodeFileRefs(data, inOff, inCount),
		Outputs:        decodeFileRefs(data, outOff, outCount),
		AuxOutputs:     decodeFileRefs(data, auxOff, auxCount),
		Env:            decodeEnv(data, envOff, envCount),
		Scanner:        decodeScanner(data, scannerOff, hasScanner),
		Flags:          NodeFlag(binfmt.ReadU32(data, off+84)),
		AllowedOutputs: decodeStringArray(data, allowedOff, allowedCount),
	}
}

func decodeBuildTuple(data []byte, off int64) BuildTuple {
	defCount, defOff, _ := binfmt.ReadArrayHeader(data, off+12)
	alwaysCount, alwaysOff, _ := binfmt.ReadArrayHeader(data, off+20)
	namedCount, namedOff, _ := binfmt.ReadArrayHeader(data, off+28)
	return BuildTuple{
		Config:         binfmt.ReadI32(data, off),
		Variant:        binfmt.ReadI32(data, off+4),
		Subvariant:     binfmt.ReadI32(data, off+8),
		DefaultNodes:   decodeIndices(data, defOff, defCount),
		AlwaysRunNodes: decodeIndices(data, alwaysOff, alwaysCount),
		NamedNodes:     decodeNamedNodes(data, namedOff, namedCount),
	}
}
