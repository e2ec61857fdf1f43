package statefile

import (
	"sort"

	"github.com/tundrabuild/tundra/internal/binfmt"
	"github.com/tundrabuild/tundra/internal/dagfile"
)

// recordStride is Guid[16] + Signature[16] + BuildResult i32(4) +
// Outputs FrozenArray(8) + AuxOutputs FrozenArray(8).
const recordStride = 16 + 16 + 4 + 8 + 8

func compile(records []Record) (*binfmt.Writer, error) {
	w := binfmt.NewWriter(Magic)

	header := w.NewSegment()
	strs := w.NewSegment()
	interned := map[string]binfmt.Target{}
	internString := func(s string) binfmt.Target {
		if t, ok := interned[s]; ok {
			return t
		}
		t := strs.Target()
		strs.AppendString(s)
		interned[s] = t
		return t
	}

	fileRefs := w.NewSegment()
	writeFileRefs := func(refs []dagfile.FileRef) binfmt.Target {
		t := fileRefs.Target()
		for _, r := range refs {
			fileRefs.AppendPointer(internString(r.Name))
			fileRefs.AppendU32(r.Hash)
		}
		return t
	}

	recs := w.NewSegment()
	recordsTarget := recs.Target()
	for _, r := range records {
		recs.AppendBytes(r.Guid[:])
		recs.AppendBytes(r.Signature[:])
		recs.AppendI32(r.BuildResult)
		recs.AppendArray(len(r.Outputs), writeFileRefs(r.Outputs))
		recs.AppendArray(len(r.AuxOutputs), writeFileRefs(r.AuxOutputs))
	}

	header.AppendArray(len(records), recordsTarget)
	return w, nil
}

func load(data []byte) ([]Record, error) {
	body, err := binfmt.CheckMagic(data, Magic)
	if err != nil {
		return nil, err
	}

	count, off, _ := binfmt.ReadArrayHeader(body, 0)
	records := make([]Record, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*recordStride
		records[i] = decodeRecord(body, entry)
	}
	return records, nil
}

func decodeRecord(body []byte, entry int64) Record {
	var r Record
	copy(r.Guid[:], body[entry:entry+16])
	copy(r.Signature[:], body[entry+16:entry+32])
	r.BuildResult = binfmt.ReadI32(body, entry+32)

	outCount, outOff, outOK := binfmt.ReadArrayHeader(body, entry+36)
	if outOK {
		r.Outputs = decodeFileRefs(body, outOff, outCount)
	}
	auxCount, auxOff, auxOK := binfmt.ReadArrayHeader(body, entry+44)
	if auxOK {
		r.AuxOutputs = decodeFileRefs(body, auxOff, auxCount)
	}
	return r
}

func decodeFileRefs(body []byte, off int64, count int32) []dagfile.FileRef {
	refs := make([]dagfile.FileRef, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*8
		refs[i] = dagfile.FileRef{
			Name: readStringPtr(body, entry),
			Hash: binfmt.ReadU32(body, entry+4),
		}
	}
	return refs
}

func readStringPtr(data []byte, off int64) string {
	p := binfmt.ReadPtr32(data, off)
	target, ok := p.Resolve(off)
	if !ok {
		return ""
	}
	return binfmt.ReadString(data, target)
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Guid.Less(records[j].Guid)
	})
}
