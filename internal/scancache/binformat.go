package scancache

import (
	"sort"

	"github.com/tundrabuild/tundra/internal/binfmt"
	"github.com/tundrabuild/tundra/internal/dagfile"
)

const recordStride = 40 // Key[16] + Mtime i64 + LastAccess i64 + IncludesArray{count,ptr}

// compile assembles records (already sorted ascending by Key) into a
// binfmt.Writer, mirroring internal/dagfile.Compile's segment-ordering
// discipline: the header segment is created first so it is always at
// absolute offset 0 of the mapped body.
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
	for _, rec := range records {
		recs.AppendBytes(rec.Key[:])
		recs.AppendU64(uint64(rec.Mtime))
		recs.AppendU64(uint64(rec.LastAccess))
		recs.AppendArray(len(rec.Includes), writeFileRefs(rec.Includes))
	}

	header.AppendArray(len(records), recordsTarget)

	return w, nil
}

// load decodes a mapped scan cache file body back into a sorted []Record.
func load(data []byte) ([]Record, error) {
	body, err := binfmt.CheckMagic(data, Magic)
	if err != nil {
		return nil, err
	}

	count, off, _ := binfmt.ReadArrayHeader(body, 0)
	records := make([]Record, count)
	for i := int32(0); i < count; i++ {
		entry := off + int64(i)*recordStride
		var k Key
		copy(k[:], body[entry:entry+16])

		incCount, incOff, _ := binfmt.ReadArrayHeader(body, entry+32)
		var includes []dagfile.FileRef
		if incCount > 0 {
			includes = make([]dagfile.FileRef, incCount)
			for j := int32(0); j < incCount; j++ {
				fr := incOff + int64(j)*8
				p := binfmt.ReadPtr32(body, fr)
				target, ok := p.Resolve(fr)
				name := ""
				if ok {
					name = binfmt.ReadString(body, target)
				}
				includes[j] = dagfile.FileRef{Name: name, Hash: binfmt.ReadU32(body, fr+4)}
			}
		}

		records[i] = Record{
			Key:        k,
			Mtime:      int64(binfmt.ReadU64(body, entry+16)),
			LastAccess: int64(binfmt.ReadU64(body, entry+24)),
			Includes:   includes,
		}
	}
	return records, nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Key.Less(records[j].Key) })
}
