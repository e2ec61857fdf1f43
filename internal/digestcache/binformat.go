package digestcache

import (
	"sort"

	"github.com/tundrabuild/tundra/internal/binfmt"
)

const recordStride = 44 // Mtime i64 + LastAccess i64 + PathHash u32(+4 pad) + Digest[16] + PathPtr

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

	recs := w.NewSegment()
	recordsTarget := recs.Target()
	for _, r := range records {
		recs.AppendU64(uint64(r.Mtime))
		recs.AppendU64(uint64(r.LastAccess))
		recs.AppendU32(r.PathHash)
		recs.AppendU32(0) // padding, puts Digest at offset 24 within each record
		recs.AppendBytes(r.Digest[:])
		recs.AppendPointer(internString(r.Path))
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
		var d [16]byte
		copy(d[:], body[entry+24:entry+40])
		records[i] = Record{
			Mtime:      int64(binfmt.ReadU64(body, entry)),
			LastAccess: int64(binfmt.ReadU64(body, entry+8)),
			PathHash:   binfmt.ReadU32(body, entry+16),
			Digest:     d,
			Path:       readStringPtr(body, entry+40),
		}
	}
	return records, nil
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
		if records[i].PathHash != records[j].PathHash {
			return records[i].PathHash < records[j].PathHash
		}
		return records[i].Path < records[j].Path
	})
}
