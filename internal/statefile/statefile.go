package statefile

import (
	"os"

	"golang.org/x/exp/slices"

	"github.com/tundrabuild/tundra/internal/binfmt"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/mmap"
)

// State is the loaded previous-build state: a Guid-sorted Record slice,
// the exact shape spec.md §3 specifies ("Records are sorted by
// NodeGuid... binary search is legal"). Unlike the live scan/digest
// caches, there is no separate write-through map: the Driver only ever
// reads a State (to seed one build's PrevRecords) and writes a brand new
// one assembled from that run's results, so no in-place mutation support
// is needed.
type State struct {
	records []Record
}

// Open loads path as a State, tolerating a missing or magic-mismatched
// file (spec.md §7 CacheOrDagMissing) by returning an empty State.
func Open(path string) (*State, error) {
	f, err := mmap.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, err
	}
	defer f.Close()

	records, err := load(f.Data())
	if err != nil {
		if err == binfmt.ErrMagicMismatch {
			return &State{}, nil
		}
		return nil, err
	}
	return &State{records: records}, nil
}

// Lookup binary-searches the sorted Record array for guid, the access
// pattern spec.md §3's invariant explicitly licenses.
func (s *State) Lookup(guid digest.Digest) (Record, bool) {
	i, ok := slices.BinarySearchFunc(s.records, guid, func(r Record, g digest.Digest) int {
		return r.Guid.Compare(g)
	})
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// All returns every record in Guid-sorted order.
func (s *State) All() []Record {
	return s.records
}

// Save writes records (in any order) as the new state file, sorting them
// by Guid first.
func Save(dir, name string, records []Record) error {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sortRecords(sorted)

	w, err := compile(sorted)
	if err != nil {
		return err
	}
	return binfmt.FlushFile(w, dir, name)
}
