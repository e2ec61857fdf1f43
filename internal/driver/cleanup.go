package driver

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/statefile"
)

// CleanStaleOutputs implements spec.md §4.14 step 3: delete every path
// recorded as an output (or aux-output) of the *previous* build's state
// that is not an output of any node in the *current* DAG, then attempt
// to rmdir every ancestor directory of a deleted file, longest path
// first so a newly-empty nested directory is removed before its parent
// is attempted (the ordering the original Driver.cpp's stale-output
// cleanup uses, per SPEC_FULL.md's supplemented-features note).
func (d *Driver) CleanStaleOutputs() error {
	current := make(map[string]bool)
	for _, n := range d.Graph.Nodes {
		for _, f := range n.Outputs {
			current[f.Name] = true
		}
		for _, f := range n.AuxOutputs {
			current[f.Name] = true
		}
	}

	dirSet := make(map[string]bool)
	for _, rec := range d.prevState.All() {
		for _, f := range recordOutputs(rec) {
			if current[f.Name] {
				continue
			}
			if d.cfg.DryRun {
				d.log.Printf("would remove stale output: %s", f.Name)
				continue
			}
			if err := os.Remove(f.Name); err != nil && !os.IsNotExist(err) {
				d.log.Printf("removing stale output %s: %v", f.Name, err)
			}
			d.statCache.MarkDirty(f.Name)
			for dir := filepath.Dir(f.Name); dir != "." && dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
				dirSet[dir] = true
			}
		}
	}

	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})
	for _, dir := range dirs {
		if d.cfg.DryRun {
			continue
		}
		os.Remove(dir) // best-effort; fails silently if non-empty or absent
		d.statCache.MarkDirty(dir)
	}
	return nil
}

func recordOutputs(rec statefile.Record) []dagfile.FileRef {
	out := make([]dagfile.FileRef, 0, len(rec.Outputs)+len(rec.AuxOutputs))
	out = append(out, rec.Outputs...)
	out = append(out, rec.AuxOutputs...)
	return out
}
