package driver

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
)

// skipPatterns are the directory-listing filters spec.md §6 requires:
// "." and ".." are handled by os.ReadDir never returning them; the rest
// are matched with doublestar, the same way the DAG producer's directory
// listing component is specified to filter entries.
var skipPatterns = []string{"*.swp", ".tundra2.*"}

func shouldSkipEntry(name string) bool {
	if len(name) > 0 && name[len(name)-1] == '~' {
		return true
	}
	for _, pat := range skipPatterns {
		if ok, _ := doublestar.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// digestDirListing returns the digest of dir's sorted, filtered entry
// names, the "glob-signature" spec.md §3 defines.
func digestDirListing(dir string) (digest.Digest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return digest.Digest{}, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if shouldSkipEntry(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var h digest.State
	h.Init()
	for _, n := range names {
		h.Update([]byte(n))
		h.AddSeparator()
	}
	return h.Finalize(), nil
}

// producerInputsValid reports whether the DAG's recorded producer-input
// mtimes and glob-directory-listing digests still match the file
// system, spec.md §4.14 step 1's "if absent or file signatures ...
// invalid, re-run the external DAG generator" condition.
func producerInputsValid(g *dagfile.Graph, workingDir string) bool {
	for _, pf := range g.ProducerInputFiles {
		path := pf.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(workingDir, path)
		}
		fi, err := os.Stat(path)
		if err != nil || fi.ModTime().UnixNano() != pf.Mtime {
			return false
		}
	}
	for _, gs := range g.GlobSignatures {
		path := gs.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(workingDir, path)
		}
		got, err := digestDirListing(path)
		if err != nil || got != gs.Digest {
			return false
		}
	}
	return true
}
