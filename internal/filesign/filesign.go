// Package filesign computes the per-node input signature of spec.md
// §4.10: a digest over a node's action, its declared inputs, and their
// scanner-expanded implicit includes, with each file contributing
// either its mtime or its content digest depending on extension.
package filesign

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/digestcache"
	"github.com/tundrabuild/tundra/internal/pathhash"
	"github.com/tundrabuild/tundra/internal/scancache"
	"github.com/tundrabuild/tundra/internal/scanner"
	"github.com/tundrabuild/tundra/internal/statcache"
)

// missingFileMtime is the sentinel folded in for a file that does not
// exist on disk, spec.md §4.10 "add_integer(h, ~0)".
const missingFileMtime = ^uint64(0)

// Signer owns the caches an input signature computation consults.
type Signer struct {
	Stat        *statcache.Cache
	Scan        *scancache.Cache
	Digests     *digestcache.Cache
	ContentExts map[uint32]bool // extension-hash set selecting content-digest signing
	FoldCase    bool
}

// Sign computes node's input signature, per the pseudocode of spec.md
// §4.10.
func (s *Signer) Sign(node *dagfile.Node) digest.Digest {
	var h digest.State
	h.Init()
	h.Update([]byte(node.Action))
	h.AddSeparator()
	if node.PreAction != "" {
		h.Update([]byte(node.PreAction))
		h.AddSeparator()
	}

	for _, f := range node.Inputs {
		h.AddPath(f.Name, s.FoldCase)
		s.signFile(&h, f.Name)

		if node.Scanner != nil {
			for _, inc := range s.scannedIncludes(f.Name, node.Scanner) {
				h.AddPath(inc, s.FoldCase)
				s.signFile(&h, inc)
			}
		}
	}

	for _, allowed := range node.AllowedOutputs {
		h.Update([]byte(allowed))
	}
	allowUnexpected := uint64(0)
	if node.Flags.Has(dagfile.FlagAllowUnexpectedOutput) {
		allowUnexpected = 1
	}
	h.AddInteger(allowUnexpected)

	return h.Finalize()
}

// signFile folds one file's contribution into h: its content digest if
// its extension is in the content-digest set, otherwise its mtime.
func (s *Signer) signFile(h *digest.State, path string) {
	ext := extensionHash(path)
	if s.ContentExts[ext] {
		s.signContentDigest(h, path)
		return
	}

	info := s.Stat.Stat(path)
	if !info.Exists {
		h.AddInteger(missingFileMtime)
		return
	}
	h.AddInteger(uint64(info.Mtime))
}

func (s *Signer) signContentDigest(h *digest.State, path string) {
	hash := pathhash.Hash32(path, s.FoldCase)
	info := s.Stat.Stat(path)
	if !info.Exists {
		h.AddInteger(missingFileMtime)
		return
	}

	if d, ok := s.Digests.Get(path, hash, info.Mtime); ok {
		h.Update(d[:])
		return
	}

	d, err := digestFile(path)
	if err != nil {
		h.AddInteger(missingFileMtime)
		return
	}
	s.Digests.Set(path, hash, info.Mtime, d)
	h.Update(d[:])
}

// scannedIncludes returns path's scanner-expanded implicit includes,
// consulting (and populating) the scan cache keyed by path hash XORed
// with the scanner's identity digest.
func (s *Signer) scannedIncludes(path string, cfg *dagfile.Scanner) []string {
	info := s.Stat.Stat(path)
	if !info.Exists {
		return nil
	}

	guid := scannerGUID(cfg)
	key := scancache.MakeKey(guid, pathhash.Hash64(path, s.FoldCase))

	if refs, ok := s.Scan.Lookup(key, info.Mtime); ok {
		out := make([]string, len(refs))
		for i, r := range refs {
			out[i] = r.Name
		}
		return out
	}

	includes := scanner.ReadAndScan(path, cfg)
	resolved := scanner.Resolve(filepath.Dir(path), includes, cfg, s.Stat)

	refs := make([]dagfile.FileRef, len(resolved))
	for i, r := range resolved {
		refs[i] = dagfile.FileRef{Name: r, Hash: pathhash.Hash32(r, s.FoldCase)}
	}
	s.Scan.Insert(key, info.Mtime, refs)

	return resolved
}

// scannerGUID derives a scanner's identity digest from its kind, include
// paths, keyword table and flags; it is folded into the scan cache key
// (spec.md §4.8).
func scannerGUID(cfg *dagfile.Scanner) digest.Digest {
	var h digest.State
	h.Init()
	h.AddInteger(uint64(cfg.Kind))
	for _, p := range cfg.IncludePaths {
		h.Update([]byte(p))
		h.AddSeparator()
	}
	for _, kw := range cfg.Keywords {
		h.Update([]byte(kw.Text))
		follow := uint64(0)
		if kw.Follow {
			follow = 1
		}
		h.AddInteger(follow)
	}
	h.AddInteger(uint64(cfg.Flags))
	return h.Finalize()
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return digest.Digest{}, err
	}
	defer f.Close()

	var h digest.State
	h.Init()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Update(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return digest.Digest{}, err
		}
	}
	return h.Finalize(), nil
}

func extensionHash(path string) uint32 {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return pathhash.Hash32(ext, false)
}
