// Package pathhash computes the 32-bit path hashes (Hash32) used as
// hash-table keys and file-entry hashes, and the 64-bit path hash (Hash64)
// used as the scan-cache XOR folding key (spec.md §4.8). It is built on
// github.com/cespare/xxhash/v2 rather than the bespoke 128-bit content
// digest in internal/digest: path hashes are a throwaway, high-throughput
// key derivation, not a content fingerprint with finalization-framing
// requirements, so a well-vetted off-the-shelf non-cryptographic hash is
// the better fit, the way the teacher's corpus (kraklabs-cie,
// standardbeagle-lci) reaches for xxhash for exactly this kind of
// interior key hash.
package pathhash

import "github.com/cespare/xxhash/v2"

// Hash32 returns the 32-bit hash of path used as a DagData file-entry hash
// and as a hash-table key. ASCII case is folded when fold is true, to
// match the host's file system case sensitivity.
func Hash32(path string, fold bool) uint32 {
	if !fold {
		return uint32(xxhash.Sum64String(path))
	}
	buf := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf[i] = c
	}
	return uint32(xxhash.Sum64(buf))
}

// Hash64 returns the full 64-bit hash, used as the scan cache's per-file
// half of the XOR-merged key (spec.md §4.8).
func Hash64(path string, fold bool) uint64 {
	if !fold {
		return xxhash.Sum64String(path)
	}
	buf := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf[i] = c
	}
	return xxhash.Sum64(buf)
}
