// Package scancache implements the persistent include-scan memoization
// table of spec.md §4.8: live in-memory results keyed by a path-hash
// XORed with the owning scanner's GUID, merged at save time with the
// previous run's frozen records and written back through
// internal/binfmt, the same pattern internal/dagfile uses for its own
// frozen format.
package scancache

import (
	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
)

// Magic is the raw (pre-XOR) magic number for the scan cache file
// format (spec.md §6).
const Magic = 0x1517000e

// maxAgeSeconds is how old, in seconds, a record's LastAccess may be
// before Save drops it.
const maxAgeSeconds = 7 * 24 * 60 * 60

// Key identifies one (source file, scanner) pair: the scanner's GUID
// digest with its first 8 bytes XORed against the source file's 64-bit
// path hash, so two different scanners over the same file never
// collide and callers need only hash the path once.
type Key = digest.Digest

// MakeKey folds pathHash64 into scannerGUID's first 8 bytes.
func MakeKey(scannerGUID digest.Digest, pathHash64 uint64) Key {
	var k Key
	copy(k[:], scannerGUID[:])
	for i := 0; i < 8; i++ {
		k[i] ^= byte(pathHash64 >> (8 * (7 - i)))
	}
	return k
}

// Record is one persisted scan result.
type Record struct {
	Key        Key
	Mtime      int64
	LastAccess int64
	Includes   []dagfile.FileRef
}
