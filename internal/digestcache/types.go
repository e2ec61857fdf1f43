// Package digestcache implements the persistent content-digest
// memoization table of spec.md §4.9: per-(path,mtime) content digests
// with a 7-day last-access eviction policy, following the same
// write-through-live/merge-at-save shape as internal/scancache.
package digestcache

import "github.com/tundrabuild/tundra/internal/digest"

// Magic is the raw (pre-XOR) magic number for the digest cache file
// format (spec.md §6).
const Magic = 0x12781fa6

const maxAgeSeconds = 7 * 24 * 60 * 60

// Record is one persisted (path, mtime) -> digest memoization.
type Record struct {
	Path       string
	PathHash   uint32
	Mtime      int64
	LastAccess int64
	Digest     digest.Digest
}
