// Package statcache implements the engine's stat memoization layer
// (spec.md §4.6): a sharded, thread-safe map from path to file info that
// re-stats only entries explicitly marked dirty. It is grounded in the
// same sharded-lock shape the teacher uses for its package database
// (internal/pkgdb-style maps guarded by a fixed lock per bucket), here
// parameterized by internal/pathhash's 32-bit path hash rather than a
// package name.
package statcache

import (
	"os"
	"sync"

	"github.com/tundrabuild/tundra/internal/pathhash"
)

// shardCount is the small, fixed number of read/write locks the cache's
// buckets are sharded across.
const shardCount = 64

// Info is the cached result of stat'ing one path.
type Info struct {
	Exists bool
	IsDir  bool
	IsFile bool
	Size   int64
	Mtime  int64 // unix nanoseconds
	dirty  bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Info
}

// Cache is a thread-safe stat memoization table. The zero value is not
// usable; construct with New.
type Cache struct {
	shards [shardCount]*shard
	foldCase bool
}

// New creates an empty stat cache. foldCase selects ASCII case-folded
// keys for case-insensitive filesystems (spec.md §4.4, §9).
func New(foldCase bool) *Cache {
	c := &Cache{foldCase: foldCase}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*Info)}
	}
	return c
}

func (c *Cache) shardFor(path string) *shard {
	h := pathhash.Hash32(path, c.foldCase)
	return c.shards[h%shardCount]
}

func statInfo(path string) Info {
	fi, err := os.Lstat(path)
	if err != nil {
		return Info{Exists: false}
	}
	return Info{
		Exists: true,
		IsDir:  fi.IsDir(),
		IsFile: fi.Mode().IsRegular(),
		Size:   fi.Size(),
		Mtime:  fi.ModTime().UnixNano(),
	}
}

// Stat returns path's cached info, consulting the filesystem only if the
// path has never been seen or was explicitly marked dirty. Two
// goroutines racing to populate the same missing key converge on the
// same final Info: the loser of the write-lock race simply overwrites
// its own stat result with an equivalent one (stat results for an
// unchanging path are idempotent), so no reconciliation logic is
// needed.
func (c *Cache) Stat(path string) Info {
	s := c.shardFor(path)

	s.mu.RLock()
	entry, ok := s.entries[path]
	if ok && !entry.dirty {
		info := *entry
		s.mu.RUnlock()
		return info
	}
	s.mu.RUnlock()

	fresh := statInfo(path)

	s.mu.Lock()
	s.entries[path] = &fresh
	s.mu.Unlock()

	return fresh
}

// MarkDirty flips path's dirty bit, forcing the next Stat to re-stat the
// filesystem. Used by the scheduler after creating output directories or
// removing stale output files, so subsequent lookups of those paths by
// other nodes observe the change.
func (c *Cache) MarkDirty(path string) {
	s := c.shardFor(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[path]; ok {
		entry.dirty = true
		return
	}
	// Not yet known: record a dirty placeholder so the next Stat always
	// hits the filesystem rather than caching a stale miss.
	s.entries[path] = &Info{dirty: true}
}

// Len returns the total number of entries across all shards, for tests
// and diagnostics.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
