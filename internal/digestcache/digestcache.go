package digestcache

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tundrabuild/tundra/internal/binfmt"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/mmap"
	"github.com/tundrabuild/tundra/internal/stats"
)

type liveEntry struct {
	digest     digest.Digest
	pathHash   uint32
	mtime      int64
	lastAccess int64 // updated racily under the read lock, see Get
}

// Cache memoizes content digests keyed by path, gated by recorded mtime.
type Cache struct {
	mu     sync.RWMutex
	live   map[string]*liveEntry
	frozen map[string]Record
	now    int64
}

// New creates an empty digest cache with its per-run "now" snapshot
// taken immediately (spec.md §4.9: last-access writes use a single
// per-run timestamp, not wall-clock-at-touch).
func New() *Cache {
	return &Cache{
		live:   make(map[string]*liveEntry),
		frozen: make(map[string]Record),
		now:    time.Now().Unix(),
	}
}

// Open loads path as the cache's frozen base, tolerating a missing or
// magic-mismatched file.
func Open(path string) (*Cache, error) {
	c := New()
	f, err := mmap.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	defer f.Close()

	records, err := load(f.Data())
	if err != nil {
		if err == binfmt.ErrMagicMismatch {
			return c, nil
		}
		return nil, err
	}
	for _, r := range records {
		c.frozen[r.Path] = r
	}
	return c, nil
}

// Get returns path's cached digest iff the recorded mtime equals
// currentMtime. On a live hit it bumps last-access to the cache's "now"
// snapshot; this write races benignly with concurrent readers under the
// shared read lock because the field is only consumed at Save time and
// any "reasonably recent" value is acceptable (spec.md §4.9). A hit on a
// frozen record leaves its LastAccess as loaded.
func (c *Cache) Get(path string, pathHash uint32, currentMtime int64) (digest.Digest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.live[path]; ok {
		if e.mtime == currentMtime {
			atomic.StoreInt64(&e.lastAccess, c.now)
			stats.Default.DigestCacheHits.Inc()
			return e.digest, true
		}
		stats.Default.DigestCacheMisses.Inc()
		return digest.Digest{}, false
	}
	if r, ok := c.frozen[path]; ok && r.Mtime == currentMtime {
		stats.Default.DigestCacheHits.Inc()
		return r.Digest, true
	}
	stats.Default.DigestCacheMisses.Inc()
	return digest.Digest{}, false
}

// Set inserts or updates path's digest under the write lock.
func (c *Cache) Set(path string, pathHash uint32, mtime int64, d digest.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[path] = &liveEntry{digest: d, pathHash: pathHash, mtime: mtime, lastAccess: c.now}
	delete(c.frozen, path)
}

// Save merges live and frozen records, dropping any whose LastAccess is
// more than seven days before this run's "now", and writes the result via
// internal/binfmt. A frozen record read only through Get keeps the
// LastAccess it was loaded with, so it is dropped seven days after it was
// last written by Set, however often Get has hit it since.
func (c *Cache) Save(dir, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]Record, 0, len(c.live)+len(c.frozen))
	for path, e := range c.live {
		if c.now-atomic.LoadInt64(&e.lastAccess) > maxAgeSeconds {
			continue
		}
		records = append(records, Record{Path: path, PathHash: e.pathHash, Mtime: e.mtime, LastAccess: atomic.LoadInt64(&e.lastAccess), Digest: e.digest})
	}
	for path, r := range c.frozen {
		if _, live := c.live[path]; live {
			continue
		}
		if c.now-r.LastAccess > maxAgeSeconds {
			continue
		}
		records = append(records, r)
	}
	sortRecords(records)

	w, err := compile(records)
	if err != nil {
		return err
	}
	return binfmt.FlushFile(w, dir, name)
}
