package scancache

import (
	"os"
	"sync"
	"time"

	"github.com/tundrabuild/tundra/internal/binfmt"
	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/mmap"
	"github.com/tundrabuild/tundra/internal/stats"
)

type liveEntry struct {
	mtime    int64
	includes []dagfile.FileRef
}

// Cache is the live scan cache: a write-through layer over the previous
// run's frozen records. Reads consult the live map first, falling back
// to the frozen view; writes only ever touch the live map, so node
// failures (which never call Insert) cannot corrupt a previously
// recorded scan.
type Cache struct {
	mu     sync.RWMutex
	live   map[Key]*liveEntry
	frozen map[Key]Record
	now    int64 // per-run "now" snapshot, spec.md §4.9/§4.8 save semantics
}

// New creates an empty scan cache.
func New() *Cache {
	return &Cache{
		live:   make(map[Key]*liveEntry),
		frozen: make(map[Key]Record),
		now:    time.Now().Unix(),
	}
}

// Open loads path as the cache's frozen base, tolerating a missing or
// magic-mismatched file per spec.md §7 CacheOrDagMissing.
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
		c.frozen[r.Key] = r
	}
	return c, nil
}

// Lookup returns the cached include list for key iff a live or frozen
// record exists whose recorded mtime equals currentMtime.
func (c *Cache) Lookup(key Key, currentMtime int64) ([]dagfile.FileRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.live[key]; ok {
		if e.mtime == currentMtime {
			stats.Default.ScanCacheHits.Inc()
			return e.includes, true
		}
		stats.Default.ScanCacheMisses.Inc()
		return nil, false
	}
	if r, ok := c.frozen[key]; ok && r.Mtime == currentMtime {
		stats.Default.ScanCacheHits.Inc()
		return r.Includes, true
	}
	stats.Default.ScanCacheMisses.Inc()
	return nil, false
}

// Insert records a fresh scan result, deep-copying the include slice so
// callers may reuse their own backing array.
func (c *Cache) Insert(key Key, mtime int64, includes []dagfile.FileRef) {
	cp := make([]dagfile.FileRef, len(includes))
	copy(cp, includes)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[key] = &liveEntry{mtime: mtime, includes: cp}
}

// Save performs the merged traversal described in spec.md §4.8: every
// live record is written with LastAccess set to the cache's per-run
// "now"; every frozen record not superseded by a live one is carried
// forward unless its stored LastAccess is more than seven days old. A
// Lookup hit on a frozen record does not refresh its LastAccess, so such
// a record is dropped seven days after it was last written by Insert,
// however often Lookup has hit it since.
func (c *Cache) Save(dir, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]Record, 0, len(c.live)+len(c.frozen))
	for k, e := range c.live {
		records = append(records, Record{Key: k, Mtime: e.mtime, LastAccess: c.now, Includes: e.includes})
	}
	for k, r := range c.frozen {
		if _, live := c.live[k]; live {
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
