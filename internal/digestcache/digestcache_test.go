package digestcache

import (
	"testing"

	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/pathhash"
)

func TestGetSetHitAndMtimeMiss(t *testing.T) {
	c := New()
	path := "src/a.c"
	hash := pathhash.Hash32(path, false)
	d := digest.Sum([]byte("content"))

	if _, ok := c.Get(path, hash, 100); ok {
		t.Fatal("expected miss before Set")
	}
	c.Set(path, hash, 100, d)

	got, ok := c.Get(path, hash, 100)
	if !ok || got != d {
		t.Fatalf("Get = %v, %v, want %v true", got, ok, d)
	}
	if _, ok := c.Get(path, hash, 101); ok {
		t.Fatal("expected miss on changed mtime")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New()
	path := "src/b.c"
	hash := pathhash.Hash32(path, false)
	d := digest.Sum([]byte("b content"))
	c.Set(path, hash, 5, d)

	if err := c.Save(dir, "test.digestcache"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(dir + "/test.digestcache")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, ok := reopened.Get(path, hash, 5)
	if !ok || got != d {
		t.Fatalf("reopened Get = %v, %v, want %v true", got, ok, d)
	}
}
