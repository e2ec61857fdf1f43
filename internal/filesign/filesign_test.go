package filesign

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tundrabuild/tundra/internal/dagfile"
	"github.com/tundrabuild/tundra/internal/digest"
	"github.com/tundrabuild/tundra/internal/digestcache"
	"github.com/tundrabuild/tundra/internal/scancache"
	"github.com/tundrabuild/tundra/internal/statcache"
)

func newSigner() *Signer {
	return &Signer{
		Stat:        statcache.New(false),
		Scan:        scancache.New(),
		Digests:     digestcache.New(),
		ContentExts: map[uint32]bool{},
	}
}

func TestSignStableAcrossRepeatedCalls(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "a.c")
	if err := os.WriteFile(input, []byte("int main(){}"), 0644); err != nil {
		t.Fatal(err)
	}

	node := &dagfile.Node{
		Action:  "cc -c a.c",
		Inputs:  []dagfile.FileRef{{Name: input}},
		Outputs: []dagfile.FileRef{{Name: filepath.Join(dir, "a.o")}},
	}

	s := newSigner()
	first := s.Sign(node)
	second := s.Sign(node)
	if first != second {
		t.Fatalf("signature changed across repeated calls with unchanged input: %v vs %v", first, second)
	}
}

func TestSignChangesWithMtime(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "a.c")
	os.WriteFile(input, []byte("v1"), 0644)

	node := &dagfile.Node{Action: "cc", Inputs: []dagfile.FileRef{{Name: input}}}
	s := newSigner()
	before := s.Sign(node)

	// Force a new mtime.
	future := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(input, future, future); err != nil {
		t.Fatal(err)
	}
	s.Stat.MarkDirty(input)

	after := s.Sign(node)
	if before == after {
		t.Fatalf("expected signature to change after mtime changed")
	}
}

func TestSignMissingInputUsesSentinel(t *testing.T) {
	s := newSigner()
	node := &dagfile.Node{Action: "cc", Inputs: []dagfile.FileRef{{Name: "/does/not/exist.c"}}}
	sig := s.Sign(node)

	// The same fold Sign performs, with the missing-file sentinel in
	// place of the input's mtime.
	var h digest.State
	h.Init()
	h.Update([]byte("cc"))
	h.AddSeparator()
	h.AddPath("/does/not/exist.c", false)
	h.AddInteger(missingFileMtime)
	h.AddInteger(0)
	if want := h.Finalize(); sig != want {
		t.Fatalf("Sign(missing input) = %v, want %v (input folded with the missing-file sentinel)", sig, want)
	}
}
