package scanner

import (
	"testing"

	"github.com/tundrabuild/tundra/internal/dagfile"
)

func TestScanCpp(t *testing.T) {
	src := []byte(`// comment
#include "local.h"
  #  include   <system.h>
int main() {}
`)
	got := Scan(src, &dagfile.Scanner{Kind: dagfile.ScannerCpp})
	want := []Include{
		{Path: "local.h", System: false},
		{Path: "system.h", System: true},
	}
	if len(got) != len(want) {
		t.Fatalf("Scan() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Scan()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestScanGenericUseSeparators(t *testing.T) {
	cfg := &dagfile.Scanner{
		Kind:     dagfile.ScannerGeneric,
		Keywords: []dagfile.Keyword{{Text: "include", Follow: true}},
		Flags:    dagfile.FlagUseSeparators | dagfile.FlagRequireWhitespace,
	}
	src := []byte("  include \"foo.inc\"\ninclude <bar.inc>\n")
	got := Scan(src, cfg)
	if len(got) != 1 {
		t.Fatalf("RequireWhitespace should drop the unindented line, got %v", got)
	}
	if got[0].Path != "foo.inc" || got[0].System {
		t.Fatalf("got %+v, want foo.inc non-system", got[0])
	}
}

func TestScanGenericBareMeansSystem(t *testing.T) {
	cfg := &dagfile.Scanner{
		Kind:     dagfile.ScannerGeneric,
		Keywords: []dagfile.Keyword{{Text: "import", Follow: true}},
		Flags:    dagfile.FlagBareMeansSystem,
	}
	got := Scan([]byte("import somepkg\n"), cfg)
	if len(got) != 1 || !got[0].System || got[0].Path != "somepkg" {
		t.Fatalf("got %+v, want system include somepkg", got)
	}
}
