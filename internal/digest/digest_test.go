package digest

import (
	"testing"
)

func TestFinalizeDeterministic(t *testing.T) {
	for _, test := range []struct {
		desc string
		in   []byte
	}{
		{desc: "empty", in: nil},
		{desc: "short", in: []byte("hello")},
		{desc: "exactly one block", in: make([]byte, blockSize)},
		{desc: "spans blocks", in: make([]byte, blockSize*3+17)},
	} {
		t.Run(test.desc, func(t *testing.T) {
			var s State
			s.Init()
			s.Update(test.in)
			got := s.Finalize()

			var s2 State
			s2.Init()
			s2.Update(test.in)
			got2 := s2.Finalize()

			if got != got2 {
				t.Fatalf("Finalize() not deterministic: %v != %v", got, got2)
			}
		})
	}
}

func TestUpdateChunking(t *testing.T) {
	// Folding bytes in one call or many smaller calls must produce the
	// same digest.
	data := []byte("the quick brown fox jumps over the lazy dog, repeated: " +
		"the quick brown fox jumps over the lazy dog")

	var whole State
	whole.Init()
	whole.Update(data)
	want := whole.Finalize()

	for _, n := range []int{1, 3, 7, 13} {
		var chunked State
		chunked.Init()
		for i := 0; i < len(data); i += n {
			end := i + n
			if end > len(data) {
				end = len(data)
			}
			chunked.Update(data[i:end])
		}
		got := chunked.Finalize()

		if got != want {
			t.Errorf("chunked Update() with %d-byte chunks = %v, want %v", n, got, want)
		}
	}
}

func TestAddSeparatorDistinguishesFields(t *testing.T) {
	var a, b State
	a.Init()
	a.Update([]byte("foo"))
	a.Update([]byte("bar"))
	da := a.Finalize()

	b.Init()
	b.Update([]byte("foo"))
	b.AddSeparator()
	b.Update([]byte("bar"))
	db := b.Finalize()

	if da == db {
		t.Errorf("AddSeparator() did not change the digest")
	}
}

func TestAddPathCaseFold(t *testing.T) {
	var a, b State
	a.Init()
	a.AddPath("Foo/Bar.C", true)
	da := a.Finalize()

	b.Init()
	b.AddPath("foo/bar.c", true)
	db := b.Finalize()

	if da != db {
		t.Errorf("AddPath() with foldCase=true: %v != %v, want equal", da, db)
	}

	var c State
	c.Init()
	c.AddPath("Foo/Bar.C", false)
	dc := c.Finalize()
	if dc == da {
		t.Errorf("AddPath() with foldCase=false should differ from folded case")
	}
}

func TestOrdering(t *testing.T) {
	lo := Digest{0x00, 0x00}
	hi := Digest{0x00, 0x01}
	if !lo.Less(hi) {
		t.Errorf("Less() = false, want true for %v < %v", lo, hi)
	}
	if hi.Less(lo) {
		t.Errorf("Less() = true, want false for %v < %v", hi, lo)
	}
	if lo.Compare(lo) != 0 {
		t.Errorf("Compare() with itself = %d, want 0", lo.Compare(lo))
	}
}

func TestStringFormat(t *testing.T) {
	d := Sum([]byte("tundra"))
	s := d.String()
	if len(s) != 32 {
		t.Fatalf("String() length = %d, want 32", len(s))
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("String() = %q, contains non-lowercase-hex char %q", s, c)
		}
	}
}
