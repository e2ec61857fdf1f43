package pathbuf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInitNormalizes(t *testing.T) {
	for _, test := range []struct {
		desc string
		in   string
		want Buf
	}{
		{
			desc: "simple relative",
			in:   "a/b/c",
			want: Buf{Segments: []string{"a", "b", "c"}},
		},
		{
			desc: "dot segments collapse",
			in:   "a/./b/./c",
			want: Buf{Segments: []string{"a", "b", "c"}},
		},
		{
			desc: "dotdot cancels preceding",
			in:   "a/b/../c",
			want: Buf{Segments: []string{"a", "c"}},
		},
		{
			desc: "leading dotdot retained on relative path",
			in:   "../../a",
			want: Buf{LeadingDots: 2, Segments: []string{"a"}},
		},
		{
			desc: "absolute",
			in:   "/a/b",
			want: Buf{Absolute: true, Segments: []string{"a", "b"}},
		},
		{
			desc: "absolute dotdot clamps at root",
			in:   "/../a",
			want: Buf{Absolute: true, Segments: []string{"a"}},
		},
		{
			desc: "windows drive",
			in:   `C:\a\b`,
			want: Buf{Absolute: true, WindowsDrive: true, Segments: []string{"C:", "a", "b"}},
		},
		{
			desc: "redundant separators",
			in:   "a//b///c",
			want: Buf{Segments: []string{"a", "b", "c"}},
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			got, err := Init(test.in)
			if err != nil {
				t.Fatalf("Init(%q) = err %v", test.in, err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("Init(%q) mismatch (-want +got):\n%s", test.in, diff)
			}
		})
	}
}

// TestFormatInitIdempotent is property 1 from spec.md §8:
// format(init(p)) is idempotent.
func TestFormatInitIdempotent(t *testing.T) {
	for _, in := range []string{
		"a/b/c", "../a/b", "/a/../b", "a/./b/../../c", "C:\\a\\b\\..\\c",
	} {
		b1, err := Init(in)
		if err != nil {
			t.Fatalf("Init(%q): %v", in, err)
		}
		f1 := Format(b1, '/')

		b2, err := Init(f1)
		if err != nil {
			t.Fatalf("Init(%q): %v", f1, err)
		}
		f2 := Format(b2, '/')

		if f1 != f2 {
			t.Errorf("format(init(%q)) = %q, format(init(%q)) = %q, want equal", in, f1, f1, f2)
		}
	}
}

// TestConcatInvariants is property 2 from spec.md §8.
func TestConcatInvariants(t *testing.T) {
	for _, test := range []struct {
		desc string
		a, b string
	}{
		{desc: "simple join", a: "/home/user", b: "project/src"},
		{desc: "join with dotdot", a: "/home/user/project", b: "../other/file.c"},
		{desc: "join absolute b", a: "/home/user", b: "/etc/passwd"},
		{desc: "dotdot past root clamps", a: "/a", b: "../../../../etc"},
	} {
		t.Run(test.desc, func(t *testing.T) {
			a, err := Init(test.a)
			if err != nil {
				t.Fatalf("Init(a): %v", err)
			}
			b, err := Init(test.b)
			if err != nil {
				t.Fatalf("Init(b): %v", err)
			}
			result, err := Concat(a, b)
			if err != nil {
				t.Fatalf("Concat: %v", err)
			}
			if !result.Absolute {
				t.Errorf("Concat(%q, %q) not absolute", test.a, test.b)
			}
			if len(result.Segments) > len(a.Segments)+len(b.Segments) {
				t.Errorf("Concat(%q, %q) has %d segments, want <= %d",
					test.a, test.b, len(result.Segments), len(a.Segments)+len(b.Segments))
			}
			for _, seg := range result.Segments {
				if seg == "." || seg == ".." {
					t.Errorf("Concat(%q, %q) left a %q segment in result", test.a, test.b, seg)
				}
			}
		})
	}
}

func TestEqual(t *testing.T) {
	a, _ := Init("a/b/../c")
	b, _ := Init("a/c")
	if !Equal(a, b) {
		t.Errorf("Equal(%v, %v) = false, want true", a, b)
	}
	c, _ := Init("a/d")
	if Equal(a, c) {
		t.Errorf("Equal(%v, %v) = true, want false", a, c)
	}
}

func TestPathTooLong(t *testing.T) {
	long := ""
	for i := 0; i < MaxSegments+1; i++ {
		long += "a/"
	}
	if _, err := Init(long); err != ErrPathTooLong {
		t.Errorf("Init(too many segments) = %v, want ErrPathTooLong", err)
	}
}
