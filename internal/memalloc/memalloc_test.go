package memalloc

import "testing"

func TestLinearAllocAlignment(t *testing.T) {
	l := NewLinear("test", 1024)
	b1, err := l.Alloc(3, 1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := l.Alloc(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(b1) != 3 || len(b2) != 8 {
		t.Fatalf("got lengths %d, %d", len(b1), len(b2))
	}
	if l.Used()%8 != 0 {
		t.Errorf("Used() = %d, not 8-aligned after an 8-byte-aligned alloc", l.Used())
	}
}

func TestLinearScope(t *testing.T) {
	l := NewLinear("test", 64)
	if _, err := l.Alloc(16, 1); err != nil {
		t.Fatal(err)
	}
	before := l.Used()
	func() {
		defer Scope(l)()
		if _, err := l.Alloc(16, 1); err != nil {
			t.Fatal(err)
		}
		if l.Used() == before {
			t.Fatal("Alloc within scope did not advance offset")
		}
	}()
	if l.Used() != before {
		t.Errorf("Used() after scope exit = %d, want %d", l.Used(), before)
	}
}

func TestLinearOutOfMemory(t *testing.T) {
	l := NewLinear("tiny", 8)
	if _, err := l.Alloc(16, 1); err == nil {
		t.Fatal("Alloc(16) on an 8-byte region succeeded, want ErrOutOfMemory")
	}
}

func TestLinearReset(t *testing.T) {
	l := NewLinear("test", 32)
	if _, err := l.Alloc(16, 1); err != nil {
		t.Fatal(err)
	}
	l.Reset()
	if l.Used() != 0 {
		t.Errorf("Used() after Reset() = %d, want 0", l.Used())
	}
}
