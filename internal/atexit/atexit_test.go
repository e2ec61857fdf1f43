package atexit

import "testing"

func TestRunOrderAndIdempotent(t *testing.T) {
	defer Run() // drain anything a prior test left registered

	var order []int
	Register(func() { order = append(order, 1) })
	Register(func() { order = append(order, 2) })
	Register(func() { order = append(order, 3) })

	Run()
	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("Run() invoked %d callbacks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	order = nil
	Run() // second call must be a no-op
	if len(order) != 0 {
		t.Fatalf("second Run() invoked callbacks: %v", order)
	}
}
