//go:build tundra_debug

package memalloc

import (
	"fmt"
	"runtime"
)

// goroutineChecker asserts that a Linear allocator is only ever touched
// by the goroutine that last reset it. It is a no-op outside debug
// builds (see owner_release.go) since capturing goroutine IDs requires
// parsing runtime.Stack, which is too costly for production hot paths.
type goroutineChecker struct {
	id uint64
	ok bool
}

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	return id
}

func (g *goroutineChecker) assign() {
	g.id = currentGoroutineID()
	g.ok = true
}

func (g *goroutineChecker) check() {
	if !g.ok {
		return
	}
	if got := currentGoroutineID(); got != g.id {
		panic(fmt.Sprintf("memalloc: linear allocator accessed from goroutine %d, owned by %d", got, g.id))
	}
}
