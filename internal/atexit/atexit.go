// Package atexit collects cleanup callbacks that must run before the
// process exits regardless of how the run ended: unmapping frozen
// files, flushing a trace sink, removing a lock file. It generalizes
// the registration-list half of the teacher's internal/oninterrupt
// package (distr1/distri), separated from signal handling itself (now
// internal/signalctx's job) so ordinary successful exits run the same
// cleanups as interrupted ones.
package atexit

import "sync"

var (
	mu       sync.Mutex
	handlers []func()
)

// Register appends fn to the list of callbacks Run invokes, in
// last-registered-first-run order (mirroring defer).
func Register(fn func()) {
	mu.Lock()
	defer mu.Unlock()
	handlers = append(handlers, fn)
}

// Run invokes every registered callback, most-recently-registered
// first, and clears the list. Safe to call more than once; a second
// call is a no-op.
func Run() {
	mu.Lock()
	pending := handlers
	handlers = nil
	mu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		pending[i]()
	}
}
