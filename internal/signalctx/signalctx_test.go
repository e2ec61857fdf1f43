package signalctx

import (
	"context"
	"testing"
)

func TestLatchLatchesOnce(t *testing.T) {
	var l Latch
	if !l.ShouldKeepBuilding() {
		t.Fatal("fresh latch should allow building")
	}
	l.Cancel(Interrupted)
	if l.ShouldKeepBuilding() {
		t.Fatal("latch should stop build after Cancel")
	}
	if got := l.Reason(); got != Interrupted {
		t.Fatalf("Reason() = %v, want Interrupted", got)
	}
	l.Cancel(Cancelled)
	if got := l.Reason(); got != Interrupted {
		t.Fatalf("second Cancel must not overwrite latched reason, got %v", got)
	}
}

func TestWithLatchCancelsContext(t *testing.T) {
	var l Latch
	ctx, cancel := WithLatch(context.Background(), &l)
	defer cancel()
	l.Cancel(Interrupted)
	<-ctx.Done()
}
