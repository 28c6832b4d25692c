package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

// startLoop runs a loop in the background for the duration of the test.
func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(cancel)
	return l
}

// TestLoopRunsPostedWorkInOrder verifies FIFO execution on one goroutine.
func TestLoopRunsPostedWorkInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if err := l.Post(func() { got = append(got, i) }); err != nil {
			t.Fatalf("post: %v", err)
		}
	}
	if err := l.Call(func() {}); err != nil {
		t.Fatalf("call: %v", err)
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
}

// TestLoopAfterFires checks delayed callbacks run on the loop.
func TestLoopAfterFires(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.After(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

// TestLoopAfterCancel checks a cancelled timer never runs.
func TestLoopAfterCancel(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{}, 1)
	h := l.After(20*time.Millisecond, func() { fired <- struct{}{} })
	if !h.Cancel() {
		t.Fatal("expected pending timer to cancel")
	}
	if h.Cancel() {
		t.Fatal("second cancel should report false")
	}

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(80 * time.Millisecond):
	}
}

// TestLoopPostAfterClose verifies closed loops reject work.
func TestLoopPostAfterClose(t *testing.T) {
	l := New()
	l.Close()
	l.Close()

	if err := l.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("post error = %v, want %v", err, ErrClosed)
	}
	if err := l.Call(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("call error = %v, want %v", err, ErrClosed)
	}
}
