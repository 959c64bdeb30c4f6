//go:build linux

package eventloop

import (
	"testing"
	"time"
)

func newTestRunLoop(t *testing.T) *RunLoop {
	t.Helper()
	r, err := NewRunLoop(t.Name())
	if err != nil {
		t.Fatalf("NewRunLoop: %v", err)
	}
	t.Cleanup(func() {
		r.Stop()
		r.Close()
	})
	return r
}

func TestRunLoopName(t *testing.T) {
	r := newTestRunLoop(t)
	if r.Name() != t.Name() {
		t.Fatalf("Name() = %q, want %q", r.Name(), t.Name())
	}
}

func TestRunLoopPostRunsOnLoop(t *testing.T) {
	r := newTestRunLoop(t)
	go r.Run()

	done := make(chan struct{})
	r.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for posted callback")
	}
}

func TestRunLoopStopUnblocksRun(t *testing.T) {
	r := newTestRunLoop(t)

	runReturned := make(chan struct{})
	go func() {
		r.Run()
		close(runReturned)
	}()

	time.Sleep(50 * time.Millisecond)
	if !r.IsRunning() {
		t.Fatalf("IsRunning = false while Run is active")
	}

	r.Stop()

	select {
	case <-runReturned:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to return after Stop")
	}
	if r.IsRunning() {
		t.Fatalf("IsRunning = true after Run returned")
	}
}

func TestRunLoopPostFromWithinPostedCallback(t *testing.T) {
	r := newTestRunLoop(t)
	go r.Run()

	done := make(chan struct{})
	r.Post(func() {
		r.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for nested posted callback")
	}
}
