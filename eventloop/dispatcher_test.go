//go:build linux

package eventloop

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		d.Close()
	})
	return d
}

func TestDispatcherPostRunsOnLoop(t *testing.T) {
	d := newTestDispatcher(t)
	go d.Run()

	done := make(chan struct{})
	d.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for posted callback")
	}
}

func TestDispatcherAddFdFiresOnReadable(t *testing.T) {
	d := newTestDispatcher(t)

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(pipeFds[0])
		unix.Close(pipeFds[1])
	})

	fired := make(chan uint32, 1)
	if err := d.AddFd(pipeFds[0], func(fd int, events uint32) { fired <- events }); err != nil {
		t.Fatalf("AddFd: %v", err)
	}
	t.Cleanup(func() { d.RemoveFd(pipeFds[0]) })

	go d.Run()

	if _, err := unix.Write(pipeFds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-fired:
		if ev&unix.EPOLLIN == 0 {
			t.Fatalf("events = %#x, want EPOLLIN set", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fd callback")
	}
}

func TestDispatcherRemoveFdStopsDelivery(t *testing.T) {
	d := newTestDispatcher(t)

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(pipeFds[0])
		unix.Close(pipeFds[1])
	})

	var mu sync.Mutex
	calls := 0
	if err := d.AddFd(pipeFds[0], func(fd int, events uint32) {
		mu.Lock()
		calls++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("AddFd: %v", err)
	}

	go d.Run()

	if err := d.RemoveFd(pipeFds[0]); err != nil {
		t.Fatalf("RemoveFd: %v", err)
	}
	if err := d.RemoveFd(pipeFds[0]); err == nil {
		t.Fatalf("second RemoveFd = nil error, want error")
	}

	unix.Write(pipeFds[1], []byte("y"))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 0 {
		t.Fatalf("calls = %d, want 0 after RemoveFd", got)
	}
}

func TestDispatcherStopUnblocksRun(t *testing.T) {
	d := newTestDispatcher(t)

	runReturned := make(chan struct{})
	go func() {
		d.Run()
		close(runReturned)
	}()

	time.Sleep(50 * time.Millisecond)
	if !d.IsRunning() {
		t.Fatalf("IsRunning = false while Run is active")
	}

	d.Stop()

	select {
	case <-runReturned:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to return after Stop")
	}
	if d.IsRunning() {
		t.Fatalf("IsRunning = true after Run returned")
	}
}
