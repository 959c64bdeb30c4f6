/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package eventloop provides a single-threaded, epoll-based run loop
// that multiplexes callbacks across file descriptors plus a
// cross-goroutine post queue. It carries no transport knowledge of its
// own: internal/rpc's default Service and Client run one goroutine per
// connection instead, and do not depend on this package. Dispatcher
// exists for callers who want to fold many shared-memory connections'
// signal-byte fds onto one polling thread rather than one goroutine per
// connection — a cooperative alternative, not a replacement.
package eventloop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Callback is invoked on the dispatch goroutine when fd becomes
// readable, hangs up, or errors; events carries the raw epoll event mask.
type Callback func(fd int, events uint32)

// maxEvents bounds how many ready events Run drains from epoll_wait in
// a single iteration before returning to service the post queue.
const maxEvents = 32

type fdEntry struct {
	fd       int
	callback Callback
}

// Dispatcher is a single dispatch-thread event loop. The zero value is
// not usable; construct one with New.
type Dispatcher struct {
	epollFd  int
	wakeupFd [2]int

	running atomic.Bool

	fdMu    sync.Mutex
	entries map[int]fdEntry

	postMu sync.Mutex
	posted []func()
}

// New creates a Dispatcher with its own epoll instance and wakeup pipe.
// Run must be called (typically on its own goroutine) to begin
// dispatching.
func New() (*Dispatcher, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epollFd)
		return nil, fmt.Errorf("eventloop: pipe2: %w", err)
	}

	d := &Dispatcher{
		epollFd:  epollFd,
		wakeupFd: pipeFds,
		entries:  make(map[int]fdEntry),
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: wakeupTagFd}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, pipeFds[0], &ev); err != nil {
		unix.Close(pipeFds[0])
		unix.Close(pipeFds[1])
		unix.Close(epollFd)
		return nil, fmt.Errorf("eventloop: epoll_ctl(wakeup): %w", err)
	}
	return d, nil
}

// wakeupTagFd is an epoll event Fd value reserved to identify the wakeup
// pipe's read end, distinguishing it from a caller-registered fd without
// needing the union data.ptr field unix.EpollEvent doesn't expose. -1 is
// never a valid fd addFd would register, so it cannot collide.
const wakeupTagFd int32 = -1

// Close releases the epoll instance and wakeup pipe. Run must have
// returned (or never been started) before calling Close.
func (d *Dispatcher) Close() error {
	unix.Close(d.wakeupFd[0])
	unix.Close(d.wakeupFd[1])
	return unix.Close(d.epollFd)
}

// IsRunning reports whether Run is currently dispatching.
func (d *Dispatcher) IsRunning() bool { return d.running.Load() }

// AddFd registers fd for read-ready (and hangup/error) notification. The
// callback runs on the dispatch goroutine; it must not block.
func (d *Dispatcher) AddFd(fd int, cb Callback) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLERR, Fd: int32(fd)}
	if err := unix.EpollCtl(d.epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl(add, %d): %w", fd, err)
	}
	d.fdMu.Lock()
	d.entries[fd] = fdEntry{fd: fd, callback: cb}
	d.fdMu.Unlock()
	return nil
}

// RemoveFd unregisters fd. Safe to call from within a callback running
// on the dispatch goroutine, or from any other goroutine.
func (d *Dispatcher) RemoveFd(fd int) error {
	unix.EpollCtl(d.epollFd, unix.EPOLL_CTL_DEL, fd, nil)
	d.fdMu.Lock()
	_, ok := d.entries[fd]
	delete(d.entries, fd)
	d.fdMu.Unlock()
	if !ok {
		return fmt.Errorf("eventloop: remove fd %d: not registered", fd)
	}
	return nil
}

// Post queues fn to run on the dispatch goroutine at the start of the
// next iteration, and wakes the loop if it is blocked in epoll_wait.
// Safe to call from any goroutine.
func (d *Dispatcher) Post(fn func()) {
	d.postMu.Lock()
	d.posted = append(d.posted, fn)
	d.postMu.Unlock()
	d.wakeup()
}

// Run blocks, dispatching posted callables and fd-ready callbacks, until
// Stop is called. Run is not reentrant: call it from a single goroutine.
func (d *Dispatcher) Run() {
	d.running.Store(true)
	defer d.running.Store(false)

	events := make([]unix.EpollEvent, maxEvents)
	for {
		d.drainPosted()
		if !d.running.Load() {
			return
		}

		n, err := unix.EpollWait(d.epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.Fd == wakeupTagFd {
				d.drainWakeupPipe()
				continue
			}
			d.fdMu.Lock()
			entry, ok := d.entries[int(ev.Fd)]
			d.fdMu.Unlock()
			if ok {
				entry.callback(entry.fd, ev.Events)
			}
		}
	}
}

// Stop requests that Run return after finishing its current iteration.
// Thread-safe; callable from any goroutine, including from within a
// callback.
func (d *Dispatcher) Stop() {
	d.running.Store(false)
	d.wakeup()
}

func (d *Dispatcher) drainPosted() {
	d.postMu.Lock()
	batch := d.posted
	d.posted = nil
	d.postMu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

func (d *Dispatcher) drainWakeupPipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(d.wakeupFd[0], buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (d *Dispatcher) wakeup() {
	unix.Write(d.wakeupFd[1], []byte{1})
}
