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

package eventloop

// RunLoop is the no-fd-multiplexing sibling of Dispatcher: a named,
// single-threaded loop that only runs posted callables, for callers who
// need a dedicated thread to marshal work onto but have no file
// descriptors of their own to register. It is built on a Dispatcher
// with no fds ever added, rather than reimplementing the epoll/wakeup
// mechanics a second time.
type RunLoop struct {
	name string
	d    *Dispatcher
}

// NewRunLoop creates a RunLoop identified by name, for logging and
// debugging purposes. Go favors a ready-to-use constructor over the
// reference implementation's separate construct-then-init(name) step.
func NewRunLoop(name string) (*RunLoop, error) {
	d, err := New()
	if err != nil {
		return nil, err
	}
	return &RunLoop{name: name, d: d}, nil
}

// Name returns the name the RunLoop was constructed with.
func (r *RunLoop) Name() string { return r.name }

// Run blocks, executing posted callables, until Stop is called.
func (r *RunLoop) Run() { r.d.Run() }

// Stop requests that Run return. Thread-safe; callable from any
// goroutine, including from within a posted callable.
func (r *RunLoop) Stop() { r.d.Stop() }

// Post queues fn to run on the loop's own goroutine. Thread-safe.
func (r *RunLoop) Post(fn func()) { r.d.Post(fn) }

// IsRunning reports whether Run is currently dispatching.
func (r *RunLoop) IsRunning() bool { return r.d.IsRunning() }

// Close releases the loop's epoll instance and wakeup pipe. Run must
// have returned (or never been started) before calling Close.
func (r *RunLoop) Close() error { return r.d.Close() }
