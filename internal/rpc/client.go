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

package rpc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// NotifyHandler is invoked for every NOTIFY frame the client receives,
// on the client's single receiver goroutine. It must not block for long:
// a slow handler delays every other frame on the connection.
type NotifyHandler func(serviceID, notifyID uint32, payload []byte)

// callResult is the outcome handed from the receiver goroutine (or
// disconnect's cleanup) to a blocked Call.
type callResult struct {
	status   Status
	response []byte
}

// pendingCall is one in-flight Call waiting for its RESPONSE frame.
// resultCh is buffered with capacity one: at most one of the receiver
// goroutine or disconnect's cleanup ever sends on it, because each only
// sends for an entry it has just atomically removed from Client.pending;
// a Call timeout that removes the entry first sends nothing.
type pendingCall struct {
	resultCh chan callResult
}

// Client is the connecting side of a connection: it dials a Service's
// control socket, creates and hands over the shared-memory region, then
// issues correlated Call requests and receives broadcast Notify frames
// on a single background receiver goroutine.
type Client struct {
	name string
	cfg  clientConfig
	log  logrus.FieldLogger

	metrics *metrics

	sockFd  int
	region  *SharedRegion
	running atomic.Bool
	nextSeq atomic.Uint32

	// pendingMu guards pending and also serializes Call and Notify
	// writes to region.clientToServer, which is a single-producer ring.
	pendingMu sync.Mutex
	pending   map[uint32]*pendingCall

	notifyMu      sync.Mutex
	notifyHandler NotifyHandler

	recvDone chan struct{}
}

// NewClient creates a Client for the abstract-namespace endpoint derived
// from name. Connect must be called before any Call or Notify.
func NewClient(name string, opts ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	l := cfg.logger
	if l == nil {
		l = log
	}
	return &Client{
		name:    name,
		cfg:     cfg,
		log:     l,
		sockFd:  -1,
		pending: make(map[uint32]*pendingCall),
		metrics: resolveMetrics(cfg.metricsRegistry),
	}
}

// SetNotifyHandler installs the function invoked for every NOTIFY frame.
// It may be called before or after Connect, and replaced at any time.
func (c *Client) SetNotifyHandler(h NotifyHandler) {
	c.notifyMu.Lock()
	c.notifyHandler = h
	c.notifyMu.Unlock()
}

// Connect dials the service, making up to cfg.maxAttempts attempts with
// cfg.retry between attempts (see WithDialRetry), then performs the
// shared-memory handshake: create region, reset both rings, send the fd
// and protocol version, and wait for the service's ACK. A version
// mismatch or NACK leaves the Client fully torn down and returns
// ErrVersionMismatch.
func (c *Client) Connect() error {
	var sockFd int
	var err error
	for attempt := 1; ; attempt++ {
		sockFd, err = connectClientEndpoint(c.name)
		if err == nil {
			break
		}
		if attempt >= c.cfg.maxAttempts {
			return fmt.Errorf("rpc: client %q: connect: %w", c.name, err)
		}
		time.Sleep(c.cfg.retry)
	}

	region, err := createClientSharedRegion(c.cfg.ringCapacity)
	if err != nil {
		closeFd(sockFd)
		return fmt.Errorf("rpc: client %q: %w", c.name, err)
	}

	if err := sendFdWithVersion(sockFd, c.cfg.protocolVersion, region.fd); err != nil {
		region.Close()
		closeFd(sockFd)
		return fmt.Errorf("rpc: client %q: %w", c.name, err)
	}
	ok, err := recvAck(sockFd)
	if err != nil {
		region.Close()
		closeFd(sockFd)
		return fmt.Errorf("rpc: client %q: %w", c.name, err)
	}
	if !ok {
		region.Close()
		closeFd(sockFd)
		return ErrVersionMismatch
	}

	c.sockFd = sockFd
	c.region = region
	c.recvDone = make(chan struct{})
	c.running.Store(true)
	c.metrics.connectionOpened()
	go c.receiverLoop()
	return nil
}

// Disconnect idempotently tears the connection down: if the Client is
// still running, it shuts down the socket and waits for the receiver
// goroutine to exit. The receiver
// itself fails every pending Call it still sees with ErrDisconnected as
// soon as the shutdown socket breaks its read; Disconnect's own sweep
// with ErrStopped only catches a straggler Call that inserted itself
// into the pending map in the brief window after the receiver finished
// but before Disconnect got there. Even when Disconnect is called on an
// already-disconnected Client it still defensively releases any
// resources left set, matching the reference implementation's
// belt-and-suspenders teardown path.
func (c *Client) Disconnect() error {
	if c.running.CompareAndSwap(true, false) {
		shutdownSocket(c.sockFd)
		<-c.recvDone
		c.failAllPending(StatusErrStopped)
		c.metrics.connectionClosed()
	}

	if c.region != nil {
		c.region.Close()
		c.region = nil
	}
	closeFd(c.sockFd)
	c.sockFd = -1
	return nil
}

// Call sends a REQUEST frame carrying request and blocks for up to
// timeout for the matching RESPONSE. A ring-full write failure returns
// before any pending entry is created. A signal-byte send failure is
// reported as ErrDisconnected but does not retract the already-inserted
// pending entry, exactly as the reference client leaves it for the
// receiver's exit-time cleanup to fail.
func (c *Client) Call(serviceID, methodID uint32, request []byte, timeout time.Duration) ([]byte, Status, error) {
	if !c.running.Load() || c.region == nil {
		return nil, StatusErrDisconnected, ErrDisconnected
	}

	seq := c.nextSeq.Add(1)
	header := FrameHeader{
		Version:      c.cfg.protocolVersion,
		Flags:        FlagRequest,
		ServiceID:    serviceID,
		MessageID:    methodID,
		Seq:          seq,
		PayloadBytes: uint32(len(request)),
	}
	pc := &pendingCall{resultCh: make(chan callResult, 1)}
	c.pendingMu.Lock()
	if !writeFrame(c.region.clientToServer, header, request) {
		c.pendingMu.Unlock()
		return nil, StatusErrRingFull, ErrRingFull
	}
	c.pending[seq] = pc
	c.pendingMu.Unlock()

	if err := sendSignalByte(c.sockFd); err != nil {
		return nil, StatusErrDisconnected, ErrDisconnected
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pc.resultCh:
		c.metrics.recordCall(res.status, time.Since(start).Seconds())
		return res.response, res.status, nil
	case <-timer.C:
		c.pendingMu.Lock()
		_, stillPending := c.pending[seq]
		if stillPending {
			delete(c.pending, seq)
		}
		c.pendingMu.Unlock()
		if !stillPending {
			res := <-pc.resultCh
			c.metrics.recordCall(res.status, time.Since(start).Seconds())
			return res.response, res.status, nil
		}
		return nil, StatusErrTimeout, ErrTimeout
	}
}

// CallErr is Call for callers who prefer errors.Is/errors.As checking
// over comparing a raw Status: it reports a failed status as a
// *StatusError rather than as part of a successful return.
func (c *Client) CallErr(serviceID, methodID uint32, request []byte, timeout time.Duration) ([]byte, error) {
	response, status, err := c.Call(serviceID, methodID, request, timeout)
	if err != nil {
		return nil, err
	}
	if status.Failed() {
		return nil, newStatusError(status, nil)
	}
	return response, nil
}

// Notify sends a one-way NOTIFY frame; there is no response to wait for.
func (c *Client) Notify(serviceID, notifyID uint32, payload []byte) Status {
	if !c.running.Load() || c.region == nil {
		return StatusErrDisconnected
	}
	header := FrameHeader{
		Version:      c.cfg.protocolVersion,
		Flags:        FlagNotify,
		ServiceID:    serviceID,
		MessageID:    notifyID,
		PayloadBytes: uint32(len(payload)),
	}
	c.pendingMu.Lock()
	ok := writeFrame(c.region.clientToServer, header, payload)
	c.pendingMu.Unlock()
	if !ok {
		return StatusErrRingFull
	}
	if err := sendSignalByte(c.sockFd); err != nil {
		return StatusErrDisconnected
	}
	return StatusSuccess
}

// NotifyErr is Notify for callers who prefer errors.Is/errors.As
// checking over comparing a raw Status.
func (c *Client) NotifyErr(serviceID, notifyID uint32, payload []byte) error {
	if status := c.Notify(serviceID, notifyID, payload); status.Failed() {
		return newStatusError(status, nil)
	}
	return nil
}

// receiverLoop blocks on signal bytes, draining every fully-arrived
// frame from serverToClient: RESPONSE frames complete the matching
// pending Call by seq (an unrecognized seq, e.g. one a timeout already
// claimed, is silently dropped); NOTIFY frames are handed to the
// installed NotifyHandler. On exit it marks the Client not running (if
// Disconnect has not already done so) and fails every Call still waiting
// with ErrDisconnected, removing those entries from c.pending.
func (c *Client) receiverLoop() {
	defer close(c.recvDone)
	for {
		if err := recvSignalByte(c.sockFd); err != nil {
			if c.running.CompareAndSwap(true, false) {
				c.metrics.connectionClosed()
			}
			c.failAllPending(StatusErrDisconnected)
			return
		}
		for {
			header, payload, ok := nextFrame(c.region.serverToClient)
			if !ok {
				break
			}
			switch {
			case header.Flags&FlagResponse != 0:
				c.completePending(header.Seq, Status(header.Aux), payload)
			case header.Flags&FlagNotify != 0:
				c.dispatchNotify(header, payload)
			}
		}
		ring := c.region.serverToClient
		c.metrics.sampleRing("serverToClient", ring.ReadAvailable(), ring.WriteAvailable())
	}
}

func (c *Client) completePending(seq uint32, status Status, response []byte) {
	c.pendingMu.Lock()
	pc, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	pc.resultCh <- callResult{status: status, response: response}
}

func (c *Client) failAllPending(status Status) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.pendingMu.Unlock()
	for _, pc := range pending {
		pc.resultCh <- callResult{status: status}
	}
}

func (c *Client) dispatchNotify(header FrameHeader, payload []byte) {
	c.notifyMu.Lock()
	h := c.notifyHandler
	c.notifyMu.Unlock()
	if h == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.WithField("panic", r).Error("rpc: client: notify handler panicked")
			}
		}()
		h(header.ServiceID, header.MessageID, payload)
	}()
}
