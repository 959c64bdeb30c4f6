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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// RequestHandler answers a single REQUEST frame. messageID identifies the
// method being invoked; request is the frame's payload. The returned
// status is carried back in the RESPONSE frame's aux field.
type RequestHandler func(messageID uint32, request []byte) (status Status, response []byte)

// connection is one accepted peer: its control-socket fd, its mapped
// shared region, and the receiver goroutine draining it.
type connection struct {
	sockFd int
	region *SharedRegion
	done   chan struct{} // closed when the receiver goroutine exits
}

// Service is the listening side of a connection: it accepts clients on
// an abstract-namespace control socket, completes the shared-memory
// handshake, and dispatches REQUEST frames arriving on each connection's
// clientToServer ring to a single registered handler. NOTIFY frames from
// clients are drained from the ring and dropped.
type Service struct {
	name string
	cfg  serviceConfig
	log  logrus.FieldLogger

	metrics *metrics

	listenFd int
	running  atomic.Bool

	handlerMu sync.Mutex
	handler   RequestHandler

	// connMu guards conns and also serializes the two writers of each
	// connection's serverToClient ring (Notify and that connection's
	// receiver), which is a single-producer ring.
	connMu sync.Mutex
	conns  map[*connection]struct{}

	acceptCtx    context.Context
	acceptCancel context.CancelFunc
	acceptDone   chan struct{}
}

// NewService creates a Service bound to the abstract-namespace endpoint
// derived from name. Start must be called before any client can connect.
func NewService(name string, opts ...ServiceOption) (*Service, error) {
	if name == "" {
		return nil, fmt.Errorf("rpc: service name must not be empty")
	}
	cfg := defaultServiceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ringCapacity <= 0 || cfg.ringCapacity&(cfg.ringCapacity-1) != 0 {
		return nil, fmt.Errorf("rpc: service %q: %w", name, ErrInvalidCapacity)
	}
	l := cfg.logger
	if l == nil {
		l = log
	}
	return &Service{
		name:    name,
		cfg:     cfg,
		log:     l,
		conns:   make(map[*connection]struct{}),
		metrics: resolveMetrics(cfg.metricsRegistry),
	}, nil
}

// SetRequestHandler installs the function invoked for every REQUEST
// frame received on any connection. It may be called before or after
// Start, and may be replaced at any time; the new handler takes effect
// for requests dispatched after the call returns.
func (s *Service) SetRequestHandler(h RequestHandler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// Start binds and listens on the control socket and begins accepting
// connections in the background. Start is not idempotent; calling it
// twice on the same Service is a programming error.
func (s *Service) Start() error {
	fd, err := createServerEndpoint(s.name)
	if err != nil {
		return fmt.Errorf("rpc: service %q: %w", s.name, err)
	}
	s.listenFd = fd
	s.running.Store(true)
	s.acceptCtx, s.acceptCancel = context.WithCancel(context.Background())
	s.acceptDone = make(chan struct{})
	go s.acceptLoop()
	return nil
}

// Stop idempotently tears down the listening socket and every open
// connection. It is safe to call Stop more than once or from multiple
// goroutines; only the first call does any work.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.acceptCancel()
	shutdownSocket(s.listenFd)
	closeFd(s.listenFd)
	<-s.acceptDone

	s.connMu.Lock()
	conns := s.conns
	s.conns = make(map[*connection]struct{})
	s.connMu.Unlock()

	// Shut every control socket down first so each receiver unblocks,
	// then wait for the receiver to exit before unmapping its region.
	for c := range conns {
		shutdownSocket(c.sockFd)
	}
	metrics := s.metrics
	for c := range conns {
		<-c.done
		s.closeConnection(c)
		metrics.connectionClosed()
	}
	return nil
}

// Notify broadcasts a NOTIFY frame carrying payload to every currently
// connected client. Delivery is attempted in an unspecified order under
// a single lock; the first connection whose ring is full or whose
// signal-byte send fails stops the broadcast immediately — Notify does
// not skip a slow or dead peer and continue on to the rest.
func (s *Service) Notify(serviceID, notifyID uint32, payload []byte) Status {
	if !s.running.Load() {
		return StatusErrStopped
	}
	if s.cfg.notifyLimiter != nil && !s.cfg.notifyLimiter.Allow() {
		return StatusErrRingFull
	}

	header := FrameHeader{
		Version:      s.cfg.protocolVersion,
		Flags:        FlagNotify,
		ServiceID:    serviceID,
		MessageID:    notifyID,
		PayloadBytes: uint32(len(payload)),
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	delivered := 0
	for c := range s.conns {
		if c.region == nil {
			continue
		}
		if !writeFrame(c.region.serverToClient, header, payload) {
			return StatusErrRingFull
		}
		if err := sendSignalByte(c.sockFd); err != nil {
			return StatusErrDisconnected
		}
		delivered++
	}
	s.metrics.notifyDelivered(delivered)
	return StatusSuccess
}

// NotifyErr is Notify for callers who prefer errors.Is/errors.As
// checking over comparing a raw Status.
func (s *Service) NotifyErr(serviceID, notifyID uint32, payload []byte) error {
	if status := s.Notify(serviceID, notifyID, payload); status.Failed() {
		return newStatusError(status, nil)
	}
	return nil
}

func (s *Service) acceptLoop() {
	defer close(s.acceptDone)
	for {
		if s.cfg.connectLimiter != nil {
			// Waiting on s.acceptCtx rather than context.Background lets
			// Stop unblock an acceptLoop parked here waiting for the token
			// bucket to refill, instead of leaving it stuck until enough
			// tokens accumulate on their own.
			if err := s.cfg.connectLimiter.Wait(s.acceptCtx); err != nil {
				return
			}
		}
		sockFd, err := acceptConnection(s.listenFd)
		if err != nil {
			return
		}
		if !s.running.Load() {
			closeFd(sockFd)
			return
		}
		// Matching the reference acceptLoop, the handshake runs inline on
		// this goroutine: Stop only waits on acceptDone, so a handshake
		// left running in the background could finish and register a
		// connection after Stop has already swept s.conns.
		c, ok := s.handshake(sockFd)
		if !ok {
			continue
		}
		go s.connectionReceiver(c)
	}
}

// handshake mirrors Service::acceptLoop's wire ordering exactly: the
// single ACK/NACK byte is sent right after the version comparison, and
// carries that comparison's result only. A subsequent mmap failure is
// not its own protocol event — the client has already been told its
// version matched, so the connection is simply closed without sending
// anything further, and the client discovers this the same way it would
// discover any other post-handshake disconnect (a failed signal-byte
// send or a closed receiver socket), not as a second ACK/NACK.
func (s *Service) handshake(sockFd int) (*connection, bool) {
	version, shmFd, err := recvFdWithVersion(sockFd)
	if err != nil {
		s.log.WithError(err).Debug("rpc: service: handshake recv failed")
		closeFd(sockFd)
		return nil, false
	}
	versionOK := version == s.cfg.protocolVersion
	if err := sendAck(sockFd, versionOK); err != nil {
		closeFd(shmFd)
		closeFd(sockFd)
		return nil, false
	}
	if !versionOK {
		closeFd(shmFd)
		closeFd(sockFd)
		return nil, false
	}
	region, err := mapServerSharedRegion(shmFd, s.cfg.ringCapacity)
	if err != nil {
		s.log.WithError(err).Debug("rpc: service: map shared region failed")
		closeFd(shmFd)
		closeFd(sockFd)
		return nil, false
	}

	c := &connection{sockFd: sockFd, region: region, done: make(chan struct{})}
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
	s.metrics.connectionOpened()

	return c, true
}

// connectionReceiver blocks on signal bytes from one connection,
// draining every fully-arrived frame from its clientToServer ring and
// dispatching REQUEST frames to the registered handler. The connection
// itself is never removed from s.conns when this loop exits — connection
// lifetime teardown is centralized in Stop, exactly as the reference
// implementation leaves closeConnection to the owning Service.
func (s *Service) connectionReceiver(c *connection) {
	defer close(c.done)
	for {
		if err := recvSignalByte(c.sockFd); err != nil {
			return
		}
		for {
			header, payload, ok := nextFrame(c.region.clientToServer)
			if !ok {
				break
			}
			s.dispatch(c, header, payload)
		}
		ring := c.region.clientToServer
		s.metrics.sampleRing("clientToServer", ring.ReadAvailable(), ring.WriteAvailable())
	}
}

func (s *Service) dispatch(c *connection, header FrameHeader, payload []byte) {
	if header.Flags&FlagRequest == 0 {
		return
	}
	start := time.Now()
	status, response := s.invokeHandler(header.MessageID, payload)
	s.metrics.recordCall(status, time.Since(start).Seconds())

	resp := FrameHeader{
		Version:      s.cfg.protocolVersion,
		Flags:        FlagResponse,
		ServiceID:    header.ServiceID,
		MessageID:    header.MessageID,
		Seq:          header.Seq,
		PayloadBytes: uint32(len(response)),
		Aux:          int32(status),
	}
	s.connMu.Lock()
	ok := writeFrame(c.region.serverToClient, resp, response)
	s.connMu.Unlock()
	if !ok {
		return
	}
	sendSignalByte(c.sockFd)
}

// invokeHandler calls the registered handler under a recovered panic: a
// panicking handler is reported to the caller as StatusErrInvalidMethod
// rather than taking down the connection's receiver goroutine.
func (s *Service) invokeHandler(messageID uint32, request []byte) (status Status, response []byte) {
	s.handlerMu.Lock()
	h := s.handler
	s.handlerMu.Unlock()
	if h == nil {
		return StatusErrInvalidMethod, nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("rpc: service: request handler panicked")
			status = StatusErrInvalidMethod
			response = nil
		}
	}()
	return h(messageID, request)
}

func (s *Service) closeConnection(c *connection) {
	shutdownSocket(c.sockFd)
	closeFd(c.sockFd)
	if c.region != nil {
		c.region.Close()
	}
}
