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

import "fmt"

// SharedRegion is the single contiguous mapping both ends of a
// connection share: the clientToServer ring (producer client, consumer
// server) immediately followed by the serverToClient ring (producer
// server, consumer client). Both rings have the same fixed capacity.
type SharedRegion struct {
	fd             int
	mem            []byte
	clientToServer *RingBuffer
	serverToClient *RingBuffer
}

// sharedRegionSize returns the total byte size of a SharedRegion holding
// two rings of the given per-direction capacity.
func sharedRegionSize(ringCapacity int) int {
	return 2 * (RingHeaderSize + ringCapacity)
}

// createClientSharedRegion allocates a new anonymous shared-memory
// object sized for two rings of ringCapacity bytes each, maps it, and
// resets both rings. This is the client's half of the handshake: the
// region must be reset before its fd is handed to the server, so the
// server never observes a non-zero head/tail on first map.
func createClientSharedRegion(ringCapacity int) (*SharedRegion, error) {
	size := sharedRegionSize(ringCapacity)
	fd, err := createSharedRegion(size)
	if err != nil {
		return nil, err
	}
	mem, err := mmapRegion(fd, size)
	if err != nil {
		closeFd(fd)
		return nil, err
	}
	region, err := newSharedRegion(fd, mem, ringCapacity)
	if err != nil {
		munmapRegion(mem)
		closeFd(fd)
		return nil, err
	}
	region.clientToServer.Reset()
	region.serverToClient.Reset()
	return region, nil
}

// mapServerSharedRegion maps an fd received from the client during the
// handshake. The server never resets the rings itself: initialization
// is the client's responsibility, completed before the fd was sent.
func mapServerSharedRegion(fd int, ringCapacity int) (*SharedRegion, error) {
	size := sharedRegionSize(ringCapacity)
	mem, err := mmapRegion(fd, size)
	if err != nil {
		return nil, err
	}
	region, err := newSharedRegion(fd, mem, ringCapacity)
	if err != nil {
		munmapRegion(mem)
		return nil, err
	}
	return region, nil
}

func newSharedRegion(fd int, mem []byte, ringCapacity int) (*SharedRegion, error) {
	want := sharedRegionSize(ringCapacity)
	if len(mem) < want {
		return nil, fmt.Errorf("rpc: shared region too small: have %d bytes, want %d", len(mem), want)
	}
	ringBytes := RingHeaderSize + ringCapacity
	c2s, err := NewRingBufferOver(mem[0:ringBytes], ringCapacity)
	if err != nil {
		return nil, fmt.Errorf("rpc: client-to-server ring: %w", err)
	}
	s2c, err := NewRingBufferOver(mem[ringBytes:2*ringBytes], ringCapacity)
	if err != nil {
		return nil, fmt.Errorf("rpc: server-to-client ring: %w", err)
	}
	return &SharedRegion{fd: fd, mem: mem, clientToServer: c2s, serverToClient: s2c}, nil
}

// Close unmaps the region and closes its backing fd. Safe to call once;
// a second call is a no-op.
func (s *SharedRegion) Close() error {
	if s == nil || s.mem == nil {
		return nil
	}
	err := munmapRegion(s.mem)
	closeFd(s.fd)
	s.mem = nil
	s.fd = -1
	return err
}
