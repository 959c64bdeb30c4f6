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

//go:build linux

package rpc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// endpointAddr builds the abstract-namespace address for a service's
// control socket: a leading NUL byte followed by "rpc_"+name, not
// NUL-terminated. The kernel treats a sun_path whose first byte is NUL
// as living in the abstract namespace rather than the filesystem.
func endpointAddr(name string) string {
	return "\x00rpc_" + name
}

// createServerEndpoint binds and listens on a SOCK_SEQPACKET
// abstract-namespace endpoint derived from name.
func createServerEndpoint(name string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("rpc: create server endpoint: socket: %w", err)
	}
	sa := &unix.SockaddrUnix{Name: endpointAddr(name)}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rpc: create server endpoint: bind: %w", err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rpc: create server endpoint: listen: %w", err)
	}
	return fd, nil
}

// connectClientEndpoint connects to the SOCK_SEQPACKET abstract-namespace
// endpoint derived from name. Retry/backoff, if any, is the caller's
// responsibility.
func connectClientEndpoint(name string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("rpc: connect client endpoint: socket: %w", err)
	}
	sa := &unix.SockaddrUnix{Name: endpointAddr(name)}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rpc: connect client endpoint: connect: %w", err)
	}
	return fd, nil
}

// acceptConnection blocks until a peer connects to the listening
// endpoint fd, returning the new connection's fd.
func acceptConnection(listenFd int) (int, error) {
	nfd, _, err := unix.Accept4(listenFd, unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("rpc: accept: %w", err)
	}
	return nfd, nil
}

// createSharedRegion creates an anonymous shared-memory object of the
// given size via memfd_create, suitable for mmap and for fd-passing over
// the control socket.
func createSharedRegion(size int) (int, error) {
	fd, err := unix.MemfdCreate("rpc-shared-region", unix.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("rpc: create shared region: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("rpc: create shared region: ftruncate: %w", err)
	}
	return fd, nil
}

// mmapRegion maps fd's first size bytes read/write, shared across
// processes mapping the same fd.
func mmapRegion(fd, size int) ([]byte, error) {
	b, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("rpc: mmap shared region: %w", err)
	}
	return b, nil
}

// munmapRegion unmaps a mapping previously returned by mmapRegion.
func munmapRegion(b []byte) error {
	if b == nil {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("rpc: munmap shared region: %w", err)
	}
	return nil
}

// sendFdWithVersion sends version (2 bytes, little-endian, as the
// message's inline payload) with fd carried in SCM_RIGHTS ancillary
// data, atomically, over sockFd.
func sendFdWithVersion(sockFd int, version uint16, fd int) error {
	payload := []byte{byte(version), byte(version >> 8)}
	oob := unix.UnixRights(fd)
	if err := unix.Sendmsg(sockFd, payload, oob, nil, 0); err != nil {
		return fmt.Errorf("rpc: send fd with version: %w", err)
	}
	return nil
}

// recvFdWithVersion receives one message sent by sendFdWithVersion,
// returning the peer's version and taking ownership of the transferred
// descriptor.
func recvFdWithVersion(sockFd int) (version uint16, fd int, err error) {
	payload := make([]byte, 2)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(sockFd, payload, oob, 0)
	if err != nil {
		return 0, -1, fmt.Errorf("rpc: recv fd with version: %w", err)
	}
	if n < 2 {
		return 0, -1, fmt.Errorf("rpc: recv fd with version: short read (%d bytes)", n)
	}
	version = uint16(payload[0]) | uint16(payload[1])<<8

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, -1, fmt.Errorf("rpc: recv fd with version: parse control message: %w", err)
	}
	if len(scms) == 0 {
		return 0, -1, fmt.Errorf("rpc: recv fd with version: no control message")
	}
	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return 0, -1, fmt.Errorf("rpc: recv fd with version: parse unix rights: %w", err)
	}
	if len(fds) == 0 {
		return 0, -1, fmt.Errorf("rpc: recv fd with version: no descriptor transferred")
	}
	return version, fds[0], nil
}

// sendSignalByte pushes one byte of unspecified value onto sockFd,
// meaning "at least one new frame is available".
func sendSignalByte(sockFd int) error {
	if err := unix.Send(sockFd, []byte{0}, 0); err != nil {
		return fmt.Errorf("rpc: send signal byte: %w", err)
	}
	return nil
}

// recvSignalByte blocks until one signal byte (or connection loss) is
// observed on sockFd. A zero-length read (peer shut down its write side)
// or any error is reported as an error; the value of the byte itself is
// unused.
func recvSignalByte(sockFd int) error {
	buf := make([]byte, 1)
	n, err := unix.Read(sockFd, buf)
	if err != nil {
		return fmt.Errorf("rpc: recv signal byte: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rpc: recv signal byte: peer closed")
	}
	return nil
}

// sendAck writes the single-byte handshake ACK/NACK: 1 to proceed, 0 on
// version mismatch.
func sendAck(sockFd int, ok bool) error {
	v := byte(0)
	if ok {
		v = 1
	}
	if err := unix.Send(sockFd, []byte{v}, 0); err != nil {
		return fmt.Errorf("rpc: send ack: %w", err)
	}
	return nil
}

// recvAck reads the single-byte handshake ACK/NACK written by sendAck.
func recvAck(sockFd int) (bool, error) {
	buf := make([]byte, 1)
	n, err := unix.Read(sockFd, buf)
	if err != nil {
		return false, fmt.Errorf("rpc: recv ack: %w", err)
	}
	if n <= 0 {
		return false, fmt.Errorf("rpc: recv ack: no data")
	}
	return buf[0] != 0, nil
}

func closeFd(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}

func shutdownSocket(fd int) {
	if fd >= 0 {
		unix.Shutdown(fd, unix.SHUT_RDWR)
	}
}
