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

import "encoding/binary"

// ProtocolVersion is the current wire protocol version advertised during
// the handshake and carried in every FrameHeader.
const ProtocolVersion uint16 = 1

// FrameHeaderSize is the fixed on-wire size of a FrameHeader, in bytes.
const FrameHeaderSize = 24

// Flags is a bitmask identifying a frame's role. Exactly one bit is set
// per frame.
type Flags uint16

const (
	FlagRequest  Flags = 1 << 0
	FlagResponse Flags = 1 << 1
	FlagNotify   Flags = 1 << 2
)

// FrameHeader is the fixed header that precedes every frame's payload in
// a ring. All multi-byte fields are little-endian on the wire.
type FrameHeader struct {
	Version       uint16
	Flags         Flags
	ServiceID     uint32
	MessageID     uint32
	Seq           uint32
	PayloadBytes  uint32
	Aux           int32
}

// encodeFrameHeader writes h into a fresh FrameHeaderSize-byte array in
// little-endian form.
func encodeFrameHeader(h FrameHeader) [FrameHeaderSize]byte {
	var b [FrameHeaderSize]byte
	binary.LittleEndian.PutUint16(b[0:2], h.Version)
	binary.LittleEndian.PutUint16(b[2:4], uint16(h.Flags))
	binary.LittleEndian.PutUint32(b[4:8], h.ServiceID)
	binary.LittleEndian.PutUint32(b[8:12], h.MessageID)
	binary.LittleEndian.PutUint32(b[12:16], h.Seq)
	binary.LittleEndian.PutUint32(b[16:20], h.PayloadBytes)
	binary.LittleEndian.PutUint32(b[20:24], uint32(h.Aux))
	return b
}

// decodeFrameHeader is the inverse of encodeFrameHeader. It returns false
// without populating out if b is shorter than FrameHeaderSize; no other
// validation is performed here.
func decodeFrameHeader(b []byte, out *FrameHeader) bool {
	if len(b) < FrameHeaderSize {
		return false
	}
	out.Version = binary.LittleEndian.Uint16(b[0:2])
	out.Flags = Flags(binary.LittleEndian.Uint16(b[2:4]))
	out.ServiceID = binary.LittleEndian.Uint32(b[4:8])
	out.MessageID = binary.LittleEndian.Uint32(b[8:12])
	out.Seq = binary.LittleEndian.Uint32(b[12:16])
	out.PayloadBytes = binary.LittleEndian.Uint32(b[16:20])
	out.Aux = int32(binary.LittleEndian.Uint32(b[20:24]))
	return true
}
