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

// nextFrame peeks the next frame header in ring without consuming it,
// and only if the header plus its declared payload are both fully
// present does it skip past the header and read out the payload. A
// partial frame (header not yet fully written, or payload still
// in-flight) leaves the ring untouched and returns ok=false, telling the
// caller to stop draining and wait for the next signal byte.
func nextFrame(ring *RingBuffer) (header FrameHeader, payload []byte, ok bool) {
	var raw [FrameHeaderSize]byte
	if !ring.Peek(raw[:]) {
		return FrameHeader{}, nil, false
	}
	if !decodeFrameHeader(raw[:], &header) {
		return FrameHeader{}, nil, false
	}
	if ring.ReadAvailable() < FrameHeaderSize+int(header.PayloadBytes) {
		return FrameHeader{}, nil, false
	}

	ring.Skip(FrameHeaderSize)
	if header.PayloadBytes > 0 {
		payload = make([]byte, header.PayloadBytes)
		ring.Read(payload)
	}
	return header, payload, true
}

// writeFrame encodes header followed by payload into ring as a single
// back-to-back unit. Because RingBuffer.Write either fully commits or
// makes no change, a short header write that would leave a dangling
// frame is impossible: if the header write fails there is nothing to
// roll back, and if the header succeeds but the payload write fails the
// frame is still torn as observed by a reader — so writeFrame treats any
// failure as fatal to the whole frame and does not attempt to undo a
// successful header write; callers must only call it when they hold the
// sole producer role for ring, matching the RingBuffer contract.
func writeFrame(ring *RingBuffer, header FrameHeader, payload []byte) bool {
	need := FrameHeaderSize + len(payload)
	if ring.WriteAvailable() < need {
		return false
	}
	raw := encodeFrameHeader(header)
	if !ring.Write(raw[:]) {
		return false
	}
	if len(payload) > 0 && !ring.Write(payload) {
		return false
	}
	return true
}
