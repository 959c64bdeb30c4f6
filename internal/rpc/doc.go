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

// Package rpc implements the transport and session runtime of a local
// inter-process RPC framework: lock-free shared-memory ring buffers, a
// file-descriptor-passing connection handshake over an abstract-namespace
// control socket, a fixed 24-byte frame header, and the Service/Client
// session types built on top of them.
//
// The core exposes only opaque byte payloads keyed by (serviceId,
// messageId); value-level serialization and the generated stub/skeleton
// layer on top of this package are out of scope.
package rpc
