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

// Command shmrpc-debug exercises a Service and Client pair in-process:
// it prints the ring and shared-region layout for a given capacity, then
// drives a real handshake, call, and notify round trip over that
// connection so a developer can sanity-check a build by eye.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"shmrpc.dev/core/internal/rpc"
)

func main() {
	ringCapacity := flag.Int("ring-capacity", rpc.RingCapacity, "per-direction ring capacity in bytes (must be a power of two)")
	serviceName := flag.String("service-name", fmt.Sprintf("shmrpc-debug-%d", os.Getpid()), "abstract-namespace endpoint name")
	flag.Parse()

	printLayout(*ringCapacity)

	if err := runRoundTrip(*serviceName, *ringCapacity); err != nil {
		log.Fatalf("round trip failed: %v", err)
	}
}

func printLayout(ringCapacity int) {
	fmt.Printf("=== Ring Layout ===\n")
	fmt.Printf("Ring header size: %d bytes\n", rpc.RingHeaderSize)
	fmt.Printf("Configured ring capacity: %d bytes\n", ringCapacity)
	fmt.Printf("Frame header size: %d bytes\n", rpc.FrameHeaderSize)
	fmt.Printf("Max single-write payload before ring full (empty ring): %d bytes\n",
		ringCapacity-rpc.FrameHeaderSize)
}

func runRoundTrip(serviceName string, ringCapacity int) error {
	fmt.Printf("\n=== Handshake + Call Round Trip ===\n")

	svc, err := rpc.NewService(serviceName, rpc.WithRingCapacity(ringCapacity))
	if err != nil {
		return fmt.Errorf("new service: %w", err)
	}
	svc.SetRequestHandler(func(messageID uint32, request []byte) (rpc.Status, []byte) {
		if len(request) != 4 {
			return rpc.StatusErrInvalidMethod, nil
		}
		n := binary.LittleEndian.Uint32(request)
		resp := make([]byte, 4)
		binary.LittleEndian.PutUint32(resp, n+1)
		return rpc.StatusSuccess, resp
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	client := rpc.NewClient(serviceName, rpc.WithClientRingCapacity(ringCapacity), rpc.WithDialRetry(20*time.Millisecond, 5))
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect()

	notified := make(chan []byte, 1)
	client.SetNotifyHandler(func(serviceID, notifyID uint32, payload []byte) {
		notified <- payload
	})

	req := make([]byte, 4)
	binary.LittleEndian.PutUint32(req, 41)
	resp, status, err := client.Call(1, 1, req, time.Second)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	fmt.Printf("Call status: %s\n", status)
	fmt.Printf("Call response: %d\n", binary.LittleEndian.Uint32(resp))

	if status := svc.Notify(1, 2, []byte("debug notify")); status != rpc.StatusSuccess {
		return fmt.Errorf("notify: %s", status)
	}
	select {
	case payload := <-notified:
		fmt.Printf("Notify payload: %q\n", payload)
	case <-time.After(time.Second):
		return fmt.Errorf("timed out waiting for notify")
	}
	return nil
}
