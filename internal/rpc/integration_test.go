//go:build linux

package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"
)

func connectedPair(t *testing.T, svcOpts []ServiceOption, cliOpts []ClientOption) (*Service, *Client) {
	t.Helper()
	name := fmt.Sprintf("integration-%s-%d", t.Name(), time.Now().UnixNano())

	svc, err := NewService(name, svcOpts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	cli := NewClient(name, cliOpts...)
	if err := cli.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { cli.Disconnect() })

	return svc, cli
}

// addOne is a request handler that decodes a little-endian uint32 and
// returns it incremented by one, mirroring the add-one round-trip
// scenario used to exercise the full Call path end to end.
func addOne(_ uint32, request []byte) (Status, []byte) {
	if len(request) != 4 {
		return StatusErrInvalidMethod, nil
	}
	n := binary.LittleEndian.Uint32(request)
	resp := make([]byte, 4)
	binary.LittleEndian.PutUint32(resp, n+1)
	return StatusSuccess, resp
}

func TestIntegrationCallRoundTrip(t *testing.T) {
	svc, cli := connectedPair(t, nil, nil)
	svc.SetRequestHandler(addOne)

	req := make([]byte, 4)
	binary.LittleEndian.PutUint32(req, 41)

	resp, status, err := cli.Call(1, 1, req, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("status = %v, want success", status)
	}
	if got := binary.LittleEndian.Uint32(resp); got != 42 {
		t.Fatalf("response = %d, want 42", got)
	}
}

func TestIntegrationCallWithNoHandlerReturnsInvalidMethod(t *testing.T) {
	_, cli := connectedPair(t, nil, nil)

	_, status, err := cli.Call(1, 99, nil, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if status != StatusErrInvalidMethod {
		t.Fatalf("status = %v, want StatusErrInvalidMethod", status)
	}
}

func TestIntegrationPanickingHandlerReturnsInvalidMethod(t *testing.T) {
	svc, cli := connectedPair(t, nil, nil)
	svc.SetRequestHandler(func(uint32, []byte) (Status, []byte) {
		panic("handler exploded")
	})

	_, status, err := cli.Call(1, 1, nil, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if status != StatusErrInvalidMethod {
		t.Fatalf("status = %v, want StatusErrInvalidMethod", status)
	}
}

func TestIntegrationBroadcastNotifyReachesAllClients(t *testing.T) {
	name := fmt.Sprintf("integration-broadcast-%d", time.Now().UnixNano())
	svc, err := NewService(name)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	const numClients = 5
	clients := make([]*Client, numClients)
	received := make([]chan []byte, numClients)
	for i := 0; i < numClients; i++ {
		cli := NewClient(name)
		if err := cli.Connect(); err != nil {
			t.Fatalf("Connect client %d: %v", i, err)
		}
		t.Cleanup(func(c *Client) func() { return func() { c.Disconnect() } }(cli))

		ch := make(chan []byte, 1)
		cli.SetNotifyHandler(func(serviceID, notifyID uint32, payload []byte) {
			ch <- payload
		})
		clients[i] = cli
		received[i] = ch
	}

	payload := []byte("broadcast payload")
	if status := svc.Notify(7, 3, payload); status != StatusSuccess {
		t.Fatalf("Notify = %v, want success", status)
	}

	for i, ch := range received {
		select {
		case got := <-ch:
			if !bytes.Equal(got, payload) {
				t.Fatalf("client %d payload = %q, want %q", i, got, payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d: timed out waiting for notify", i)
		}
	}
}

func TestIntegrationVersionMismatchFailsHandshake(t *testing.T) {
	name := fmt.Sprintf("integration-version-%d", time.Now().UnixNano())
	svc, err := NewService(name)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	cli := NewClient(name, WithClientProtocolVersion(ProtocolVersion+1))
	err = cli.Connect()
	if err != ErrVersionMismatch {
		t.Fatalf("Connect err = %v, want ErrVersionMismatch", err)
	}
}

func TestIntegrationDisconnectFailsPendingCall(t *testing.T) {
	svc, cli := connectedPair(t, nil, nil)
	svc.SetRequestHandler(func(uint32, []byte) (Status, []byte) {
		time.Sleep(2 * time.Second)
		return StatusSuccess, nil
	})

	var (
		wg               sync.WaitGroup
		gotStatus        Status
		gotErr           error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, gotStatus, gotErr = cli.Call(1, 1, nil, 5*time.Second)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := cli.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	wg.Wait()

	// The receiver goroutine observes the shutdown socket and fails every
	// still-pending call with ErrDisconnected before Disconnect's own
	// cleanup runs, exactly as in the reference client: Disconnect joins
	// the receiver first, so its own StatusErrStopped sweep only ever
	// catches a straggler call that slipped into the pending map after
	// the receiver had already finished failing everything it saw.
	if gotErr != nil {
		t.Fatalf("Call err = %v, want nil", gotErr)
	}
	if gotStatus != StatusErrDisconnected {
		t.Fatalf("Call status = %v, want StatusErrDisconnected", gotStatus)
	}
}

func TestIntegrationCallErrWrapsFailedStatus(t *testing.T) {
	_, cli := connectedPair(t, nil, nil)

	_, err := cli.CallErr(1, 99, nil, time.Second)
	if err == nil {
		t.Fatalf("CallErr = nil error, want error for unhandled method")
	}
	if !errorsIsInvalidMethod(err) {
		t.Fatalf("CallErr err = %v, want ErrInvalidMethod", err)
	}
}

func errorsIsInvalidMethod(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status == StatusErrInvalidMethod
}

func TestIntegrationNotifyErrSucceedsWithNoConnections(t *testing.T) {
	svc, err := NewService(fmt.Sprintf("integration-notifyerr-%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	if err := svc.NotifyErr(1, 2, nil); err != nil {
		t.Fatalf("NotifyErr: %v", err)
	}
}

func TestIntegrationConcurrentCallsGetDistinctResponses(t *testing.T) {
	svc, cli := connectedPair(t, nil, nil)
	svc.SetRequestHandler(addOne)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := make([]byte, 4)
			binary.LittleEndian.PutUint32(req, uint32(i))
			resp, status, err := cli.Call(1, 1, req, 2*time.Second)
			if err != nil {
				errs[i] = err
				return
			}
			if status != StatusSuccess {
				errs[i] = fmt.Errorf("status = %v", status)
				return
			}
			if got := binary.LittleEndian.Uint32(resp); got != uint32(i)+1 {
				errs[i] = fmt.Errorf("response = %d, want %d", got, i+1)
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}
