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

// Status is the signed result code carried on the wire in a RESPONSE
// frame's aux field and returned from Call/Notify. Negative values are
// framework-reserved; non-negative values are handler-defined.
type Status int32

const (
	StatusSuccess               Status = 0
	StatusErrDisconnected       Status = -1
	StatusErrTimeout            Status = -2
	StatusErrInvalidService     Status = -3
	StatusErrInvalidMethod      Status = -4
	StatusErrVersionMismatch    Status = -5
	StatusErrRingFull           Status = -6
	StatusErrStopped            Status = -7
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusErrDisconnected:
		return "disconnected"
	case StatusErrTimeout:
		return "timeout"
	case StatusErrInvalidService:
		return "invalid service"
	case StatusErrInvalidMethod:
		return "invalid method"
	case StatusErrVersionMismatch:
		return "version mismatch"
	case StatusErrRingFull:
		return "ring full"
	case StatusErrStopped:
		return "stopped"
	default:
		if s >= 0 {
			return fmt.Sprintf("status(%d)", int32(s))
		}
		return fmt.Sprintf("unknown framework error(%d)", int32(s))
	}
}

// Failed reports whether s is a framework-reserved error (negative).
func (s Status) Failed() bool { return s < 0 }

// StatusError adapts a Status to the error interface for callers who
// prefer errors.Is/errors.As over comparing raw codes. Cause, when
// non-nil, is the underlying transport error that produced Status.
type StatusError struct {
	Status Status
	Cause  error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc: %s: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("rpc: %s", e.Status)
}

func (e *StatusError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, ErrDisconnected) style checks against the
// sentinel errors below without requiring callers to unwrap a
// *StatusError by hand.
func (e *StatusError) Is(target error) bool {
	sentinel, ok := target.(*StatusError)
	return ok && sentinel.Cause == nil && sentinel.Status == e.Status
}

func newStatusError(status Status, cause error) error {
	return &StatusError{Status: status, Cause: cause}
}

// Sentinel StatusErrors with no cause, for errors.Is comparisons, e.g.
// errors.Is(err, ErrDisconnected).
var (
	ErrDisconnected    = &StatusError{Status: StatusErrDisconnected}
	ErrTimeout         = &StatusError{Status: StatusErrTimeout}
	ErrInvalidMethod   = &StatusError{Status: StatusErrInvalidMethod}
	ErrVersionMismatch = &StatusError{Status: StatusErrVersionMismatch}
	ErrRingFull        = &StatusError{Status: StatusErrRingFull}
	ErrStopped         = &StatusError{Status: StatusErrStopped}
)
