// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package airctrl

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrTimeout          = errors.New("airctrl: request timeout")
	ErrTransport        = errors.New("airctrl: transport failure")
	ErrProtocol         = errors.New("airctrl: invalid response")
	ErrCommandFailed    = errors.New("airctrl: command rejected by device")
	ErrCapability       = errors.New("airctrl: unsupported parameter")
	ErrClosed           = errors.New("airctrl: client closed")
	ErrAlreadyObserving = errors.New("airctrl: already observing")
)

// TimeoutOp identifies the phase that ran out of time
type TimeoutOp uint8

const (
	TimeoutSync TimeoutOp = iota
	TimeoutCommand
	TimeoutLock
)

func (o TimeoutOp) String() string {
	switch o {
	case TimeoutSync:
		return "sync"
	case TimeoutCommand:
		return "command"
	case TimeoutLock:
		return "lock"
	default:
		return fmt.Sprintf("timeout-op(%d)", o)
	}
}

// TimeoutError is returned when a sync, a command or the device lock
// wait exceeds its window
type TimeoutError struct {
	Op     TimeoutOp
	Device string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("airctrl: %s timeout: device=%s", e.Op, e.Device)
}

func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	t, ok := target.(*TimeoutError)
	if !ok {
		return false
	}
	return e.Op == t.Op
}

// TransportError wraps a network or socket failure
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("airctrl: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ProtocolError is returned when a response arrived but could not be
// decrypted or parsed
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("airctrl: protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// CapabilityError reports a parameter value the device does not understand
type CapabilityError struct {
	Field string
	Value interface{}
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("airctrl: unsupported value %v for %s", e.Value, e.Field)
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapability
}

// IsTimeout returns true if the error is any timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsLockTimeout returns true if the error came from waiting on the device lock
func IsLockTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Op == TimeoutLock
	}
	return false
}

// IsTransport returns true if the error is a transport failure
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsProtocol returns true if the error is an undecodable response
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}
