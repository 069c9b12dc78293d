package errors

import (
	"errors"
	"fmt"
)

// SockpuppetError is the base interface for all engine errors.
type SockpuppetError interface {
	error
	IsSockpuppetError() bool
}

// Compile-time verification that all error types implement SockpuppetError.
var (
	_ SockpuppetError = (*ConnectionError)(nil)
	_ SockpuppetError = (*TransportError)(nil)
	_ SockpuppetError = (*ProtocolError)(nil)
	_ SockpuppetError = (*DuplicateIDError)(nil)
	_ SockpuppetError = (*RemoteError)(nil)
)

// IsSockpuppetError reports whether any error in err's chain originated from
// this module.
func IsSockpuppetError(err error) bool {
	var spErr SockpuppetError

	return errors.As(err, &spErr)
}

// Sentinel errors for commonly checked conditions.
var (
	// ErrNotConnected indicates a call was attempted without a live connection.
	ErrNotConnected = errors.New("not connected to host")

	// ErrAlreadyConnected indicates the client is already connected.
	ErrAlreadyConnected = errors.New("client already connected")

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.New("client closed: clients are single-use, create a new one with NewClient()")

	// ErrCallTimeout indicates no response arrived within the call deadline.
	ErrCallTimeout = errors.New("call timeout")

	// ErrConnectionLost indicates the connection died while a call was pending.
	ErrConnectionLost = errors.New("connection lost")

	// ErrEngineStopped indicates the connection engine has stopped.
	ErrEngineStopped = errors.New("connection engine stopped")

	// ErrSubscriptionNotFound indicates an Off() call for a handle that is not registered.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// ConnectionError indicates failure to establish a connection to the host.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v (is the Sockpuppet extension running?)", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsSockpuppetError implements SockpuppetError.
func (e *ConnectionError) IsSockpuppetError() bool { return true }

// TransportError indicates an I/O failure on the underlying socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsSockpuppetError implements SockpuppetError.
func (e *TransportError) IsSockpuppetError() bool { return true }

// ProtocolError indicates a frame that does not decode as any known message
// shape. It preserves the raw frame that failed to decode.
type ProtocolError struct {
	RawFrame string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame from host: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsSockpuppetError implements SockpuppetError.
func (e *ProtocolError) IsSockpuppetError() bool { return true }

// DuplicateIDError indicates a correlation id was registered while a prior
// call with the same id was still pending. This is an id generator bug,
// detected rather than silently overwritten.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("correlation id %q already pending", e.ID)
}

// IsSockpuppetError implements SockpuppetError.
func (e *DuplicateIDError) IsSockpuppetError() bool { return true }

// RemoteError indicates the host returned an explicit error response for a call.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("host error %d: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("host error: %s", e.Message)
}

// IsSockpuppetError implements SockpuppetError.
func (e *RemoteError) IsSockpuppetError() bool { return true }
