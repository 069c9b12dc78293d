package sockpuppet

import "github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"

// Re-export error types from the internal package

// SockpuppetError is the base interface for all engine errors.
type SockpuppetError = errors.SockpuppetError

// ConnectionError indicates failure to establish a connection to the host.
type ConnectionError = errors.ConnectionError

// TransportError indicates an I/O failure on the underlying socket.
type TransportError = errors.TransportError

// ProtocolError indicates a frame that does not decode as any known message shape.
type ProtocolError = errors.ProtocolError

// DuplicateIDError indicates a correlation id was reused while still pending.
type DuplicateIDError = errors.DuplicateIDError

// RemoteError indicates the host returned an explicit error response for a call.
type RemoteError = errors.RemoteError

// IsSockpuppetError reports whether any error in err's chain originated from
// this module.
func IsSockpuppetError(err error) bool {
	return errors.IsSockpuppetError(err)
}

// Re-export sentinel errors from the internal package.
var (
	// ErrNotConnected indicates a call was attempted without a live connection.
	ErrNotConnected = errors.ErrNotConnected

	// ErrAlreadyConnected indicates the client is already connected.
	ErrAlreadyConnected = errors.ErrAlreadyConnected

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.ErrClientClosed

	// ErrCallTimeout indicates no response arrived within the call deadline.
	ErrCallTimeout = errors.ErrCallTimeout

	// ErrConnectionLost indicates the connection died while a call was pending.
	ErrConnectionLost = errors.ErrConnectionLost

	// ErrEngineStopped indicates the engine stopped without a transport error
	// while a call was pending. Always wrapped in ErrConnectionLost.
	ErrEngineStopped = errors.ErrEngineStopped

	// ErrSubscriptionNotFound indicates an Off() call for an unknown handle.
	ErrSubscriptionNotFound = errors.ErrSubscriptionNotFound
)
