// Package config holds the engine configuration shared across internal packages.
package config

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	// PipeEnvVar names the environment variable the extension sets with the
	// path of its listening socket.
	PipeEnvVar = "VSCODE_SOCKPUPPET_PIPE"

	// defaultPipeName is the socket file name used when nothing else is configured.
	defaultPipeName = "vscode-sockpuppet.sock"

	// DefaultDialTimeout bounds how long Connect waits for the extension's
	// socket to appear and accept.
	DefaultDialTimeout = 5 * time.Second

	// DefaultCallTimeout is the per-call response deadline when the caller
	// does not supply one.
	DefaultCallTimeout = 30 * time.Second
)

// Transport is the framed byte transport the engine runs over.
//
// The default implementation is pipe.Transport, which dials the extension's
// local socket. Custom transports can be injected via Options.Transport for
// testing or alternative channels.
type Transport interface {
	// Start opens the transport. It must be called before ReadFrames or Send.
	Start(ctx context.Context) error

	// ReadFrames returns channels yielding complete inbound frames and
	// transport-level errors. Both channels are closed when the transport
	// stops; a graceful peer close ends the frame channel without an error.
	ReadFrames(ctx context.Context) (<-chan []byte, <-chan error)

	// Send writes one complete frame atomically with respect to concurrent
	// Send calls.
	Send(ctx context.Context, frame []byte) error

	// Close tears the transport down. Safe to call multiple times.
	Close() error
}

// Options configures a client connection.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// PipePath is the explicit socket path to dial. If empty, the
	// VSCODE_SOCKPUPPET_PIPE environment variable is consulted, then the
	// platform default under the temp directory.
	PipePath string

	// Network is the socket network, "unix" by default. "tcp" is accepted
	// for test and forwarded endpoints.
	Network string

	// DialTimeout bounds connection establishment, including waiting for the
	// extension's socket file to appear.
	DialTimeout time.Duration

	// CallTimeout is the default response deadline for Call. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration

	// Dialer, if set, establishes the connection instead of dialing PipePath
	// directly. Useful for tunneled connections (e.g. an SSH forward).
	Dialer func(ctx context.Context) (net.Conn, error)

	// Transport, if set, is used instead of dialing PipePath or Dialer.
	Transport Transport
}

// Endpoint resolves the address the transport should dial.
func (o *Options) Endpoint() (network, address string) {
	network = o.Network
	if network == "" {
		network = "unix"
	}

	if o.PipePath != "" {
		return network, o.PipePath
	}

	if p := os.Getenv(PipeEnvVar); p != "" {
		return network, p
	}

	return network, filepath.Join(os.TempDir(), defaultPipeName)
}

// EffectiveDialTimeout returns DialTimeout or the default.
func (o *Options) EffectiveDialTimeout() time.Duration {
	if o.DialTimeout > 0 {
		return o.DialTimeout
	}

	return DefaultDialTimeout
}

// EffectiveCallTimeout returns CallTimeout or the default.
func (o *Options) EffectiveCallTimeout() time.Duration {
	if o.CallTimeout > 0 {
		return o.CallTimeout
	}

	return DefaultCallTimeout
}
