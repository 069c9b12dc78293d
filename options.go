package sockpuppet

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/config"
)

// Option configures a connection using the functional options pattern.
type Option func(*config.Options)

// applyOptions folds functional options into an internal options struct.
func applyOptions(opts []Option) *config.Options {
	options := &config.Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *config.Options) {
		o.Logger = logger
	}
}

// WithPipePath sets the explicit socket path to dial, bypassing the
// VSCODE_SOCKPUPPET_PIPE environment variable and the platform default.
func WithPipePath(path string) Option {
	return func(o *config.Options) {
		o.PipePath = path
	}
}

// WithEndpoint sets both the socket network ("unix" or "tcp") and address.
// "tcp" is mainly useful for tests and forwarded connections.
func WithEndpoint(network, address string) Option {
	return func(o *config.Options) {
		o.Network = network
		o.PipePath = address
	}
}

// WithDialTimeout bounds connection establishment, including waiting for the
// extension's socket to appear. Defaults to 5 seconds.
func WithDialTimeout(timeout time.Duration) Option {
	return func(o *config.Options) {
		o.DialTimeout = timeout
	}
}

// WithCallTimeout sets the default response deadline for Call.
// Defaults to 30 seconds. Use CallWithTimeout for a per-call override.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *config.Options) {
		o.CallTimeout = timeout
	}
}

// WithDialer supplies the net.Conn instead of dialing the socket directly.
// Useful when the connection arrives through a tunnel such as an SSH forward.
func WithDialer(dial func(ctx context.Context) (net.Conn, error)) Option {
	return func(o *config.Options) {
		o.Dialer = dial
	}
}

// WithTransport injects a custom transport instead of dialing the socket.
// Intended for testing and tunneled connections.
func WithTransport(t Transport) Option {
	return func(o *config.Options) {
		o.Transport = t
	}
}
