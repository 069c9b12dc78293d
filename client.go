package sockpuppet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/client"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/config"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/protocol"
)

// Handler receives the payload of a dispatched event.
//
// Handlers run on the connection's reader goroutine; keep them fast or hand
// the payload off to your own goroutine. A returned error is logged and does
// not affect delivery to other handlers.
type Handler = protocol.Handler

// Subscription is the opaque handle identifying one registered handler.
type Subscription = protocol.Subscription

// SessionListener receives session lifecycle notifications such as
// "connected", "disconnected", "subscription-ack" and "event-dispatched".
type SessionListener = client.SessionListener

// Transport is the framed byte transport the engine runs over.
// Inject a custom one with WithTransport for testing or tunneled connections.
type Transport = config.Transport

// Client is a connection to the Sockpuppet extension.
//
// A client holds at most one live connection. Call is safe for concurrent
// use from any number of goroutines; each caller blocks until its own
// response arrives, times out, or the connection dies. Clients are
// single-use: after Close, create a new one with NewClient.
type Client interface {
	// Connect establishes the connection to the extension's socket.
	// Returns *ConnectionError if the endpoint cannot be reached and
	// ErrAlreadyConnected if a connection is already live.
	Connect(ctx context.Context, opts ...Option) error

	// Disconnect tears the connection down. Pending calls fail with
	// ErrConnectionLost; registered handlers stop receiving events.
	// Safe to call when already disconnected.
	Disconnect() error

	// IsConnected reports whether a connection is currently live.
	IsConnected() bool

	// Call invokes a host method and blocks until its response arrives,
	// using the client's default call timeout. Fails with ErrNotConnected,
	// ErrCallTimeout, ErrConnectionLost, or *RemoteError.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// CallWithTimeout is Call with an explicit per-call response deadline.
	CallWithTimeout(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)

	// On registers a handler for every event on topic. The first handler
	// for a topic subscribes host-side; ctx bounds that subscribe call.
	On(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// OnScoped registers a handler for topic narrowed to one resource
	// scope, e.g. a single webview panel id.
	OnScoped(ctx context.Context, topic, scope string, handler Handler) (Subscription, error)

	// Off removes a subscription. Removing a topic's last handler
	// unsubscribes host-side.
	Off(ctx context.Context, sub Subscription) error

	// Subscriptions returns the topics currently subscribed host-side.
	Subscriptions(ctx context.Context) ([]string, error)

	// ExecuteCommand runs a host command with the given arguments.
	ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error)

	// Commands lists the host's registered command identifiers.
	Commands(ctx context.Context, filterInternal bool) ([]string, error)

	// AddSessionListener registers a listener for session notifications.
	// The returned function removes it.
	AddSessionListener(fn SessionListener) func()

	// Close disconnects and retires the client. Safe to call multiple times.
	Close() error
}

// NewClient creates an unconnected client.
//
//	client := sockpuppet.NewClient()
//	defer client.Close()
//
//	if err := client.Connect(ctx, sockpuppet.WithLogger(slog.Default())); err != nil {
//	    log.Fatal(err)
//	}
func NewClient() Client {
	return &clientFacade{inner: client.New()}
}

// clientFacade adapts the internal client to the public interface,
// translating functional options into the internal options struct.
type clientFacade struct {
	inner *client.Client
}

var _ Client = (*clientFacade)(nil)

func (f *clientFacade) Connect(ctx context.Context, opts ...Option) error {
	return f.inner.Connect(ctx, applyOptions(opts))
}

func (f *clientFacade) Disconnect() error {
	return f.inner.Disconnect()
}

func (f *clientFacade) IsConnected() bool {
	return f.inner.IsConnected()
}

func (f *clientFacade) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f.inner.Call(ctx, method, params)
}

func (f *clientFacade) CallWithTimeout(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	return f.inner.CallWithTimeout(ctx, method, params, timeout)
}

func (f *clientFacade) On(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	return f.inner.On(ctx, topic, handler)
}

func (f *clientFacade) OnScoped(
	ctx context.Context,
	topic, scope string,
	handler Handler,
) (Subscription, error) {
	return f.inner.OnScoped(ctx, topic, scope, handler)
}

func (f *clientFacade) Off(ctx context.Context, sub Subscription) error {
	return f.inner.Off(ctx, sub)
}

func (f *clientFacade) Subscriptions(ctx context.Context) ([]string, error) {
	return f.inner.Subscriptions(ctx)
}

func (f *clientFacade) ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error) {
	return f.inner.ExecuteCommand(ctx, command, args...)
}

func (f *clientFacade) Commands(ctx context.Context, filterInternal bool) ([]string, error) {
	return f.inner.Commands(ctx, filterInternal)
}

func (f *clientFacade) AddSessionListener(fn SessionListener) func() {
	return f.inner.AddSessionListener(fn)
}

func (f *clientFacade) Close() error {
	return f.inner.Close()
}
