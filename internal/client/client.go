// Package client implements the connection lifecycle manager and the
// operations exposed through the public facade.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/config"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/pipe"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/protocol"
)

// State is the connection lifecycle state.
type State int

// Lifecycle states. Transitions are driven only by Connect/Disconnect/Close
// or an unrecoverable transport error observed by the reader loop.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionListener receives session lifecycle notifications such as
// "connected", "disconnected", "subscription-ack" and "event-dispatched".
type SessionListener func(name string, data map[string]any)

// Client owns one connection to the Sockpuppet host and drives its lifecycle.
type Client struct {
	log     *slog.Logger
	options *config.Options

	// Per-connection plumbing, replaced on each Connect
	transport config.Transport
	conn      *protocol.Conn
	eg        *errgroup.Group
	teardown  *sync.Once

	// Lifecycle management
	mu     sync.Mutex
	state  State
	closed bool

	// Session listeners
	listenerMu   sync.Mutex
	nextListener uint64
	listeners    map[uint64]SessionListener
}

// New creates an unconnected client. Call Connect to establish the session.
func New() *Client {
	return &Client{
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		listeners: make(map[uint64]SessionListener),
	}
}

// Connect establishes the connection: Disconnected -> Connecting ->
// Connected. On failure the state returns to Disconnected and a
// *errors.ConnectionError (or the transport's error) is returned.
func (c *Client) Connect(ctx context.Context, options *config.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrClientClosed
	}

	if c.state != StateDisconnected {
		return errors.ErrAlreadyConnected
	}

	if options == nil {
		options = &config.Options{}
	}

	log := options.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c.log = log.With("component", "client")
	c.options = options
	c.state = StateConnecting

	network, address := options.Endpoint()
	c.log.Info("Connecting", "network", network, "address", address)

	transport := options.Transport
	if transport == nil && options.Dialer != nil {
		netConn, err := options.Dialer(ctx)
		if err != nil {
			c.state = StateDisconnected

			return &errors.ConnectionError{Endpoint: address, Err: err}
		}

		transport = pipe.NewConn(log, netConn)
	}

	if transport == nil {
		transport = pipe.New(log, network, address, options.EffectiveDialTimeout())
	}

	if err := transport.Start(ctx); err != nil {
		c.state = StateDisconnected

		return fmt.Errorf("start transport: %w", err)
	}

	conn := protocol.NewConn(log, transport)
	conn.SetNotifier(c.notifyListeners)

	// The reader loop outlives the Connect call, so it must not inherit a
	// Connect deadline; conn.Stop provides explicit shutdown.
	if err := conn.Start(context.WithoutCancel(ctx)); err != nil {
		_ = transport.Close()
		c.state = StateDisconnected

		return fmt.Errorf("start engine: %w", err)
	}

	c.transport = transport
	c.conn = conn
	c.teardown = &sync.Once{}

	// The watcher goroutine drives teardown when the reader loop dies on its
	// own. It runs on a background-derived errgroup rather than the caller's
	// ctx: a Connect deadline must not kill a healthy connection later.
	eg, _ := errgroup.WithContext(context.Background())
	c.eg = eg

	once := c.teardown

	eg.Go(func() error {
		<-conn.Done()
		c.shutdown(once, conn, transport)

		return conn.FatalError()
	})

	c.state = StateConnected
	c.log.Info("Connected")
	c.notifyListeners("connected", map[string]any{"address": address})

	return nil
}

// Disconnect tears the connection down: Connected -> Closing -> Disconnected.
//
// All pending calls fail with ErrConnectionLost and registered handlers stop
// receiving events (subsequent dispatches are no-ops; no fabricated events
// are delivered). Safe to call when already disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()

	if c.state != StateConnected {
		c.mu.Unlock()

		return nil
	}

	once, conn, transport := c.teardown, c.conn, c.transport

	c.mu.Unlock()

	c.shutdown(once, conn, transport)

	return nil
}

// shutdown is the single teardown path, shared by Disconnect, Close, and the
// reader-death watcher. The per-connection sync.Once collapses concurrent
// triggers into one effective Closing -> Disconnected transition.
func (c *Client) shutdown(once *sync.Once, conn *protocol.Conn, transport config.Transport) {
	once.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		c.mu.Unlock()

		c.log.Info("Disconnecting")

		conn.Stop()

		if err := transport.Close(); err != nil {
			c.log.Warn("Transport close failed", "error", err)
		}

		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		c.log.Info("Disconnected")
		c.notifyListeners("disconnected", nil)
	})
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == StateConnected
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// engine returns the live engine, or ErrNotConnected.
func (c *Client) engine() (*protocol.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		return nil, errors.ErrNotConnected
	}

	return c.conn, nil
}

// Call invokes a host method and blocks until its response arrives, using
// the configured default call timeout.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	options := c.options
	c.mu.Unlock()

	timeout := config.DefaultCallTimeout
	if options != nil {
		timeout = options.EffectiveCallTimeout()
	}

	return c.CallWithTimeout(ctx, method, params, timeout)
}

// CallWithTimeout invokes a host method with an explicit response deadline.
func (c *Client) CallWithTimeout(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	conn, err := c.engine()
	if err != nil {
		return nil, err
	}

	return conn.Call(ctx, method, params, timeout)
}

// On registers a handler for every event on topic, regardless of scope.
//
// The first handler for a topic subscribes host-side via events.subscribe;
// the host only pushes topics someone asked for.
func (c *Client) On(ctx context.Context, topic string, handler protocol.Handler) (protocol.Subscription, error) {
	return c.subscribe(ctx, topic, "", handler)
}

// OnScoped registers a handler for topic narrowed to one resource scope,
// e.g. a single webview panel id.
func (c *Client) OnScoped(
	ctx context.Context,
	topic, scope string,
	handler protocol.Handler,
) (protocol.Subscription, error) {
	return c.subscribe(ctx, topic, scope, handler)
}

func (c *Client) subscribe(
	ctx context.Context,
	topic, scope string,
	handler protocol.Handler,
) (protocol.Subscription, error) {
	conn, err := c.engine()
	if err != nil {
		return protocol.Subscription{}, err
	}

	sub, first := conn.Subscribe(topic, scope, handler)

	if first {
		if _, err := c.Call(ctx, "events.subscribe", map[string]any{"event": topic}); err != nil {
			// Roll back so a failed host subscription leaves no phantom handler.
			_, _ = conn.Unsubscribe(sub)

			return protocol.Subscription{}, fmt.Errorf("subscribe to %q: %w", topic, err)
		}

		c.notifyListeners("subscription-ack", map[string]any{"event": topic})
	}

	return sub, nil
}

// Off removes a subscription. Removing the topic's last handler unsubscribes
// host-side via events.unsubscribe.
func (c *Client) Off(ctx context.Context, sub protocol.Subscription) error {
	conn, err := c.engine()
	if err != nil {
		return err
	}

	last, err := conn.Unsubscribe(sub)
	if err != nil {
		return err
	}

	if last {
		if _, err := c.Call(ctx, "events.unsubscribe", map[string]any{"event": sub.Topic()}); err != nil {
			return fmt.Errorf("unsubscribe from %q: %w", sub.Topic(), err)
		}

		c.notifyListeners("unsubscription-ack", map[string]any{"event": sub.Topic()})
	}

	return nil
}

// Subscriptions returns the topics currently subscribed host-side.
func (c *Client) Subscriptions(ctx context.Context) ([]string, error) {
	raw, err := c.Call(ctx, "events.listSubscriptions", nil)
	if err != nil {
		return nil, err
	}

	var topics []string
	if err := json.Unmarshal(raw, &topics); err != nil {
		return nil, fmt.Errorf("unmarshal subscriptions: %w", err)
	}

	return topics, nil
}

// ExecuteCommand runs a host command with the given arguments.
func (c *Client) ExecuteCommand(ctx context.Context, command string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}

	return c.Call(ctx, "commands.executeCommand", map[string]any{
		"command": command,
		"args":    args,
	})
}

// Commands lists the host's registered command identifiers.
func (c *Client) Commands(ctx context.Context, filterInternal bool) ([]string, error) {
	raw, err := c.Call(ctx, "commands.getCommands", map[string]any{
		"filterInternal": filterInternal,
	})
	if err != nil {
		return nil, err
	}

	var commands []string
	if err := json.Unmarshal(raw, &commands); err != nil {
		return nil, fmt.Errorf("unmarshal commands: %w", err)
	}

	return commands, nil
}

// AddSessionListener registers a listener for session notifications and
// returns a function that removes it. Listener panics are swallowed so a
// misbehaving observer cannot take down the reader loop.
func (c *Client) AddSessionListener(fn SessionListener) func() {
	c.listenerMu.Lock()

	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn

	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

// notifyListeners fans a session notification out to all listeners.
func (c *Client) notifyListeners(name string, data map[string]any) {
	c.listenerMu.Lock()

	listeners := make([]SessionListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}

	c.listenerMu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					c.log.Warn("Session listener panicked", "notification", name, "panic", rec)
				}
			}()

			fn(name, data)
		}()
	}
}

// Close disconnects and retires the client. After Close the client cannot be
// reused; create a new one with New(). Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	once, conn, transport, eg := c.teardown, c.conn, c.transport, c.eg

	c.mu.Unlock()

	if conn != nil {
		c.shutdown(once, conn, transport)
	}

	if eg != nil {
		// Reader death is the expected way for the watcher to finish; its
		// fatal error was already delivered to the pending callers.
		_ = eg.Wait()
	}

	return nil
}
