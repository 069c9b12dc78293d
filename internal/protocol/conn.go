// Package protocol implements the connection engine: request/response
// correlation across concurrent callers and push-event dispatch, multiplexed
// over one framed transport with a single reader goroutine.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/config"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/wire"
)

// Notification names delivered to the session notifier.
const (
	NotifyEventDispatched = "event-dispatched"
	NotifyReaderStarted   = "event-loop-started"
	NotifyReaderStopped   = "event-loop-stopped"
)

// Notifier observes engine-internal happenings (reader start/stop, event
// dispatches). Used by the client to feed session listeners. Must not block.
type Notifier func(name string, data map[string]any)

// Conn is the connection engine over one transport.
//
// Conn handles:
//   - Sending requests with unique correlation ids
//   - Routing responses to the callers waiting on them
//   - Fanning event notifications out to registered handlers
//   - Propagating terminal transport failure to every pending caller
//
// Exactly one reader goroutine owns the transport's inbound side. Conn must
// be started with Start() before use.
type Conn struct {
	log       *slog.Logger
	transport config.Transport

	pending  *pendingTable
	registry *registry
	notify   Notifier

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	// Lifecycle management
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewConn creates an engine over transport.
//
// The transport must be started before calling Start. The logger receives
// debug, info, warn, and error messages during engine operation.
func NewConn(log *slog.Logger, transport config.Transport) *Conn {
	return &Conn{
		log:       log.With("component", "engine"),
		transport: transport,
		pending:   newPendingTable(),
		registry:  newRegistry(),
		notify:    func(string, map[string]any) {},
		done:      make(chan struct{}),
	}
}

// SetNotifier installs the session notifier. Must be called before Start.
func (c *Conn) SetNotifier(fn Notifier) {
	if fn != nil {
		c.notify = fn
	}
}

// closeDone safely closes the done channel exactly once.
func (c *Conn) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SetFatalError stores the first fatal error and broadcasts by closing done.
func (c *Conn) SetFatalError(err error) {
	c.recordFatalError(err)
	c.closeDone()
}

// recordFatalError stores the first fatal error without broadcasting.
func (c *Conn) recordFatalError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

// FatalError returns the fatal error if one occurred.
func (c *Conn) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// Done returns a channel that is closed when the engine stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Start spawns the reader loop.
//
// The reader goroutine decodes inbound frames and routes responses to the
// correlation table and events to the dispatch registry. It stops when the
// context is cancelled, the transport closes, or Stop is called.
func (c *Conn) Start(ctx context.Context) error {
	c.log.Debug("Starting connection engine")

	frames, errs := c.transport.ReadFrames(ctx)

	c.wg.Add(1)

	go c.readLoop(ctx, frames, errs)

	c.log.Info("Connection engine started")

	return nil
}

// Stop shuts the engine down.
//
// Every pending call fails with ErrConnectionLost, the reader loop is
// signalled and awaited. Safe to call multiple times; concurrent triggers
// collapse into a single effective teardown.
func (c *Conn) Stop() {
	c.log.Debug("Stopping connection engine")

	// Drain before broadcasting: a caller woken by done must find its slot
	// already fulfilled, never an empty slot with no fatal error recorded.
	c.failPending(fmt.Errorf("%w: client disconnected", errors.ErrConnectionLost))
	c.closeDone()
	c.wg.Wait()
	c.log.Info("Connection engine stopped")
}

// failPending drains the correlation table, failing every in-flight call.
func (c *Conn) failPending(reason error) {
	if n := c.pending.drain(reason); n > 0 {
		c.log.Debug("Cancelled pending calls", "count", n, "reason", reason)
	}
}

// Call sends a request and blocks until its response arrives, the timeout
// elapses, the context is cancelled, or the connection dies.
//
// The correlation id is a fresh ULID, unique per connection by construction
// but still checked against the table. A response arriving after the timeout
// path has removed the entry is a harmless discarded miss.
func (c *Conn) Call(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	requestID := ulid.Make().String()

	c.log.Debug("Sending request", "request_id", requestID, "method", method)

	call, err := c.pending.register(requestID)
	if err != nil {
		return nil, err
	}

	req := &wire.Request{ID: requestID, Method: method}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			c.pending.remove(requestID)

			return nil, fmt.Errorf("marshal params: %w", err)
		}

		req.Params = raw
	}

	frame, err := wire.Encode(req)
	if err != nil {
		c.pending.remove(requestID)

		return nil, err
	}

	if err := c.transport.Send(ctx, frame); err != nil {
		c.pending.remove(requestID)
		c.log.Error("Failed to send request", "request_id", requestID, "error", err)

		return nil, fmt.Errorf("send request: %w", err)
	}

	c.log.Debug("Request sent, waiting for response", "request_id", requestID)

	select {
	case outcome := <-call.slot:
		return c.resolve(requestID, outcome)

	case <-time.After(timeout):
		c.pending.remove(requestID)
		c.log.Warn("Call timed out", "request_id", requestID, "timeout", timeout)

		return nil, fmt.Errorf("%w after %s", errors.ErrCallTimeout, timeout)

	case <-ctx.Done():
		c.pending.remove(requestID)
		c.log.Debug("Call cancelled", "request_id", requestID)

		return nil, ctx.Err()

	case <-c.done:
		// Engine stopped while waiting. The drain usually delivers through
		// the slot; if an outcome already landed there, the caller gets it
		// rather than a fabricated disconnect error.
		select {
		case outcome := <-call.slot:
			return c.resolve(requestID, outcome)
		default:
		}

		c.pending.remove(requestID)

		if err := c.FatalError(); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
		}

		return nil, fmt.Errorf("%w: %w", errors.ErrConnectionLost, errors.ErrEngineStopped)
	}
}

// resolve turns a fulfilled completion slot into the caller's return values.
func (c *Conn) resolve(requestID string, outcome callOutcome) (json.RawMessage, error) {
	if outcome.err != nil {
		c.log.Warn("Call failed", "request_id", requestID, "error", outcome.err)

		return nil, outcome.err
	}

	resp := outcome.resp
	if resp.IsError() {
		c.log.Warn("Host returned error",
			"request_id", requestID, "code", resp.Err.Code, "message", resp.Err.Message)

		return nil, &errors.RemoteError{Code: resp.Err.Code, Message: resp.Err.Message}
	}

	c.log.Debug("Received response", "request_id", requestID)

	return resp.Result, nil
}

// Subscribe registers a handler for topic, optionally narrowed to scope
// ("" for topic-wide). first reports whether the topic had no handlers
// before, i.e. the host-side subscription still needs to be established.
func (c *Conn) Subscribe(topic, scope string, handler Handler) (sub Subscription, first bool) {
	sub, first = c.registry.register(topic, scope, handler)
	c.log.Debug("Registered event handler", "topic", topic, "scope", scope, "first", first)

	return sub, first
}

// Unsubscribe removes a previously registered handler. last reports whether
// the topic now has no handlers. Returns ErrSubscriptionNotFound for handles
// that are not (or no longer) registered.
func (c *Conn) Unsubscribe(sub Subscription) (last bool, err error) {
	last, found := c.registry.unregister(sub)
	if !found {
		return false, errors.ErrSubscriptionNotFound
	}

	c.log.Debug("Removed event handler", "topic", sub.Topic(), "scope", sub.Scope(), "last", last)

	return last, nil
}

// TopicHandlerCount reports the number of live handlers for topic.
func (c *Conn) TopicHandlerCount(topic string) int {
	return c.registry.topicCount(topic)
}

// PendingCalls reports the number of in-flight calls. Used by tests and
// diagnostics.
func (c *Conn) PendingCalls() int {
	return c.pending.size()
}

// readLoop is the single reader: it decodes inbound frames and routes each
// to the correlation table or the dispatch registry.
func (c *Conn) readLoop(ctx context.Context, frames <-chan []byte, errs <-chan error) {
	defer c.wg.Done()
	defer c.notify(NotifyReaderStopped, nil)
	defer c.log.Debug("Reader loop stopped")

	c.notify(NotifyReaderStarted, nil)

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// The transport parks its terminal error in the buffered errs
				// channel before closing both channels, and a racing select
				// can land here first. Check errs so the error is not lost.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						c.log.Debug("Transport error behind closed frame channel", "error", err)
						c.shutdown(err)

						return
					}
				default:
				}

				c.log.Debug("Frame channel closed")
				c.shutdown(nil)

				return
			}

			c.handleFrame(frame)

		case err, ok := <-errs:
			if !ok {
				c.log.Debug("Error channel closed")
				c.shutdown(nil)

				return
			}

			if err != nil {
				c.log.Debug("Transport error in reader loop", "error", err)
				c.shutdown(err)

				return
			}

		case <-c.done:
			c.log.Debug("Engine stop signal received")

			return

		case <-ctx.Done():
			c.log.Debug("Context cancelled in reader loop")
			c.shutdown(ctx.Err())

			return
		}
	}
}

// shutdown runs the terminal failure path exactly once: record the error,
// fail every pending caller, then broadcast. Draining before the broadcast
// guarantees a caller woken by done finds its slot already fulfilled.
func (c *Conn) shutdown(err error) {
	if err != nil {
		c.recordFatalError(err)
		c.failPending(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err))
		c.closeDone()

		return
	}

	c.failPending(fmt.Errorf("%w: host closed the connection", errors.ErrConnectionLost))
	c.closeDone()
}

// handleFrame decodes one frame and routes it. A malformed frame is logged
// and dropped; well-formed frames after it are unaffected.
func (c *Conn) handleFrame(frame []byte) {
	msg, err := wire.Decode(frame)
	if err != nil {
		c.log.Warn("Dropping malformed frame", "error", err)

		return
	}

	switch m := msg.(type) {
	case *wire.Response:
		if !c.pending.complete(m) {
			// Late response after a timeout, or a duplicate. Not fatal.
			c.log.Warn("No pending call for response", "request_id", m.ID)
		}

	case *wire.Event:
		scope := m.Scope()

		invoked := c.registry.dispatch(c.log, m.Topic, scope, m.Data)
		if invoked == 0 {
			c.log.Debug("Event with no registered handlers", "topic", m.Topic, "scope", scope)
		}

		c.notify(NotifyEventDispatched, map[string]any{
			"topic":    m.Topic,
			"scope":    scope,
			"handlers": invoked,
		})

	case *wire.Request:
		// The host never invokes methods on the client in this protocol.
		c.log.Warn("Dropping unexpected request from host", "method", m.Method)
	}
}
