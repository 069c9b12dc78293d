// Package pipe implements the framed transport over the extension's local
// IPC socket.
//
// Frames are newline-delimited: one line, one message. The reader never
// assumes one socket read yields one frame; the writer appends the delimiter
// and serializes concurrent senders so frames are never interleaved mid-frame.
package pipe

import (
	"bufio"
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vscode-sockpuppet/sockpuppet-go/internal/config"
	"github.com/vscode-sockpuppet/sockpuppet-go/internal/errors"
)

const (
	// maxFrameSize is the scanner buffer cap for inbound frames. Document
	// payloads can be large; 1MB matches what the extension will send.
	maxFrameSize = 1024 * 1024

	// dialRetryInterval is the pause between dial attempts while waiting for
	// the extension's socket to appear.
	dialRetryInterval = 100 * time.Millisecond
)

// Transport dials the Sockpuppet extension's socket and frames messages on it.
type Transport struct {
	log         *slog.Logger
	network     string
	address     string
	dialTimeout time.Duration

	mu      sync.Mutex // guards conn and closing
	writeMu sync.Mutex // serializes Send so frames never interleave
	conn    net.Conn
	closing bool
}

// Compile-time verification that Transport implements the transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates an unconnected transport for the given endpoint.
// Call Start to dial.
func New(log *slog.Logger, network, address string, dialTimeout time.Duration) *Transport {
	return &Transport{
		log:         log.With("component", "pipe_transport"),
		network:     network,
		address:     address,
		dialTimeout: dialTimeout,
	}
}

// NewConn wraps an already established connection. Used by tests and by
// callers that dial through their own channel (e.g. an SSH forward).
func NewConn(log *slog.Logger, conn net.Conn) *Transport {
	return &Transport{
		log:  log.With("component", "pipe_transport"),
		conn: conn,
	}
}

// Start dials the endpoint.
//
// The extension may not be listening yet when the client starts, so dialing
// retries until the dial timeout elapses. Returns *errors.ConnectionError if
// no connection could be established.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	t.log.Info("Dialing host socket", "network", t.network, "address", t.address)

	deadline := time.Now().Add(t.dialTimeout)
	dialer := net.Dialer{}

	var lastErr error

	for {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		conn, err := dialer.DialContext(attemptCtx, t.network, t.address)

		cancel()

		if err == nil {
			t.conn = conn
			t.log.Info("Connected to host socket", "address", t.address)

			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return &errors.ConnectionError{Endpoint: t.address, Err: ctx.Err()}
		}

		if time.Now().After(deadline) {
			break
		}

		t.log.Debug("Dial attempt failed, retrying", "error", err)

		select {
		case <-time.After(dialRetryInterval):
		case <-ctx.Done():
			return &errors.ConnectionError{Endpoint: t.address, Err: ctx.Err()}
		}
	}

	t.log.Error("Failed to connect to host socket", "address", t.address, "error", lastErr)

	return &errors.ConnectionError{Endpoint: t.address, Err: lastErr}
}

// ReadFrames reads newline-delimited frames from the socket.
//
// It starts a goroutine that scans the connection and sends each complete
// frame to the frames channel. The goroutine exits and closes both channels
// when the peer closes the connection, the context is cancelled, or a read
// error occurs. A graceful peer close ends the frame channel without an
// error; abnormal failures are sent to the error channel first.
func (t *Transport) ReadFrames(ctx context.Context) (<-chan []byte, <-chan error) {
	frames := make(chan []byte)
	errs := make(chan error, 1)

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	go func() {
		defer close(frames)
		defer close(errs)
		defer t.log.Debug("ReadFrames goroutine stopped")

		if conn == nil {
			errs <- errors.ErrNotConnected

			return
		}

		scanner := bufio.NewScanner(conn)
		buf := make([]byte, maxFrameSize)
		scanner.Buffer(buf, maxFrameSize)

		frameCount := 0

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			// Scanner reuses its buffer across Scan calls; hand out a copy.
			frame := make([]byte, len(line))
			copy(frame, line)

			frameCount++
			t.log.Debug("Received frame", "frame_count", frameCount, "frame_len", len(frame))

			select {
			case frames <- frame:
			case <-ctx.Done():
				t.log.Debug("Context cancelled during frame delivery", "error", ctx.Err())

				errs <- ctx.Err()

				return
			}
		}

		if err := scanner.Err(); err != nil {
			t.mu.Lock()
			isClosing := t.closing
			t.mu.Unlock()

			if isClosing || stderrors.Is(err, net.ErrClosed) {
				t.log.Debug("Socket closed during shutdown")

				return
			}

			t.log.Error("Read error on host socket", "error", err)

			errs <- &errors.TransportError{Op: "read", Err: err}

			return
		}

		// Scanner ended without error: the peer closed the stream.
		t.log.Info("Host closed the connection")
	}()

	return frames, errs
}

// Send writes one frame to the socket, appending the newline delimiter.
//
// Safe for concurrent use; a dedicated write mutex serializes writers so
// frames from different goroutines are never interleaved. The state mutex is
// not held across the write, so Close can interrupt a Send blocked on a full
// socket buffer. Context deadlines are applied as socket write deadlines.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	conn, closing := t.conn, t.closing
	t.mu.Unlock()

	if conn == nil || closing {
		return errors.ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}

	// Build the delimited frame without mutating the caller's slice.
	out := make([]byte, len(frame)+1)
	copy(out, frame)
	out[len(frame)] = '\n'

	if _, err := conn.Write(out); err != nil {
		t.mu.Lock()
		isClosing := t.closing
		t.mu.Unlock()

		if isClosing || stderrors.Is(err, net.ErrClosed) {
			return errors.ErrNotConnected
		}

		t.log.Error("Failed to write frame", "error", err)

		return &errors.TransportError{Op: "write", Err: err}
	}

	t.log.Debug("Frame sent", "frame_len", len(frame))

	return nil
}

// Close shuts the socket down, interrupting any Send blocked on the write.
// Safe to call multiple times.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return nil
	}

	t.closing = true

	if t.conn == nil {
		return nil
	}

	t.log.Debug("Closing host socket")

	if err := t.conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		return &errors.TransportError{Op: "close", Err: err}
	}

	return nil
}
